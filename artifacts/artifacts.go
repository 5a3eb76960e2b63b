// Package artifacts tracks the files guest code leaves behind in a run
// directory.
//
// A Snapshot records size and mtime for every regular file under the run
// directory; diffing a before/after pair yields the created and modified
// paths, sorted for determinism.
package artifacts

import (
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// Stamp is the change-detection fingerprint of one file.
type Stamp struct {
	Size    int64
	ModTime time.Time
}

// Snapshot maps slash-separated relative paths to their stamps.
type Snapshot map[string]Stamp

// Capture walks root and records every regular file. Names in exclude are
// skipped at the root only; the engine uses this to keep its own bookkeeping
// files (source, result.json, attempts.jsonl) out of the diff while a guest
// remains free to create files of the same name in subdirectories.
func Capture(root string, exclude ...string) (Snapshot, error) {
	skip := map[string]bool{}
	for _, name := range exclude {
		skip[name] = true
	}
	snap := Snapshot{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip[rel] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		snap[rel] = Stamp{Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Diff returns every path present only in after, plus every path whose size
// or mtime changed, sorted by path.
func Diff(before, after Snapshot) []string {
	var changed []string
	for path, stamp := range after {
		prev, existed := before[path]
		if !existed || prev.Size != stamp.Size || !prev.ModTime.Equal(stamp.ModTime) {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}
