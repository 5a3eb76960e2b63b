// Package workspace confines all engine file access to a session-scoped
// directory tree.
//
// A Dir is the capability granted to the engine for one session: SafePath
// resolves a relative path and rejects anything that escapes the granted
// root, and Stat produces file metadata for artifact records.
//
// Usage:
//
//	mgr, err := workspace.NewManager("./data")
//	ws, err := mgr.Session("sess-1")
//	abs, err := ws.SafePath("runs/xyz/result.json")
package workspace

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/isdmx/scriptbox/run"
)

// ErrAccessDenied marks a path that resolves outside the granted root.
var ErrAccessDenied = fmt.Errorf("access denied: path escapes workspace root")

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Manager owns the top-level data root and hands out per-session Dirs.
type Manager struct {
	root string
}

// NewManager creates the data root if needed and returns a Manager bound to
// its absolute path.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Session returns the Dir for a session, creating its directory on first
// use. Session identifiers that could influence the path shape are refused.
func (m *Manager) Session(id string) (*Dir, error) {
	if !sessionIDRe.MatchString(id) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid session id: %q", id)
	}
	root := filepath.Join(m.root, "sessions", id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}
	return &Dir{root: root}, nil
}

// Sessions lists the ids of every session that has a directory.
func (m *Manager) Sessions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, "sessions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Dir is the session-scoped workspace capability.
type Dir struct {
	root string
}

// Root returns the absolute session root.
func (d *Dir) Root() string {
	return d.root
}

// SafePath resolves rel against the session root. Absolute inputs and any
// form of parent traversal fail with ErrAccessDenied.
func (d *Dir) SafePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", ErrAccessDenied
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	abs := filepath.Join(d.root, clean)
	if abs != d.root && !strings.HasPrefix(abs, d.root+string(filepath.Separator)) {
		return "", ErrAccessDenied
	}
	return abs, nil
}

// Stat returns FileMeta for a confined relative path. The mime type is a
// best-effort guess from the extension.
func (d *Dir) Stat(rel string) (run.FileMeta, error) {
	abs, err := d.SafePath(rel)
	if err != nil {
		return run.FileMeta{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return run.FileMeta{}, err
	}
	return run.FileMeta{
		Path:       filepath.ToSlash(rel),
		SizeBytes:  info.Size(),
		ModifiedAt: info.ModTime().UTC(),
		MimeType:   mime.TypeByExtension(filepath.Ext(rel)),
	}, nil
}
