// Package ledger persists the durable record of runs for one session.
//
// Layout, relative to the session root:
//
//	runs/<run_id>/result.json    full Run document, written once
//	runs/<run_id>/attempts.jsonl one line per Attempt, appended as produced
//	runs/runs.jsonl              per-session index, append-only
//
// Attempts are appended as they happen so partial progress survives a crash
// mid-loop. Index appends are serialized through the Ledger's mutex; the
// engine keeps one Ledger per session, so in-process writers never
// interleave. Cross-process coordination is out of scope.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/run"
	"github.com/isdmx/scriptbox/workspace"
)

const (
	runsDirName   = "runs"
	resultName    = "result.json"
	attemptsName  = "attempts.jsonl"
	indexName     = "runs.jsonl"
	dirPermission = 0o755
)

// Ledger writes and reads one session's run records through the session's
// workspace capability.
type Ledger struct {
	ws     *workspace.Dir
	logger *zap.Logger

	mu sync.Mutex // serializes index appends and truncation
}

// New creates a Ledger over a session workspace.
func New(ws *workspace.Dir, logger *zap.Logger) *Ledger {
	return &Ledger{ws: ws, logger: logger}
}

// RunDir resolves and creates the directory for a run.
func (l *Ledger) RunDir(runID string) (string, error) {
	dir, err := l.ws.SafePath(filepath.Join(runsDirName, runID))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPermission); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	return dir, nil
}

// AppendAttempt writes one attempt line to the run's attempts log.
func (l *Ledger) AppendAttempt(runID string, a run.Attempt) error {
	path, err := l.ws.SafePath(filepath.Join(runsDirName, runID, attemptsName))
	if err != nil {
		return err
	}
	return appendLine(path, a)
}

// WriteResult persists the terminal Run document. The Run is immutable
// after this point.
func (l *Ledger) WriteResult(r *run.Run) error {
	path, err := l.ws.SafePath(filepath.Join(runsDirName, r.RunID, resultName))
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// AppendIndex adds one summary line to the per-session index.
func (l *Ledger) AppendIndex(s run.Summary) error {
	path, err := l.indexPath()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(path, s)
}

// List returns at most limit summaries, most recent runs selected, ordered
// ascending by start time regardless of how the index file is ordered.
// Malformed index lines are skipped.
func (l *Ledger) List(limit int) ([]run.Summary, error) {
	path, err := l.indexPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []run.Summary{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var items []run.Summary
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s run.Summary
		if err := json.Unmarshal(line, &s); err != nil {
			l.logger.Warn("skipping malformed index line", zap.Error(err))
			continue
		}
		items = append(items, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].StartedAt.Before(items[j].StartedAt)
	})
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	if items == nil {
		items = []run.Summary{}
	}
	return items, nil
}

// TruncateIndex empties the index; used by full-purge cleanup.
func (l *Ledger) TruncateIndex() error {
	path, err := l.indexPath()
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return os.WriteFile(path, nil, 0o644)
}

func (l *Ledger) indexPath() (string, error) {
	path, err := l.ws.SafePath(filepath.Join(runsDirName, indexName))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPermission); err != nil {
		return "", err
	}
	return path, nil
}

func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}
