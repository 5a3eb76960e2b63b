// Package retention removes old run directories.
//
// Deletion is best-effort throughout: individual removal failures are
// logged and skipped, never aborting the sweep.
package retention

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/workspace"
)

// Report counts what a sweep removed.
type Report struct {
	RemovedRuns  int `json:"removed_runs"`
	RemovedFiles int `json:"removed_files"`
}

// Sweep removes run directories under the session root whose last-modified
// time precedes now − maxAge.
func Sweep(sessionRoot string, maxAge time.Duration, logger *zap.Logger) Report {
	cutoff := time.Now().Add(-maxAge)
	return removeRuns(sessionRoot, logger, func(info fs.FileInfo) bool {
		return info.ModTime().Before(cutoff)
	})
}

// PurgeAll removes every run directory under the session root.
func PurgeAll(sessionRoot string, logger *zap.Logger) Report {
	return removeRuns(sessionRoot, logger, func(fs.FileInfo) bool { return true })
}

func removeRuns(sessionRoot string, logger *zap.Logger, old func(fs.FileInfo) bool) Report {
	var rep Report
	runsDir := filepath.Join(sessionRoot, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return rep
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !old(info) {
			continue
		}
		dir := filepath.Join(runsDir, e.Name())
		files := countFiles(dir)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove run dir", zap.String("dir", dir), zap.Error(err))
			continue
		}
		rep.RemovedRuns++
		rep.RemovedFiles += files
	}
	return rep
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

// Sweeper runs scheduled age-based sweeps across every session.
type Sweeper struct {
	cron   *cron.Cron
	mgr    *workspace.Manager
	maxAge time.Duration
	logger *zap.Logger
}

// NewSweeper builds a Sweeper on the given cron schedule expression.
func NewSweeper(schedule string, mgr *workspace.Manager, maxAge time.Duration, logger *zap.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(),
		mgr:    mgr,
		maxAge: maxAge,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweepAll); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins scheduled sweeps.
func (s *Sweeper) Start() {
	s.logger.Info("retention sweeper started", zap.Duration("max_age", s.maxAge))
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweepAll() {
	ids, err := s.mgr.Sessions()
	if err != nil {
		s.logger.Warn("retention sweep could not list sessions", zap.Error(err))
		return
	}
	for _, id := range ids {
		ws, err := s.mgr.Session(id)
		if err != nil {
			continue
		}
		rep := Sweep(ws.Root(), s.maxAge, s.logger)
		if rep.RemovedRuns > 0 {
			s.logger.Info("retention sweep",
				zap.String("session_id", id),
				zap.Int("removed_runs", rep.RemovedRuns),
				zap.Int("removed_files", rep.RemovedFiles))
		}
	}
}
