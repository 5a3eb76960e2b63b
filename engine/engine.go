// Package engine drives the full lifecycle of one script execution: static
// validation, dependency resolution, sandboxed execution, artifact diffing,
// the bounded auto-correct retry loop, and durable persistence.
//
// Execute is synchronous-blocking per invocation and never returns an error
// for the normal failure taxonomy — syntax errors, blocked source, missing
// dependencies, runtime errors, and timeouts all come back as a fully
// populated Run with a terminal status. A non-nil error means
// infrastructure failed (the run directory could not be created, the
// process could not be spawned, the result could not be persisted).
//
// Usage:
//
//	eng := engine.New(cfg, logger, reg, validator, executor, fixers, mgr, notifier)
//	r, err := eng.Execute(ctx, engine.ExecuteParams{
//	    SessionID:      "sess-1",
//	    Source:         "print('hi')",
//	    TimeoutSeconds: 30,
//	    AutoCorrect:    true,
//	    MaxAttempts:    3,
//	})
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/artifacts"
	"github.com/isdmx/scriptbox/autocorrect"
	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/events"
	"github.com/isdmx/scriptbox/guest"
	"github.com/isdmx/scriptbox/ledger"
	"github.com/isdmx/scriptbox/metrics"
	"github.com/isdmx/scriptbox/retention"
	"github.com/isdmx/scriptbox/run"
	"github.com/isdmx/scriptbox/sandbox"
	"github.com/isdmx/scriptbox/validate"
	"github.com/isdmx/scriptbox/workspace"
)

// Names of the files the engine itself writes into a run directory; they
// are excluded from artifact diffs.
const (
	resultFileName   = "result.json"
	attemptsFileName = "attempts.jsonl"
)

// ExecuteParams are the per-invocation parameters of Execute. Language
// falls back to the configured default when empty; TimeoutSeconds and
// MaxAttempts are clamped to their documented bounds, so out-of-range
// values (including zero) are legal.
type ExecuteParams struct {
	SessionID      string
	Source         string
	Language       string
	TimeoutSeconds int
	AutoCorrect    bool
	MaxAttempts    int
}

// Engine owns the attempt state machine and the per-session ledgers.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  guest.Registry
	validator *validate.Validator
	executor  *sandbox.Executor
	fixers    autocorrect.Chain
	mgr       *workspace.Manager
	notifier  events.Notifier

	mu       sync.Mutex
	sessions map[string]*session
}

// session bundles the workspace capability and ledger for one session, so
// index appends within a session always go through the same mutex.
type session struct {
	ws  *workspace.Dir
	led *ledger.Ledger
}

// New assembles the engine from its collaborators.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	registry guest.Registry,
	validator *validate.Validator,
	executor *sandbox.Executor,
	fixers autocorrect.Chain,
	mgr *workspace.Manager,
	notifier events.Notifier,
) *Engine {
	return &Engine{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		validator: validator,
		executor:  executor,
		fixers:    fixers,
		mgr:       mgr,
		notifier:  notifier,
		sessions:  map[string]*session{},
	}
}

func (e *Engine) session(id string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s, nil
	}
	ws, err := e.mgr.Session(id)
	if err != nil {
		return nil, err
	}
	s := &session{ws: ws, led: ledger.New(ws, e.logger)}
	e.sessions[id] = s
	return s, nil
}

// Execute runs one script through the retry loop and persists the outcome.
// The returned Run is terminal and will never be mutated again.
func (e *Engine) Execute(ctx context.Context, p ExecuteParams) (*run.Run, error) {
	langName := p.Language
	if langName == "" {
		langName = e.cfg.Engine.DefaultLanguage
	}
	lang, err := e.registry.Lookup(langName)
	if err != nil {
		return nil, err
	}
	sess, err := e.session(p.SessionID)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(config.ClampTimeoutSec(p.TimeoutSeconds)) * time.Second
	budget := config.ClampAttempts(p.MaxAttempts)

	r := &run.Run{
		RunID:        run.NewID(),
		SessionID:    p.SessionID,
		StartedAt:    time.Now().UTC(),
		CreatedFiles: []run.FileMeta{},
	}
	runDir, err := sess.led.RunDir(r.RunID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("run started",
		zap.String("run_id", r.RunID),
		zap.String("session_id", p.SessionID),
		zap.String("language", lang.Name),
		zap.Duration("timeout", timeout),
		zap.Int("max_attempts", budget),
		zap.Bool("auto_correct", p.AutoCorrect))

	source := p.Source
loop:
	for attempt := 1; ; attempt++ {
		vr := e.validator.Check(lang, source)
		r.Validation = &vr
		if !vr.OK {
			e.appendAttempt(sess, r, rejectionAttempt(attempt, vr.Status, source, strings.Join(vr.Reasons, "\n")))
			break
		}

		missing, err := lang.Resolver.Missing(ctx, vr.Imports)
		if err != nil {
			return nil, fmt.Errorf("dependency resolution: %w", err)
		}
		if len(missing) > 0 {
			reason := "unresolvable imports: " + strings.Join(missing, ", ")
			e.appendAttempt(sess, r, rejectionAttempt(attempt, run.StatusDepsMissing, source, reason))
			break
		}

		srcPath := filepath.Join(runDir, lang.FileName())
		if err := os.WriteFile(srcPath, []byte(source), 0o644); err != nil {
			return nil, fmt.Errorf("writing source: %w", err)
		}
		before, err := artifacts.Capture(runDir, lang.FileName(), resultFileName, attemptsFileName)
		if err != nil {
			return nil, fmt.Errorf("snapshotting run dir: %w", err)
		}

		res, err := e.executor.Run(ctx, sandbox.Request{
			Dir:     runDir,
			Command: append(append([]string{}, lang.Command...), srcPath),
			Env: sandbox.BuildEnv(e.cfg.Sandbox.EnvAllowlist, map[string]string{
				"SCRIPTBOX_SESSION_ID": p.SessionID,
				"SCRIPTBOX_RUN_ID":     r.RunID,
				"SCRIPTBOX_OUTPUT_DIR": runDir,
			}),
			Timeout: timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sandbox execution: %w", err)
		}
		r.ExecutionTimeSeconds += res.Elapsed.Seconds()

		a := run.Attempt{
			Attempt:              attempt,
			CodeSHA256:           run.SHA256Hex(source),
			CodePreview:          run.Preview(source),
			Stdout:               run.Truncate(res.Stdout, run.MaxOutputBytes),
			Stderr:               run.Truncate(res.Stderr, run.MaxOutputBytes),
			ExecutionTimeSeconds: res.Elapsed.Seconds(),
		}

		switch {
		case res.TimedOut:
			// Timeouts are terminal regardless of remaining budget.
			a.Status = run.StatusTimeout
			e.appendAttempt(sess, r, a)
			break loop

		case res.ExitCode == 0:
			a.Status = run.StatusOK
			after, err := artifacts.Capture(runDir, lang.FileName(), resultFileName, attemptsFileName)
			if err != nil {
				return nil, fmt.Errorf("snapshotting run dir: %w", err)
			}
			for _, path := range artifacts.Diff(before, after) {
				meta, err := sess.ws.Stat(filepath.Join("runs", r.RunID, path))
				if err != nil {
					e.logger.Warn("failed to stat created file", zap.String("path", path), zap.Error(err))
					continue
				}
				meta.Path = path
				r.CreatedFiles = append(r.CreatedFiles, meta)
			}
			e.appendAttempt(sess, r, a)
			break loop

		default:
			a.Status = run.StatusError
			a.Error = lang.ParseError(res.Stderr)
			if !p.AutoCorrect || attempt >= budget {
				e.appendAttempt(sess, r, a)
				break loop
			}
			fixed, method, ok := e.fixers.Fix(ctx, a.Error, source)
			if !ok {
				e.appendAttempt(sess, r, a)
				break loop
			}
			a.AutoCorrect = &run.AutoCorrect{Applied: true, Method: method}
			metrics.AutoCorrectTotal.WithLabelValues(method).Inc()
			if !e.fixIsRunnable(ctx, lang, fixed) {
				// Do not spend another execution attempt on code that
				// cannot even validate.
				e.appendAttempt(sess, r, a)
				break loop
			}
			e.appendAttempt(sess, r, a)
			source = fixed
		}
	}

	last := r.Attempts[len(r.Attempts)-1]
	r.Status = last.Status
	r.Stdout = last.Stdout
	r.Stderr = last.Stderr

	if err := sess.led.WriteResult(r); err != nil {
		return nil, fmt.Errorf("persisting run: %w", err)
	}
	if err := sess.led.AppendIndex(r.Summary()); err != nil {
		e.logger.Warn("failed to append run index", zap.String("run_id", r.RunID), zap.Error(err))
	}

	metrics.RunsTotal.WithLabelValues(string(r.Status)).Inc()
	metrics.ExecutionSeconds.Observe(r.ExecutionTimeSeconds)
	e.notifyCreated(p.SessionID, r.CreatedFiles)

	e.logger.Info("run finished",
		zap.String("run_id", r.RunID),
		zap.String("status", string(r.Status)),
		zap.Int("attempts", len(r.Attempts)),
		zap.Float64("execution_seconds", r.ExecutionTimeSeconds),
		zap.Int("created_files", len(r.CreatedFiles)))
	return r, nil
}

// fixIsRunnable re-validates a proposed fix and re-checks its dependencies
// before the loop spends an execution attempt on it.
func (e *Engine) fixIsRunnable(ctx context.Context, lang *guest.Language, fixed string) bool {
	vr := e.validator.Check(lang, fixed)
	if !vr.OK {
		return false
	}
	missing, err := lang.Resolver.Missing(ctx, vr.Imports)
	return err == nil && len(missing) == 0
}

// rejectionAttempt is the synthetic record for a run rejected before any
// process spawn.
func rejectionAttempt(n int, status run.Status, source, reason string) run.Attempt {
	return run.Attempt{
		Attempt:     n,
		Status:      status,
		CodeSHA256:  run.SHA256Hex(source),
		CodePreview: run.Preview(source),
		Stderr:      run.Truncate(reason, run.MaxOutputBytes),
	}
}

// appendAttempt records the attempt in memory and on the append-only log.
// A log-append failure degrades durability of partial progress but does not
// fail the run; the terminal WriteResult still captures everything.
func (e *Engine) appendAttempt(sess *session, r *run.Run, a run.Attempt) {
	r.Attempts = append(r.Attempts, a)
	metrics.AttemptsTotal.Inc()
	if err := sess.led.AppendAttempt(r.RunID, a); err != nil {
		e.logger.Warn("failed to append attempt log",
			zap.String("run_id", r.RunID),
			zap.Int("attempt", a.Attempt),
			zap.Error(err))
	}
}

func (e *Engine) notifyCreated(sessionID string, files []run.FileMeta) {
	if len(files) == 0 {
		return
	}
	go func() {
		for _, meta := range files {
			e.notifier.ArtifactWritten(sessionID, meta)
		}
	}()
}

// ListRuns returns up to limit run summaries for the session in ascending
// chronological order.
func (e *Engine) ListRuns(sessionID string, limit int) ([]run.Summary, error) {
	sess, err := e.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.led.List(config.ClampListLimit(limit))
}

// Cleanup removes old run directories for the session, or all of them when
// removeAll is set (which also truncates the session index).
func (e *Engine) Cleanup(sessionID string, maxAgeHours int, removeAll bool) (retention.Report, error) {
	sess, err := e.session(sessionID)
	if err != nil {
		return retention.Report{}, err
	}
	if removeAll {
		rep := retention.PurgeAll(sess.ws.Root(), e.logger)
		if err := sess.led.TruncateIndex(); err != nil {
			e.logger.Warn("failed to truncate index", zap.String("session_id", sessionID), zap.Error(err))
		}
		return rep, nil
	}
	age := time.Duration(config.ClampAgeHours(maxAgeHours)) * time.Hour
	return retention.Sweep(sess.ws.Root(), age, e.logger), nil
}
