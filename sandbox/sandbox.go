// Package sandbox spawns one isolated child process per execution attempt.
//
// Isolation is OS-level resource containment rather than containerization:
// the child gets a restricted allowlisted environment, CPU / address-space /
// file-size / descriptor rlimits, and its own process group so the entire
// tree can be killed atomically when the wall-clock timeout fires.
//
// Usage:
//
//	exec := sandbox.New(sandbox.DefaultPolicy(), logger)
//	res, err := exec.Run(ctx, sandbox.Request{
//	    Dir:     runDir,
//	    Command: []string{"python3", sourcePath},
//	    Timeout: 30 * time.Second,
//	})
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Policy is the set of resource limits applied to a child process. The
// zero value for any field disables that limit.
type Policy struct {
	CPUSeconds   uint64
	MemoryBytes  uint64
	FileSizeByte uint64
	OpenFiles    uint64
}

// DefaultPolicy mirrors the engine's documented defaults: 1.5 GiB of
// address space, 200 MiB output files, 256 descriptors. CPUSeconds is set
// per attempt from the timeout.
func DefaultPolicy() Policy {
	return Policy{
		MemoryBytes:  1536 * 1024 * 1024,
		FileSizeByte: 200 * 1024 * 1024,
		OpenFiles:    256,
	}
}

// Apply installs the limits on a started child via prlimit.
func (p Policy) Apply(pid int) error {
	set := func(resource int, value uint64) error {
		if value == 0 {
			return nil
		}
		lim := unix.Rlimit{Cur: value, Max: value}
		return unix.Prlimit(pid, resource, &lim, nil)
	}
	if err := set(unix.RLIMIT_CPU, p.CPUSeconds); err != nil {
		return fmt.Errorf("rlimit cpu: %w", err)
	}
	if err := set(unix.RLIMIT_AS, p.MemoryBytes); err != nil {
		return fmt.Errorf("rlimit as: %w", err)
	}
	if err := set(unix.RLIMIT_FSIZE, p.FileSizeByte); err != nil {
		return fmt.Errorf("rlimit fsize: %w", err)
	}
	if err := set(unix.RLIMIT_NOFILE, p.OpenFiles); err != nil {
		return fmt.Errorf("rlimit nofile: %w", err)
	}
	return nil
}

// Request describes one attempt's child process. The source file must
// already exist on disk; Command is the full argv including the source path.
type Request struct {
	Dir     string
	Command []string
	Env     []string
	Timeout time.Duration
}

// Result is the captured outcome of one child process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

// Output buffers are bounded so a spewing child cannot exhaust memory;
// records are truncated further before persistence.
const maxBufferedOutput = 1024 * 1024

// Executor runs child processes under a fixed Policy. It is stateless and
// safe for concurrent use; each Run gets its own process group.
type Executor struct {
	policy Policy
	logger *zap.Logger
}

// New creates an Executor.
func New(policy Policy, logger *zap.Logger) *Executor {
	return &Executor{policy: policy, logger: logger}
}

// Run spawns the child and waits for natural exit or the timeout. Once the
// child is started the only cancellation path is the timeout; a non-nil
// error means the process could not be spawned at all.
func (e *Executor) Run(ctx context.Context, req Request) (Result, error) {
	if len(req.Command) == 0 {
		return Result{}, fmt.Errorf("no command provided")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...) //nolint:gosec // argv is engine-built, not guest-controlled
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout := newCappedBuffer(maxBufferedOutput)
	stderr := newCappedBuffer(maxBufferedOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to spawn process: %w", err)
	}
	pid := cmd.Process.Pid

	policy := e.policy
	policy.CPUSeconds = uint64(req.Timeout/time.Second) + 1
	if err := policy.Apply(pid); err != nil {
		e.logger.Warn("failed to apply resource limits", zap.Int("pid", pid), zap.Error(err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-time.After(req.Timeout):
		timedOut = true
		// Kill the whole group, then drain the buffered output.
		if killErr := unix.Kill(-pid, unix.SIGKILL); killErr != nil {
			e.logger.Warn("failed to kill process group", zap.Int("pgid", pid), zap.Error(killErr))
		}
		<-done
	}
	elapsed := time.Since(start)

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		TimedOut: timedOut,
		Elapsed:  elapsed,
	}
	if timedOut {
		res.ExitCode = -1
		return res, nil
	}
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return Result{}, fmt.Errorf("failed to execute command: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// BuildEnv assembles the child environment: only allowlisted inherited
// variables survive, plus engine-injected metadata.
func BuildEnv(allow []string, extra map[string]string) []string {
	allowed := map[string]bool{}
	for _, name := range allow {
		allowed[name] = true
	}
	var env []string
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 && allowed[kv[:i]] {
			env = append(env, kv)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedBuffer discards writes past its cap while reporting success, so a
// runaway child never blocks on a full pipe.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remain := b.max - b.buf.Len(); remain > 0 {
		if len(p) > remain {
			b.buf.Write(p[:remain])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
