// Package supervisor manages the long-lived background processes of the
// deployment (the celery-style worker and beat). Start is idempotent: a
// process already recorded as running is never spawned twice. Liveness is
// checked against the recorded pid, never inferred from lock-file existence
// alone.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pempem98/inventory-scanner/internal/metrics"
	"github.com/pempem98/inventory-scanner/internal/proclock"
)

// Status is the outcome of a supervisor operation. Already-running and
// not-running are expected idempotent outcomes, not errors.
type Status string

const (
	StatusStarted        Status = "started"
	StatusAlreadyRunning Status = "already running"
	StatusStopped        Status = "stopped"
	StatusNotRunning     Status = "not running"
)

// Command describes how to launch a supervised process.
type Command struct {
	Path string
	Args []string
	Env  []string
}

type Options struct {
	// StopTimeout bounds how long Stop waits for the signalled process to
	// exit before giving up and reporting it.
	StopTimeout time.Duration
	// SettleDelay is the pause Restart inserts between Stop and Start so
	// the old process can release shared resources (sockets, db cursors).
	SettleDelay time.Duration
}

type Supervisor struct {
	locks       *proclock.Store
	logsRoot    string
	stopTimeout time.Duration
	settleDelay time.Duration
}

func New(locks *proclock.Store, logsRoot string, opts Options) *Supervisor {
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = 2 * time.Second
	}
	return &Supervisor{
		locks:       locks,
		logsRoot:    logsRoot,
		stopTimeout: opts.StopTimeout,
		settleDelay: opts.SettleDelay,
	}
}

// Start spawns the named process in the background unless a valid lock
// record already points at a live pid. A stale record (dead pid) counts as
// absence and is replaced. The lock store serializes concurrent starts, so
// two callers can never both observe "not running" and double-spawn.
func (s *Supervisor) Start(ctx context.Context, name string, cmd Command) (Status, error) {
	// Reserve the record with our own pid first; the child pid replaces it
	// after a successful spawn.
	rec, err := s.locks.Acquire(name, os.Getpid())
	if errors.Is(err, proclock.ErrHeld) {
		slog.InfoContext(ctx, "process already running", "process", name, "pid", rec.PID)
		metrics.SupervisorOps.WithLabelValues(name, "start", string(StatusAlreadyRunning)).Inc()
		return StatusAlreadyRunning, nil
	}
	if err != nil {
		return "", fmt.Errorf("acquiring lock for %s: %w", name, err)
	}

	logFile, err := s.openProcessLog(name)
	if err != nil {
		_ = s.locks.Release(name)
		return "", err
	}

	proc := exec.Command(cmd.Path, cmd.Args...)
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Stdout = logFile
	proc.Stderr = logFile
	// Own session: the process must outlive the invoking CLI call.
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := proc.Start(); err != nil {
		_ = logFile.Close()
		_ = s.locks.Release(name)
		metrics.SupervisorOps.WithLabelValues(name, "start", "error").Inc()
		return "", fmt.Errorf("spawning %s: %w", name, err)
	}
	_ = logFile.Close()

	if err := s.locks.Set(name, proc.Process.Pid); err != nil {
		return "", fmt.Errorf("recording pid for %s: %w", name, err)
	}

	// Reap the child if we stay alive longer than it does. The lock record
	// deliberately stays behind; stale-pid detection reclaims it.
	go func() {
		_ = proc.Wait()
	}()

	slog.InfoContext(ctx, "process started", "process", name, "pid", proc.Process.Pid)
	metrics.SupervisorOps.WithLabelValues(name, "start", string(StatusStarted)).Inc()
	return StatusStarted, nil
}

// Stop signals the named process with SIGTERM and removes its lock record.
// A missing or stale record yields StatusNotRunning, not an error. After
// signalling, Stop waits for the process to exit up to StopTimeout; hitting
// the deadline is logged and reported via the returned status so callers
// know the exit was not confirmed.
func (s *Supervisor) Stop(ctx context.Context, name string) (Status, error) {
	rec, ok := s.locks.Get(name)
	if !ok {
		metrics.SupervisorOps.WithLabelValues(name, "stop", string(StatusNotRunning)).Inc()
		return StatusNotRunning, nil
	}
	if !proclock.Alive(rec.PID) {
		if err := s.locks.Release(name); err != nil {
			return "", err
		}
		slog.InfoContext(ctx, "removed stale record", "process", name, "pid", rec.PID)
		metrics.SupervisorOps.WithLabelValues(name, "stop", string(StatusNotRunning)).Inc()
		return StatusNotRunning, nil
	}

	if err := syscall.Kill(rec.PID, syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("signalling %s (pid %d): %w", name, rec.PID, err)
	}
	if err := s.locks.Release(name); err != nil {
		return "", err
	}

	if !s.awaitExit(ctx, rec.PID) {
		slog.WarnContext(ctx, "process did not exit before deadline", "process", name, "pid", rec.PID, "timeout", s.stopTimeout.String())
	}

	slog.InfoContext(ctx, "process stopped", "process", name, "pid", rec.PID)
	metrics.SupervisorOps.WithLabelValues(name, "stop", string(StatusStopped)).Inc()
	return StatusStopped, nil
}

// Restart stops the process, lets it settle, then starts it again.
func (s *Supervisor) Restart(ctx context.Context, name string, cmd Command) (Status, error) {
	if _, err := s.Stop(ctx, name); err != nil {
		return "", err
	}

	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return s.Start(ctx, name, cmd)
}

func (s *Supervisor) awaitExit(ctx context.Context, pid int) bool {
	deadline := time.Now().Add(s.stopTimeout)
	for time.Now().Before(deadline) {
		if !proclock.Alive(pid) {
			return true
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}
	return !proclock.Alive(pid)
}

// openProcessLog opens the per-process capture file in append mode. Output
// across restarts accumulates; nothing ever truncates prior content.
func (s *Supervisor) openProcessLog(name string) (*os.File, error) {
	if err := os.MkdirAll(s.logsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs root: %w", err)
	}
	path := filepath.Join(s.logsRoot, name+".log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening process log: %w", err)
	}
	return f, nil
}
