// Package runner executes tasks as subprocesses. Each execution gets a fresh
// run directory, both output streams captured into the run log, and a Run
// record describing how it ended.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/pempem98/inventory-scanner/internal/log"
	"github.com/pempem98/inventory-scanner/internal/metrics"
	"github.com/pempem98/inventory-scanner/internal/runlog"
)

// Task is a named unit of work delegated to an external executable. Tasks
// are defined at configuration time and immutable during a run.
type Task struct {
	Name string   `mapstructure:"name"`
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
	Env  []string `mapstructure:"env"`
	// WorkDir is where the task process runs and where its transient
	// artifacts are collected from. Empty means the current directory.
	WorkDir string `mapstructure:"workdir"`
	// Artifacts are files the task writes on its own (e.g. runtime.log),
	// moved into the run directory after a successful exit.
	Artifacts []string `mapstructure:"artifacts"`
	// Cron and Every are mutually exclusive cadence declarations.
	Cron  string `mapstructure:"cron"`
	Every string `mapstructure:"every"`
	// Timeout kills the task process when exceeded. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Run is one execution instance of a Task. It is immutable once returned.
type Run struct {
	ID       string
	Task     string
	Dir      string
	LogPath  string
	Started  time.Time
	Stopped  time.Time
	ExitCode int
}

// TaskError identifies which task failed and where its captured output
// lives.
type TaskError struct {
	Task    string
	LogPath string
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed (log: %s): %v", e.Task, e.LogPath, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Notifier reports terminal task failures to the operator channel.
type Notifier interface {
	NotifyFailure(ctx context.Context, task, logPath string, err error) error
}

type Runner struct {
	logsRoot string
	notifier Notifier
}

func New(logsRoot string, notifier Notifier) *Runner {
	return &Runner{logsRoot: logsRoot, notifier: notifier}
}

// Run executes one task. The run directory is created synchronously before
// the process starts, so two runs can never share a directory even when
// scheduled within the same second. The returned error is a *TaskError on
// non-zero exit.
func (r *Runner) Run(ctx context.Context, task Task) (Run, error) {
	dir, err := runlog.Create(r.logsRoot, time.Now())
	if err != nil {
		return Run{}, fmt.Errorf("preparing run for %s: %w", task.Name, err)
	}

	ctx = log.ContextAttrs(ctx,
		slog.String("task", task.Name),
		slog.String("run_id", dir.ID()),
	)
	run := Run{
		ID:      dir.ID(),
		Task:    task.Name,
		Dir:     dir.Path(),
		LogPath: dir.LogPath(),
	}

	logFile, err := dir.LogWriter()
	if err != nil {
		return run, fmt.Errorf("opening log for %s: %w", task.Name, err)
	}
	defer func() {
		_ = logFile.Close()
	}()

	var cancel context.CancelFunc
	if task.Timeout == 0 {
		slog.WarnContext(ctx, "task has no timeout", "path", task.Path)
	} else {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, task.Path, task.Args...)
	cmd.Env = append(os.Environ(), task.Env...)
	cmd.Dir = task.WorkDir
	// Both streams share one file descriptor so output interleaves in
	// emission order and capture survives the caller, not just the shell.
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	run.Started = time.Now().UTC()
	slog.InfoContext(ctx, "task starting", "path", task.Path, "dir", run.Dir)
	err = cmd.Run()
	run.Stopped = time.Now().UTC()
	metrics.TaskDuration.WithLabelValues(task.Name).Observe(run.Stopped.Sub(run.Started).Seconds())

	if cmd.ProcessState != nil {
		run.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		metrics.TaskRuns.WithLabelValues(task.Name, "failure").Inc()
		taskErr := &TaskError{Task: task.Name, LogPath: run.LogPath, Err: err}
		slog.ErrorContext(ctx, "task failed", "exit_code", run.ExitCode, "error", err)
		r.notifyFailure(ctx, taskErr)
		return run, taskErr
	}

	workDir := task.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if err := dir.CollectArtifacts(workDir, task.Artifacts...); err != nil {
		slog.WarnContext(ctx, "collecting artifacts failed", "error", err)
	}

	metrics.TaskRuns.WithLabelValues(task.Name, "success").Inc()
	slog.InfoContext(ctx, "task succeeded", "duration", run.Stopped.Sub(run.Started).String())
	return run, nil
}

// RunChain executes tasks strictly in order and stops at the first failure;
// later tasks are never attempted once an earlier one has failed. The runs
// that did execute are always returned.
func (r *Runner) RunChain(ctx context.Context, tasks []Task) ([]Run, error) {
	runs := make([]Run, 0, len(tasks))
	for _, task := range tasks {
		run, err := r.Run(ctx, task)
		runs = append(runs, run)
		if err != nil {
			return runs, fmt.Errorf("chain aborted: %w", err)
		}
	}
	return runs, nil
}

func (r *Runner) notifyFailure(ctx context.Context, taskErr *TaskError) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.NotifyFailure(ctx, taskErr.Task, taskErr.LogPath, taskErr.Err); err != nil {
		slog.ErrorContext(ctx, "failure notification not delivered", "error", err)
	}
}
