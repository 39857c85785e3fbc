package runner_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/pempem98/inventory-scanner/internal/runner"

	"github.com/stretchr/testify/require"
)

func shPath(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	return sh
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()
	sh := shPath(t)
	logsRoot := t.TempDir()
	work := t.TempDir()

	r := runner.New(logsRoot, nil)
	run, err := r.Run(t.Context(), runner.Task{
		Name:      "inventory-scan",
		Path:      sh,
		Args:      []string{"-c", "echo to stdout; echo to stderr 1>&2; echo transient > runtime.log"},
		WorkDir:   work,
		Artifacts: []string{"runtime.log"},
		Timeout:   10 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "inventory-scan", run.Task)
	require.Equal(t, 0, run.ExitCode)
	require.NotZero(t, run.Started)
	require.NotZero(t, run.Stopped)

	b, err := os.ReadFile(run.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(b), "to stdout")
	require.Contains(t, string(b), "to stderr")

	// Transient artifact moved into the run directory.
	require.NoFileExists(t, filepath.Join(work, "runtime.log"))
	require.FileExists(t, filepath.Join(run.Dir, "runtime.log"))
}

func TestRunFailure(t *testing.T) {
	t.Parallel()
	sh := shPath(t)
	r := runner.New(t.TempDir(), nil)

	run, err := r.Run(t.Context(), runner.Task{
		Name:    "broken",
		Path:    sh,
		Args:    []string{"-c", "echo boom 1>&2; exit 3"},
		Timeout: 10 * time.Second,
	})
	require.Error(t, err)
	require.Equal(t, 3, run.ExitCode)

	var taskErr *runner.TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "broken", taskErr.Task)
	require.Equal(t, run.LogPath, taskErr.LogPath)

	b, err := os.ReadFile(run.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(b), "boom")
}

func TestRunChainAbortsOnFailure(t *testing.T) {
	t.Parallel()
	sh := shPath(t)
	work := t.TempDir()
	r := runner.New(t.TempDir(), nil)

	mark := func(name string) runner.Task {
		return runner.Task{
			Name:    name,
			Path:    sh,
			Args:    []string{"-c", "touch " + name},
			WorkDir: work,
			Timeout: 10 * time.Second,
		}
	}
	fail := runner.Task{
		Name:    "task-b",
		Path:    sh,
		Args:    []string{"-c", "exit 1"},
		Timeout: 10 * time.Second,
	}

	runs, err := r.RunChain(t.Context(), []runner.Task{mark("task-a"), fail, mark("task-c")})
	require.Error(t, err)

	var taskErr *runner.TaskError
	require.ErrorAs(t, err, &taskErr)
	require.Equal(t, "task-b", taskErr.Task)
	require.NotEmpty(t, taskErr.LogPath)

	require.Len(t, runs, 2)
	require.FileExists(t, filepath.Join(work, "task-a"))
	require.NoFileExists(t, filepath.Join(work, "task-c"))
}

type recordingNotifier struct {
	task    string
	logPath string
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, task, logPath string, _ error) error {
	n.task = task
	n.logPath = logPath
	return nil
}

func TestRunReportsFailure(t *testing.T) {
	t.Parallel()
	sh := shPath(t)
	notifier := &recordingNotifier{}
	r := runner.New(t.TempDir(), notifier)

	run, err := r.Run(t.Context(), runner.Task{
		Name:    "reported",
		Path:    sh,
		Args:    []string{"-c", "exit 1"},
		Timeout: 10 * time.Second,
	})
	require.Error(t, err)
	require.Equal(t, "reported", notifier.task)
	require.Equal(t, run.LogPath, notifier.logPath)
}

func TestRunDirectoriesNeverShared(t *testing.T) {
	t.Parallel()
	sh := shPath(t)
	r := runner.New(t.TempDir(), nil)
	task := runner.Task{
		Name:    "quick",
		Path:    sh,
		Args:    []string{"-c", "true"},
		Timeout: 10 * time.Second,
	}

	seen := make(map[string]bool)
	for range 3 {
		run, err := r.Run(t.Context(), task)
		require.NoError(t, err)
		require.False(t, seen[run.Dir], "run directory reused: %s", run.Dir)
		seen[run.Dir] = true
	}
}
