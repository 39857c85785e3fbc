package orchestrator_test

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pempem98/inventory-scanner/internal/config"
	"github.com/pempem98/inventory-scanner/internal/orchestrator"
	"github.com/pempem98/inventory-scanner/internal/retention"
	"github.com/pempem98/inventory-scanner/internal/runner"

	"github.com/stretchr/testify/require"
)

func taskFixture(name string) runner.Task {
	return runner.Task{
		Name:    name,
		Path:    "/bin/true",
		Cron:    "0 2 * * *",
		Timeout: time.Minute,
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Logs = t.TempDir()
	cfg.Paths.Backups = t.TempDir()
	cfg.Paths.PIDs = t.TempDir()
	cfg.Server.Addr = "127.0.0.1:0"
	return cfg
}

func TestUpServesHealthAndMetrics(t *testing.T) {
	t.Parallel()
	o, err := orchestrator.New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- o.Up(ctx)
	}()

	require.Eventually(t, func() bool {
		return o.BoundAddr() != ""
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + o.BoundAddr() + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get("http://" + o.BoundAddr() + "/metrics")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}

func TestPruneAllCoversBothRoots(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Retention.Days = 30
	o, err := orchestrator.New(cfg)
	require.NoError(t, err)

	old := time.Now().Add(-retention.Days(45))
	for _, root := range []string{cfg.Paths.Logs, cfg.Paths.Backups} {
		stale := filepath.Join(root, "20250101-000000")
		require.NoError(t, os.Mkdir(stale, 0o755))
		require.NoError(t, os.Chtimes(stale, old, old))
		fresh := filepath.Join(root, "20260830-000000")
		require.NoError(t, os.Mkdir(fresh, 0o755))
	}

	require.NoError(t, o.PruneAll(t.Context()))

	for _, root := range []string{cfg.Paths.Logs, cfg.Paths.Backups} {
		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, "20260830-000000", entries[0].Name())
	}
}

func TestTaskLookup(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Tasks = append(cfg.Tasks, taskFixture("inventory-scan"))
	o, err := orchestrator.New(cfg)
	require.NoError(t, err)

	task, ok := o.Task("inventory-scan")
	require.True(t, ok)
	require.Equal(t, "inventory-scan", task.Name)

	_, ok = o.Task("ghost")
	require.False(t, ok)
}

func TestNewRejectsBadTaskSchedule(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	bad := taskFixture("broken")
	bad.Cron = "not a cron"
	cfg.Tasks = append(cfg.Tasks, bad)

	_, err := orchestrator.New(cfg)
	require.Error(t, err)
}
