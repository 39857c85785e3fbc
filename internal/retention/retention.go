// Package retention deletes run directories and backup artifacts older than
// a configured age. A pass never aborts on a single bad entry; failures are
// collected and reported together.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pempem98/inventory-scanner/internal/metrics"
)

// Report summarizes one pruning pass.
type Report struct {
	Deleted []string
	Kept    int
}

// Prune removes every direct child of root whose modification time is
// strictly older than now minus maxAge. Entries aged exactly maxAge are
// retained. Each deletion is attempted independently; the joined error
// carries every failure and the returned Report still lists what was
// deleted. A fresh in-flight run directory is always younger than any sane
// threshold, so live runs are never touched.
func Prune(ctx context.Context, root string, maxAge time.Duration) (Report, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, nil
		}
		return Report{}, fmt.Errorf("reading retention root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	label := filepath.Base(root)

	var report Report
	var errs []error
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", entry.Name(), err))
			metrics.PruneFailures.WithLabelValues(label).Inc()
			continue
		}
		if !info.ModTime().Before(cutoff) {
			report.Kept++
			continue
		}

		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", entry.Name(), err))
			metrics.PruneFailures.WithLabelValues(label).Inc()
			continue
		}
		slog.InfoContext(ctx, "pruned expired artifact", "path", path, "age", time.Since(info.ModTime()).Round(time.Hour))
		metrics.ArtifactsPruned.WithLabelValues(label).Inc()
		report.Deleted = append(report.Deleted, entry.Name())
	}

	return report, errors.Join(errs...)
}

// Days converts a whole-day retention threshold into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
