// Package runlog owns the on-disk layout of a single task run: one uniquely
// named directory under the logs root holding the captured output and any
// artifacts the task produced on its own.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const logFileName = "run.log"

// Dir is one run's directory. It is created before the task process starts
// and is never shared between runs.
type Dir struct {
	id   string
	path string
}

// Create makes a fresh run directory under root, named by the current time
// at second granularity. When two runs start within the same second the
// second one gets a short random suffix so directories never collide.
func Create(root string, now time.Time) (Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Dir{}, fmt.Errorf("creating logs root: %w", err)
	}

	id := now.Format("20060102-150405")
	path := filepath.Join(root, id)
	err := os.Mkdir(path, 0o755)
	if os.IsExist(err) {
		id = id + "-" + uuid.NewString()[:8]
		path = filepath.Join(root, id)
		err = os.Mkdir(path, 0o755)
	}
	if err != nil {
		return Dir{}, fmt.Errorf("creating run directory: %w", err)
	}
	return Dir{id: id, path: path}, nil
}

func (d Dir) ID() string   { return d.id }
func (d Dir) Path() string { return d.path }

// LogPath is the captured-output file for this run.
func (d Dir) LogPath() string {
	return filepath.Join(d.path, logFileName)
}

// LogWriter opens the run log for appending. The file is handed to the task
// process directly, so capture continues until the process closes its output
// and prior content is never truncated.
func (d Dir) LogWriter() (*os.File, error) {
	f, err := os.OpenFile(d.LogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return f, nil
}

// CollectArtifacts moves the named files from srcDir into the run directory
// so all artifacts of a run end up co-located. Missing files are skipped;
// tasks do not always produce every declared artifact.
func (d Dir) CollectArtifacts(srcDir string, names ...string) error {
	for _, name := range names {
		src := filepath.Join(srcDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(d.path, name)
		if err := os.Rename(src, dst); err != nil {
			// Cross-device moves fall back to copy + remove.
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("collecting artifact %s: %w", name, err)
			}
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("removing collected artifact %s: %w", name, err)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
