// Package proclock tracks which long-lived processes are running via one pid
// file per process name. A record is only trusted when the recorded pid
// still resolves to a live process; anything else counts as absent and may
// be reclaimed.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Record maps a process name to the pid it was started with.
type Record struct {
	Name string
	PID  int
}

// Store keeps pid files under a single root directory. Mutations take an
// exclusive flock on the root's lock file, so stores in different processes
// see check-and-set as one step; the in-process mutex serializes goroutines
// sharing one store.
type Store struct {
	mx   sync.Mutex
	root string
}

var ErrHeld = errors.New("lock already held by a live process")

const rootLockName = ".lock"

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating pid root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name+".pid")
}

// lockRoot blocks until it holds the cross-process lock on the pid root.
// The caller must hand the returned file to unlockRoot.
func (s *Store) lockRoot() (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(s.root, rootLockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening pid root lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("locking pid root: %w", err)
	}
	return f, nil
}

func unlockRoot(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// Get returns the current record for name. ok is false when no record
// exists or the file is unreadable.
func (s *Store) Get(name string) (Record, bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.get(name)
}

func (s *Store) get(name string) (Record, bool) {
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		return Record{}, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return Record{}, false
	}
	return Record{Name: name, PID: pid}, true
}

// Acquire records pid for name. When a record already exists and its pid is
// alive, it returns the existing record and ErrHeld. A stale record (dead
// pid) is reclaimed in place.
func (s *Store) Acquire(name string, pid int) (Record, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	lock, err := s.lockRoot()
	if err != nil {
		return Record{}, err
	}
	defer unlockRoot(lock)

	if rec, ok := s.get(name); ok && Alive(rec.PID) {
		return rec, ErrHeld
	}
	// Orphaned or garbled record from an unclean shutdown.
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return Record{}, fmt.Errorf("reclaiming stale record: %w", err)
	}

	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return Record{}, ErrHeld
		}
		return Record{}, fmt.Errorf("creating pid file: %w", err)
	}
	_, err = f.WriteString(strconv.Itoa(pid) + "\n")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(s.path(name))
		return Record{}, fmt.Errorf("writing pid file: %w", err)
	}
	return Record{Name: name, PID: pid}, nil
}

// Set overwrites the record for name unconditionally. Callers use it to
// replace a reservation made with their own pid by the spawned child's pid.
func (s *Store) Set(name string, pid int) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	lock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlockRoot(lock)
	if err := os.WriteFile(s.path(name), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Release removes the record for name. Removing an absent record is not an
// error.
func (s *Store) Release(name string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	lock, err := s.lockRoot()
	if err != nil {
		return err
	}
	defer unlockRoot(lock)
	err = os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// Alive reports whether pid resolves to a live process, using signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
