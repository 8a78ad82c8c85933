// Package filelock guards acquisition directories against concurrent sessions
// and writes sidecar files (sync tables, manifests) atomically.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ExperimentLockName is the lock file created at the root of an experiment directory.
const ExperimentLockName = ".ultrasession.lock"

// ErrLocked is returned when another session already holds the experiment lock.
var ErrLocked = errors.New("experiment directory is locked by another session")

// FileLock wraps a flock file lock.
type FileLock struct {
	flock *flock.Flock
	path  string
}

// NewFileLock creates a lock backed by the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock blocks until the exclusive lock is held.
func (fl *FileLock) Lock() error {
	if err := fl.flock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", fl.path, err)
	}
	return nil
}

// TryLock acquires the lock without blocking. It reports false when
// another process holds it.
func (fl *FileLock) TryLock() (bool, error) {
	ok, err := fl.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", fl.path, err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (fl *FileLock) Unlock() error {
	if err := fl.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", fl.path, err)
	}
	return nil
}

// LockExperiment takes the non-blocking experiment lock for expDir.
// Two sessions writing timestamped runs into the same tree would interleave
// their params and stimulus files, so the second one is refused with ErrLocked.
func LockExperiment(expDir string) (*FileLock, error) {
	if err := os.MkdirAll(expDir, 0755); err != nil {
		return nil, fmt.Errorf("create experiment directory %s: %w", expDir, err)
	}
	lock := NewFileLock(filepath.Join(expDir, ExperimentLockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", expDir, ErrLocked)
	}
	return lock, nil
}

// AtomicWrite replaces path with data through a temp file in the same
// directory followed by a rename. Readers see either the old or the new
// content, never a partial file.
//
// The steps:
// 1. Create the parent directory and a ".tmp-*" file inside it
// 2. Write and fsync the data, then close the temp file
// 3. Set mode 0644 and rename the temp file over path
//
// On any failure the temp file is removed and an existing file at path is
// left untouched.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	committed = true
	return nil
}

// LockAndWrite takes a blocking lock, writes path with AtomicWrite and
// releases the lock. Use it when several processes may rewrite the same
// file, such as the session manifest under the state directory.
//
// The lock file is path with ".lock" appended: writing
// "session-<id>.yaml" locks "session-<id>.yaml.lock".
func LockAndWrite(path string, data []byte) error {
	lock := NewFileLock(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	return AtomicWrite(path, data)
}
