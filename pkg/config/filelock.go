package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

var ErrLockTimeout = errors.New("timed out waiting for file lock")

// FileLock serializes writers of a settings file across processes with an
// flock on a sibling ".lock" file. The kernel drops the lock when the
// holder exits, so there is no stale lock to clean up.
type FileLock struct {
	path string
	file *os.File
}

// LockConfig holds configuration for file locking behavior
type LockConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		Timeout:    5 * time.Second,
		RetryDelay: 50 * time.Millisecond,
	}
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires the lock, retrying until cfg.Timeout
func (fl *FileLock) Lock(cfg LockConfig) error {
	if fl.file != nil {
		return errors.New("file is already locked")
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(cfg.Timeout)
	for {
		err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			fl.file = file
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			file.Close()
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if time.Now().After(deadline) {
			file.Close()
			return fmt.Errorf("%w: %s", ErrLockTimeout, fl.path)
		}
		time.Sleep(cfg.RetryDelay)
	}
}

// Unlock releases the lock. The lock file itself is left in place.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	defer func() { fl.file = nil }()

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return fl.file.Close()
}

func (fl *FileLock) IsLocked() bool {
	return fl.file != nil
}

// WithLock runs fn while holding the lock for path
func WithLock(path string, cfg LockConfig, fn func() error) error {
	lock := NewFileLock(path)
	if err := lock.Lock(cfg); err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to unlock %s: %v\n", path, err)
		}
	}()
	return fn()
}
