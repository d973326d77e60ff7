// Package filelock provides cross-process exclusive locks on sidecar lock files.
//
// On Unix the lock is an flock(2) on the sidecar; filesystems without flock
// support fall back to an exclusively created lock file, which is also the
// only mechanism used on Windows.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// DefaultTimeout bounds how long Acquire waits for a contended lock
	DefaultTimeout = 30 * time.Second
	retryInterval  = 10 * time.Millisecond
	// staleAfter is the age beyond which a fallback lock file is considered abandoned
	staleAfter = 2 * time.Minute
)

// ErrTimeout is returned when the lock could not be acquired in time.
var ErrTimeout = errors.New("lock acquisition timed out")

// Lock represents an exclusive lock held by this process.
type Lock struct {
	path     string
	file     *os.File
	fallback bool
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// LockPath returns the sidecar lock path guarding target.
func LockPath(target string) string {
	return target + ".lock"
}

// Acquire blocks until the exclusive lock at path is held, ctx is done or
// timeout elapses. The parent directory must already exist.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		lock, contended, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if !contended {
			return lock, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s%s", ErrTimeout, path, holderHint(path))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// With runs fn while holding the sidecar lock for target.
func With(ctx context.Context, target string, fn func() error) error {
	lock, err := Acquire(ctx, LockPath(target), DefaultTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// acquireFallback uses an exclusively created lock file holding our PID.
func acquireFallback(path string) (*Lock, bool, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err == nil {
		_, _ = file.WriteString(strconv.Itoa(os.Getpid()))
		_ = file.Close()
		return &Lock{path: path, fallback: true}, false, nil
	}
	if !isContention(err, path) {
		return nil, false, fmt.Errorf("creating lock file: %w", err)
	}
	if isStale(path, time.Now()) {
		_ = os.Remove(path)
	}
	return nil, true, nil
}

func isContention(err error, path string) bool {
	if os.IsExist(err) {
		return true
	}
	if !os.IsPermission(err) {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func isStale(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > staleAfter
}

func holderHint(path string) string {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil || len(content) == 0 {
		return ""
	}
	return fmt.Sprintf(" (held by PID %s)", string(content))
}

func (l *Lock) releaseFallback() {
	_ = os.Remove(l.path)
}
