//go:build !windows

package filelock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

func tryAcquire(path string) (*Lock, bool, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("opening lock file: %w", err)
	}

	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
			return nil, true, nil
		}
		if errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.ENOLCK) || errors.Is(err, syscall.EOPNOTSUPP) {
			return acquireFallback(path + ".excl")
		}
		return nil, false, fmt.Errorf("locking %s: %w", path, err)
	}

	// Record our PID for diagnostics; a failure here does not affect the lock.
	if err := file.Truncate(0); err == nil {
		_, _ = file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}

	return &Lock{path: path, file: file}, false, nil
}

// Release releases the lock. Safe on a nil lock.
// The flock sidecar is left in place: removing it would let a waiter that
// already opened the old inode and a newcomer on a fresh inode hold the lock
// at the same time.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if l.fallback {
		l.releaseFallback()
		return
	}
	if l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}
