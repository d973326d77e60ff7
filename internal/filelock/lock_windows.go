//go:build windows

package filelock

func tryAcquire(path string) (*Lock, bool, error) {
	return acquireFallback(path)
}

// Release releases the lock and removes the lock file. Safe on a nil lock.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.releaseFallback()
}
