// Package dirlock provides flock-based exclusive locking for a compaction
// run against a data directory, so a second invocation against the same
// directory fails fast instead of racing the first.
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const filePerms = 0o600

// ErrTimeout is returned when the lock could not be acquired before the
// deadline.
var ErrTimeout = errors.New("dirlock: timeout acquiring lock")

// Unlock releases a lock acquired by [Acquire]. Safe to call at most once.
type Unlock func()

// Acquire takes an exclusive flock on path, creating it if necessary,
// waiting up to timeout. It returns an Unlock func to release the lock;
// callers should defer it immediately.
//
// Locking uses an exclusive flock on a dedicated lock file, with an
// inode check after acquiring the lock to detect a stale file concurrently
// removed and recreated by a racing process.
func Acquire(path string, timeout time.Duration) (Unlock, error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerms)
		if err != nil {
			return nil, fmt.Errorf("dirlock: open %s: %w", path, err)
		}

		var openStat syscall.Stat_t
		if err := syscall.Fstat(int(file.Fd()), &openStat); err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("dirlock: fstat %s: %w", path, err)
		}

		fd := int(file.Fd())
		done := make(chan error, 1)

		go func() { done <- syscall.Flock(fd, syscall.LOCK_EX) }()

		select {
		case err := <-done:
			if err != nil {
				_ = file.Close()

				return nil, fmt.Errorf("dirlock: flock %s: %w", path, err)
			}

			var pathStat syscall.Stat_t
			if statErr := syscall.Stat(path, &pathStat); statErr != nil || pathStat.Ino != openStat.Ino {
				_ = syscall.Flock(fd, syscall.LOCK_UN)
				_ = file.Close()

				continue
			}

			return func() {
				_ = os.Remove(path)
				_ = syscall.Flock(fd, syscall.LOCK_UN)
				_ = file.Close()
			}, nil
		case <-time.After(remaining):
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
		}
	}
}
