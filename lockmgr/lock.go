// Package lockmgr provides whole-process mutual exclusion for darch
// builds: only one `darch apply`/`darch gc` may run against a given
// image root at a time. It uses an advisory flock on a well-known path,
// the same golang.org/x/sys/unix surface the teacher reaches for
// elsewhere (unix.Uname in config.GetSystemInfo, unix.Unmount in
// mount.doUnmount) rather than a file-existence convention, since flock
// is released automatically if the holding process dies.
package lockmgr

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AlreadyRunning reports that another darch process already holds the lock.
type AlreadyRunning struct {
	Path string
}

func (e *AlreadyRunning) Error() string {
	return fmt.Sprintf("another darch process is already running (lock held on %s)", e.Path)
}

// Lock is a held advisory lock. Release it exactly once.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive, non-blocking flock on path, creating the
// file if necessary. It returns *AlreadyRunning if the lock is already
// held by another process.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lockmgr: create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockmgr: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &AlreadyRunning{Path: path}
		}
		return nil, fmt.Errorf("lockmgr: flock %s: %w", path, err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())

	return &Lock{path: path, file: f}, nil
}

// Release unlocks and closes the lock file. Safe to call once; calling it
// twice is a programming error the caller should avoid, matching the
// release-once discipline of fsorch.Scope.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("lockmgr: unlock %s: %w", l.path, err)
	}
	return closeErr
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
