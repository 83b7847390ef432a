// Package archivelock prevents two epubopt processes from rewriting the same
// archive at once.
package archivelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"epubopt/internal/fileutil"
)

// ErrLocked reports that another process holds the archive lock.
var ErrLocked = errors.New("archive is being processed by another epubopt instance")

// Lock is an advisory lock held on behalf of one archive.
type Lock struct {
	path    string
	archive string
	lock    *flock.Flock
}

// Acquire takes the lock for archivePath under lockDir without blocking.
// The lock file name is derived from the absolute archive path, so the
// archive's own directory is never written to.
func Acquire(lockDir, archivePath string) (*Lock, error) {
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return nil, fmt.Errorf("resolve archive path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(lockDir, fileutil.HashString(abs)+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, abs)
	}
	return &Lock{path: path, archive: abs, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Archive returns the resolved archive path the lock protects.
func (l *Lock) Archive() string {
	return l.archive
}

// Release unlocks the archive. It is safe to call more than once. The lock
// file stays in place; removing it would let a waiter lock an orphaned inode.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if !l.lock.Locked() {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
