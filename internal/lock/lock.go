// Package lock guards a project's working copy against a second bot
// process (an overlapping deploy, a stray second supervisor) interleaving
// Git invocations against the same .git directory.
//
// Lock files live at <workdir>/.mergebot.lock; the lock itself is an
// advisory file lock (github.com/gofrs/flock) rather than a PID check, so
// it is released automatically if the holding process dies or is killed,
// with no stale-lock bookkeeping required.
package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Lock guards one project's working-copy directory.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New creates a Lock for the given working-copy directory.
func New(workDir string) *Lock {
	path := filepath.Join(workDir, ".mergebot.lock")
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire blocks (up to timeout) until the lock is held, or returns an
// error if another live process holds it past the deadline.
func (l *Lock) Acquire(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ok, err := l.fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("working copy %s is locked by another process", filepath.Dir(l.path))
	}
	return nil
}

// Release releases the lock if held.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	return l.fl.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool {
	return l.fl.Locked()
}
