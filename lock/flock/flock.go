package flock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/openclaw/carapace/lock"
)

// retryDelay paces acquisition attempts while a blocking Lock waits.
const retryDelay = 100 * time.Millisecond

var _ lock.Locker = (*Lock)(nil)

// Lock is cross-process mutual exclusion over flock(2). The lock file
// persists; only the flock on it is ever released.
type Lock struct {
	fl *flock.Flock
}

// New makes a Lock on the given path. The file appears on first use.
func New(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// Lock blocks until the flock is acquired or ctx ends.
func (l *Lock) Lock(ctx context.Context) error {
	ok, err := l.fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire flock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("acquire flock %s: gave up", l.fl.Path())
	}
	return nil
}

// TryLock makes a single non-blocking attempt.
func (l *Lock) TryLock(_ context.Context) (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("try flock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// Unlock releases the flock.
func (l *Lock) Unlock(_ context.Context) error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release flock %s: %w", l.fl.Path(), err)
	}
	return nil
}
