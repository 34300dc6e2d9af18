package lock

import "context"

// Locker is cross-invocation mutual exclusion. Implementations guard one
// named resource (the image tree, the run record) against concurrent
// processes working on the same state directory.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	// TryLock attempts a non-blocking acquisition and reports false when
	// the lock is held elsewhere.
	TryLock(ctx context.Context) (bool, error)
}

// WithLock runs fn while holding l. The lock is released whether or not fn
// fails.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return fn()
}

// WithTryLock runs fn only when l can be acquired without waiting. acquired
// reports whether fn ran; a busy lock is (false, nil) so callers can skip
// the resource instead of blocking on it.
func WithTryLock(ctx context.Context, l Locker, fn func() error) (acquired bool, err error) {
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer l.Unlock(ctx) //nolint:errcheck
	return true, fn()
}
