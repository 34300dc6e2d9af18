package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WaitFor polls check at the given interval until it reports done. A non-nil
// check error aborts the wait immediately; "not ready yet" is (false, nil).
// On expiry the returned error wraps context.DeadlineExceeded, so callers can
// tell a timeout from a hard probe failure.
func WaitFor(ctx context.Context, timeout, interval time.Duration, check func() (done bool, err error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check()
		switch {
		case err != nil:
			return err
		case done:
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
