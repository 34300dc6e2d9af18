package utils

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialRetry dials a TCP address with a bounded number of attempts, a fixed
// per-attempt timeout, and a fixed delay between attempts. Both guest
// channels come up at unpredictable points during boot, so callers size
// attempts*delay to their boot budget. Returns the last dial error when the
// attempts are exhausted.
func DialRetry(ctx context.Context, addr string, attempts int, delay, timeout time.Duration) (net.Conn, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", addr, attempts, lastErr)
}
