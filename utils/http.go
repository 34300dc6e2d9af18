package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPTimeout bounds a whole request, including reading the body.
const HTTPTimeout = 30 * time.Second

const (
	maxAttempts      = 4
	retryBase        = 100 * time.Millisecond
	portProbeTimeout = 2 * time.Second
	snippetLen       = 200
)

// StatusError reports a response that arrived with the wrong status. It is
// distinct from transport errors: the server answered, just not the way the
// caller wanted. Body is empty when the caller streamed the response instead
// of buffering it.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("GET %s: %d %s: %s", e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

// HTTPGet fetches url and returns the response body. Anything but 200
// becomes a StatusError carrying a snippet of the body.
func HTTPGet(ctx context.Context, hc *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", url, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode, Body: snippet(body)}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}

// GetWithRetry is HTTPGet with doubling backoff on transient failures.
// Client errors come back immediately; the server meant those.
func GetWithRetry(ctx context.Context, hc *http.Client, url string) ([]byte, error) {
	backoff := retryBase
	for attempt := 1; ; attempt++ {
		body, err := HTTPGet(ctx, hc, url)
		if err == nil || !retryable(err) || attempt == maxAttempts {
			return body, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// retryable reports whether another attempt could plausibly succeed: 5xx,
// rate limiting, or a transport failure while the context is still live.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= http.StatusInternalServerError || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CheckPort verifies that a loopback TCP port is connectable.
func CheckPort(port int) error {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), portProbeTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func snippet(b []byte) string {
	if len(b) > snippetLen {
		return string(b[:snippetLen]) + "..."
	}
	return string(b)
}
