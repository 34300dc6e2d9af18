package images

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/openclaw/carapace/utils"
)

// progressInterval caps how often a download reports progress.
const progressInterval = 500 * time.Millisecond

// DownloadFile streams url into dest. Redirects are followed transparently
// by the client; a non-2xx final response fails with a utils.StatusError.
// Any partial file is removed before the error propagates, so dest either
// holds the complete body or does not exist.
//
// report, when non-nil, receives the number of bytes written since its last
// call, throttled to at most one call per progressInterval plus a final
// flush.
func DownloadFile(ctx context.Context, hc *http.Client, url, dest string, report func(delta int64)) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", url, err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &utils.StatusError{URL: url, Code: resp.StatusCode}
	}

	f, err := os.Create(dest) //nolint:gosec // dest is a controlled scratch path
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		f.Close() //nolint:errcheck,gosec
		if err != nil {
			os.Remove(dest) //nolint:errcheck,gosec
		}
	}()

	w := &throttledWriter{w: f, report: report, last: time.Now()}
	if _, err = io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	w.flush()

	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dest, err)
	}
	return nil
}

// throttledWriter forwards writes and reports accumulated byte deltas at
// most once per progressInterval. Bytes that arrive between reports are
// never lost; flush hands over whatever is still pending.
type throttledWriter struct {
	w       io.Writer
	report  func(delta int64)
	pending int64
	last    time.Time
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.pending += int64(n)
	if t.report != nil && time.Since(t.last) >= progressInterval {
		t.report(t.pending)
		t.pending = 0
		t.last = time.Now()
	}
	return n, err
}

func (t *throttledWriter) flush() {
	if t.report != nil && t.pending > 0 {
		t.report(t.pending)
		t.pending = 0
	}
}
