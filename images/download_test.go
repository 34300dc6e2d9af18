package images

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/carapace/utils"
)

func TestDownloadFile_FollowsRedirects(t *testing.T) {
	payload := bytes.Repeat([]byte("carapace"), 512)
	mux := http.NewServeMux()
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "asset")
	var got int64
	err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/moved", dest, func(d int64) { got += d })
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("dest holds %d bytes, want %d", len(data), len(payload))
	}
	if got != int64(len(payload)) {
		t.Fatalf("reported %d bytes, want %d", got, len(payload))
	}
}

func TestDownloadFile_HTTPErrorRemovesPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "asset")
	err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/x", dest, nil)

	var se *utils.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", se.Code)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("partial file left behind: %v", statErr)
	}
}

func TestDownloadFile_TruncatedBodyRemovesPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Announce more than is sent, then cut the connection.
		w.Header().Set("Content-Length", "4096")
		w.Write(bytes.Repeat([]byte("x"), 128)) //nolint:errcheck
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("server does not support hijacking")
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close() //nolint:errcheck,gosec
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "asset")
	if err := DownloadFile(context.Background(), srv.Client(), srv.URL+"/x", dest, nil); err == nil {
		t.Fatal("expected error from truncated body")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatalf("partial file left behind: %v", statErr)
	}
}

func TestThrottledWriter_NeverDropsBytes(t *testing.T) {
	var reported int64
	var sink bytes.Buffer
	w := &throttledWriter{w: &sink, report: func(d int64) { reported += d }}

	// Burst of writes inside one throttle window: reports are deferred, not
	// discarded.
	for i := 0; i < 50; i++ {
		if _, err := w.Write(bytes.Repeat([]byte("a"), 100)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	w.flush()

	if reported != 5000 {
		t.Fatalf("reported %d bytes, want 5000", reported)
	}
	if sink.Len() != 5000 {
		t.Fatalf("sink holds %d bytes, want 5000", sink.Len())
	}
}
