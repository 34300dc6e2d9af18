package images

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/progress"
	imgprogress "github.com/openclaw/carapace/progress/image"
	"github.com/openclaw/carapace/types"
)

// fakeSource serves one release plus its downloadable assets.
type fakeSource struct {
	srv     *httptest.Server
	release types.Release
	files   map[string][]byte
	dl      atomic.Int64 // asset download hits
}

func newFakeSource(t *testing.T, tag string, files map[string][]byte) *fakeSource {
	t.Helper()
	f := &fakeSource{files: files}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/openclaw/openclaw/releases", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode([]types.Release{f.release}); err != nil {
			t.Errorf("encode releases: %v", err)
		}
	})
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/assets/")
		data, ok := f.files[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		f.dl.Add(1)
		w.Write(data) //nolint:errcheck
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	f.release = types.Release{TagName: tag, PublishedAt: time.Now()}
	for name, data := range files {
		f.release.Assets = append(f.release.Assets, types.ReleaseAsset{
			Name: name,
			Size: int64(len(data)),
			URL:  f.srv.URL + "/assets/" + name,
		})
	}
	return f
}

func newTestManager(t *testing.T, src *fakeSource) *Manager {
	t.Helper()
	conf := config.DefaultConfig()
	base := t.TempDir()
	conf.RootDir = filepath.Join(base, "root")
	conf.RunDir = filepath.Join(base, "run")
	conf.LogDir = filepath.Join(base, "log")

	m, err := New(context.Background(), conf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.rel.base = src.srv.URL
	m.rel.hc = src.srv.Client()
	m.hc = src.srv.Client()
	return m
}

func buildArchive(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range members {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func splitBytes(data []byte, n int) [][]byte {
	chunk := (len(data) + n - 1) / n
	var out [][]byte
	for start := 0; start < len(data); start += chunk {
		out = append(out, data[start:min(start+chunk, len(data))])
	}
	return out
}

func fakeImageContent() []byte {
	img := make([]byte, 50*1024)
	for i := range img {
		img[i] = byte(i*31 + i/255)
	}
	return img
}

// phasesOf collapses consecutive same-phase events into a transition list.
func phasesOf(events []imgprogress.Event) []imgprogress.Phase {
	var ps []imgprogress.Phase
	for _, e := range events {
		if len(ps) == 0 || ps[len(ps)-1] != e.Phase {
			ps = append(ps, e.Phase)
		}
	}
	return ps
}

func lastDownloadEvent(t *testing.T, events []imgprogress.Event) imgprogress.Event {
	t.Helper()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Phase == imgprogress.PhaseDownload {
			return events[i]
		}
	}
	t.Fatal("no download event emitted")
	return imgprogress.Event{}
}

func assertNoScratch(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read image dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), scratchPrefix) {
			t.Fatalf("scratch left behind: %s", e.Name())
		}
	}
}

func TestUpdate_SplitPartsAssembledInOrder(t *testing.T) {
	img := fakeImageContent()
	archive := buildArchive(t, map[string][]byte{
		"build/openclaw-headless.qcow2": img,
		"build/manifest.json":           []byte(`{"arch":"x86_64"}`),
	})
	chunks := splitBytes(archive, 3)
	src := newFakeSource(t, "vm-1.2.0", map[string][]byte{
		"openclaw-headless.tar.gz.ab": chunks[1],
		"openclaw-headless.tar.gz.aa": chunks[0],
		"openclaw-headless.tar.gz.ac": chunks[2],
	})
	m := newTestManager(t, src)

	var events []imgprogress.Event
	tracker := progress.NewTracker(func(e imgprogress.Event) { events = append(events, e) })

	rec, err := m.Update(context.Background(), tracker, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Version != "vm-1.2.0" {
		t.Fatalf("version %q, want vm-1.2.0", rec.Version)
	}

	got, err := os.ReadFile(m.conf.ImagePath())
	if err != nil {
		t.Fatalf("read installed image: %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Fatalf("installed image corrupt: %d bytes, want %d", len(got), len(img))
	}

	sum := sha256.Sum256(img)
	if rec.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("record sha %s, want %s", rec.SHA256, hex.EncodeToString(sum[:]))
	}

	want := []imgprogress.Phase{
		imgprogress.PhaseResolve, imgprogress.PhaseDownload, imgprogress.PhaseAssemble,
		imgprogress.PhaseExtract, imgprogress.PhaseVerify, imgprogress.PhaseDone,
	}
	if ps := phasesOf(events); !slices.Equal(ps, want) {
		t.Fatalf("phases %v, want %v", ps, want)
	}

	last := lastDownloadEvent(t, events)
	if last.BytesTotal != int64(len(archive)) || last.BytesDone != int64(len(archive)) {
		t.Fatalf("aggregate %d/%d, want %d/%d", last.BytesDone, last.BytesTotal, len(archive), len(archive))
	}
	if last.Percent() != 100 {
		t.Fatalf("final percent %d, want 100", last.Percent())
	}

	assertNoScratch(t, m.conf.ImageDir())
}

func TestUpdate_WholeImageInstallsDirectly(t *testing.T) {
	img := fakeImageContent()
	sum := sha256.Sum256(img)
	name := "openclaw-headless-1.3.0.qcow2"
	src := newFakeSource(t, "vm-1.3.0", map[string][]byte{
		name:         img,
		"SHA256SUMS": []byte(fmt.Sprintf("%s  %s\n", hex.EncodeToString(sum[:]), name)),
	})
	m := newTestManager(t, src)

	var events []imgprogress.Event
	tracker := progress.NewTracker(func(e imgprogress.Event) { events = append(events, e) })

	rec, err := m.Update(context.Background(), tracker, false)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Path != m.conf.ImagePath() {
		t.Fatalf("record path %q, want %q", rec.Path, m.conf.ImagePath())
	}

	got, err := os.ReadFile(m.conf.ImagePath())
	if err != nil {
		t.Fatalf("read installed image: %v", err)
	}
	if !bytes.Equal(got, img) {
		t.Fatal("installed image differs from published asset")
	}

	// No reassembly for a whole-image release.
	want := []imgprogress.Phase{
		imgprogress.PhaseResolve, imgprogress.PhaseDownload,
		imgprogress.PhaseVerify, imgprogress.PhaseDone,
	}
	if ps := phasesOf(events); !slices.Equal(ps, want) {
		t.Fatalf("phases %v, want %v", ps, want)
	}
	if last := lastDownloadEvent(t, events); last.Percent() != 100 {
		t.Fatalf("final percent %d, want 100", last.Percent())
	}

	assertNoScratch(t, m.conf.ImageDir())
}

func TestUpdate_SkipsWhenCurrentUnlessForced(t *testing.T) {
	img := fakeImageContent()
	src := newFakeSource(t, "vm-2.0.0", map[string][]byte{"openclaw-headless.qcow2": img})
	m := newTestManager(t, src)

	if _, err := m.Update(context.Background(), nil, false); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	baseline := src.dl.Load()

	rec, err := m.Update(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if rec.Version != "vm-2.0.0" {
		t.Fatalf("version %q, want vm-2.0.0", rec.Version)
	}
	if src.dl.Load() != baseline {
		t.Fatalf("idempotent update downloaded assets (%d -> %d)", baseline, src.dl.Load())
	}

	if _, err := m.Update(context.Background(), nil, true); err != nil {
		t.Fatalf("forced Update: %v", err)
	}
	if src.dl.Load() == baseline {
		t.Fatal("forced update skipped the download")
	}
}

func TestUpdate_NoUsableAssets(t *testing.T) {
	src := newFakeSource(t, "vm-3.0.0", map[string][]byte{"README.md": []byte("nothing here")})
	m := newTestManager(t, src)

	_, err := m.Update(context.Background(), nil, false)
	if !errors.Is(err, ErrNoImageAssets) {
		t.Fatalf("err = %v, want ErrNoImageAssets", err)
	}
	assertNoScratch(t, m.conf.ImageDir())
}

func TestUpdate_ChecksumMismatchLeavesImageUntouched(t *testing.T) {
	img := fakeImageContent()
	archive := buildArchive(t, map[string][]byte{"openclaw-headless.qcow2": img})
	chunks := splitBytes(archive, 2)
	src := newFakeSource(t, "vm-4.0.0", map[string][]byte{
		"openclaw-headless.tar.gz.aa": chunks[0],
		"openclaw-headless.tar.gz.ab": chunks[1],
		"SHA256SUMS":                  []byte(strings.Repeat("0", 64) + "  openclaw-headless.tar.gz.aa\n"),
	})
	m := newTestManager(t, src)

	sentinel := []byte("previously installed image")
	if err := os.WriteFile(m.conf.ImagePath(), sentinel, 0o644); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	_, err := m.Update(context.Background(), nil, false)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}

	got, err := os.ReadFile(m.conf.ImagePath())
	if err != nil {
		t.Fatalf("read image: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Fatal("failed update touched the installed image")
	}
	assertNoScratch(t, m.conf.ImageDir())
}

func TestClassifyAssets(t *testing.T) {
	assets := []types.ReleaseAsset{
		{Name: "openclaw-headless.tar.gz.ac"},
		{Name: "SHA256SUMS"},
		{Name: "openclaw-headless.tar.gz.aa"},
		{Name: "openclaw-headless.qcow2"},
		{Name: "openclaw-headless.tar.gz.ab"},
	}
	whole, parts := classifyAssets(assets)
	if whole == nil || whole.Name != "openclaw-headless.qcow2" {
		t.Fatalf("whole = %v, want the qcow2 asset", whole)
	}
	names := make([]string, len(parts))
	for i, p := range parts {
		names[i] = p.Name
	}
	want := []string{
		"openclaw-headless.tar.gz.aa",
		"openclaw-headless.tar.gz.ab",
		"openclaw-headless.tar.gz.ac",
	}
	if !slices.Equal(names, want) {
		t.Fatalf("parts %v, want %v", names, want)
	}
}

func TestExtractImage_RejectsBadArchives(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	empty := write("empty.tar.gz", buildArchive(t, map[string][]byte{
		"notes.txt": []byte("no image inside"),
	}))
	if _, err := extractImage([]string{empty}, dir); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("no-image err = %v, want ErrBadArchive", err)
	}

	double := write("double.tar.gz", buildArchive(t, map[string][]byte{
		"a.qcow2": []byte("one"),
		"b.qcow2": []byte("two"),
	}))
	if _, err := extractImage([]string{double}, dir); !errors.Is(err, ErrBadArchive) {
		t.Fatalf("two-image err = %v, want ErrBadArchive", err)
	}
}

func TestSweepScratch(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, scratchPrefix+"old")
	fresh := filepath.Join(dir, scratchPrefix+"new")
	keep := filepath.Join(dir, "other")
	for _, d := range []string{old, fresh, keep} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("age scratch dir: %v", err)
	}

	removed, err := sweepScratch(context.Background(), dir)
	if err != nil {
		t.Fatalf("sweepScratch: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("stale scratch survived")
	}
	for _, d := range []string{fresh, keep} {
		if _, err := os.Stat(d); err != nil {
			t.Fatalf("%s should survive: %v", d, err)
		}
	}
}
