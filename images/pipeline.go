package images

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/lock"
	"github.com/openclaw/carapace/lock/flock"
	"github.com/openclaw/carapace/progress"
	imgprogress "github.com/openclaw/carapace/progress/image"
	"github.com/openclaw/carapace/storage"
	storejson "github.com/openclaw/carapace/storage/json"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

const (
	// scratchPrefix marks in-flight download directories inside the image
	// dir. GC recognizes stale ones by this prefix plus age.
	scratchPrefix = ".download-"

	imageSuffix      = ".qcow2"
	partMarker       = ".tar.gz."
	checksumManifest = "SHA256SUMS"

	// maxImageBytes bounds a single extracted archive member.
	maxImageBytes int64 = 20 << 30
)

// Manager acquires and installs the guest disk image. Safe for concurrent
// use; overlapping Update calls share one flight.
type Manager struct {
	conf   *config.Config
	rel    *ReleaseClient
	index  storage.Store[types.ImageRecord]
	locker lock.Locker
	group  singleflight.Group

	// hc performs asset downloads. No client timeout: a multi-GiB image on a
	// slow link outlives any sane fixed value, so ctx bounds each request.
	hc *http.Client
}

// New creates an image Manager for the repository named in conf.
func New(ctx context.Context, conf *config.Config) (*Manager, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}
	return &Manager{
		conf:   conf,
		rel:    NewReleaseClient(conf.ReleaseOwner, conf.ReleaseRepo),
		index:  storejson.New[types.ImageRecord](conf.ImageIndexLock(), conf.ImageIndexFile()),
		locker: flock.New(conf.ImageLock()),
		hc:     &http.Client{},
	}, nil
}

// Installed returns the installed-image record. ok is false when nothing was
// ever installed or the image file has gone missing.
func (m *Manager) Installed(ctx context.Context) (types.ImageRecord, bool) {
	var rec types.ImageRecord
	if err := m.index.With(ctx, func(r *types.ImageRecord) error {
		rec = *r
		return nil
	}); err != nil {
		return types.ImageRecord{}, false
	}
	if rec.Version == "" || !utils.ValidFile(m.conf.ImagePath()) {
		return types.ImageRecord{}, false
	}
	return rec, true
}

// Update installs the newest published image release as the boot disk and
// returns its record. When the newest release is already installed intact,
// Update skips the download unless force is set. Concurrent callers share
// one flight.
func (m *Manager) Update(ctx context.Context, tracker progress.Tracker, force bool) (*types.ImageRecord, error) {
	v, err, _ := m.group.Do("update", func() (any, error) {
		return m.update(ctx, tracker, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.ImageRecord), nil
}

func (m *Manager) update(ctx context.Context, tracker progress.Tracker, force bool) (*types.ImageRecord, error) {
	logger := log.WithFunc("images.update")
	if tracker == nil {
		tracker = progress.Nop
	}

	tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseResolve})
	release, err := m.rel.LatestImageRelease(ctx, m.conf.ImageTagPrefix)
	if err != nil {
		return nil, err
	}

	var installed types.ImageRecord
	if err := m.index.With(ctx, func(r *types.ImageRecord) error {
		installed = *r
		return nil
	}); err != nil {
		logger.Warnf(ctx, "read image record: %v", err)
	}
	if !force && installed.Version == release.TagName && utils.ValidFile(m.conf.ImagePath()) {
		logger.Infof(ctx, "image %s already installed, skipping", release.TagName)
		tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseDone, Version: release.TagName})
		return &installed, nil
	}

	// The image-dir lock serializes installs against each other and against
	// the GC scratch sweep across processes.
	if err := m.locker.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock image dir: %w", err)
	}
	defer m.locker.Unlock(ctx) //nolint:errcheck

	rec, err := m.install(ctx, release, tracker)
	if err != nil {
		return nil, err
	}
	logger.Infof(ctx, "installed image %s (sha256:%s)", rec.Version, rec.SHA256)
	tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseDone, Version: rec.Version})
	return rec, nil
}

// install stages the release's assets in a fresh scratch directory, produces
// the qcow2, and commits it with a same-filesystem rename. The scratch dir
// is removed on every exit path; the installed image is touched only by the
// final rename.
func (m *Manager) install(ctx context.Context, release *types.Release, tracker progress.Tracker) (*types.ImageRecord, error) {
	logger := log.WithFunc("images.install")

	whole, parts := classifyAssets(release.Assets)
	if whole == nil && len(parts) == 0 {
		return nil, fmt.Errorf("release %s: %w", release.TagName, ErrNoImageAssets)
	}

	// Scratch left over from a crashed install ages out here instead of
	// accumulating next to the new one.
	if _, err := sweepScratch(ctx, m.conf.ImageDir()); err != nil {
		logger.Warnf(ctx, "scratch sweep: %v", err)
	}

	scratch, err := os.MkdirTemp(m.conf.ImageDir(), scratchPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			logger.Warnf(ctx, "remove scratch dir: %v", rmErr)
		}
	}()

	sums := m.fetchChecksums(ctx, release)

	var staged string
	if whole != nil {
		// Single-asset release: the published file is the disk image.
		staged = filepath.Join(scratch, whole.Name)
		agg := newAggregator(tracker, release.TagName, whole.Size)
		agg.beginAsset(whole.Name)
		if err := DownloadFile(ctx, m.hc, whole.URL, staged, agg.add); err != nil {
			return nil, err
		}
	} else {
		var total int64
		for _, p := range parts {
			total += p.Size
		}
		agg := newAggregator(tracker, release.TagName, total)

		partPaths := make([]string, 0, len(parts))
		for _, p := range parts {
			dst := filepath.Join(scratch, p.Name)
			agg.beginAsset(p.Name)
			if err := DownloadFile(ctx, m.hc, p.URL, dst, agg.add); err != nil {
				return nil, err
			}
			if err := verifyAsset(dst, p.Name, sums); err != nil {
				return nil, err
			}
			partPaths = append(partPaths, dst)
		}

		tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseAssemble, Version: release.TagName})
		tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseExtract, Version: release.TagName})
		staged, err = extractImage(partPaths, scratch)
		if err != nil {
			return nil, fmt.Errorf("release %s: %w", release.TagName, err)
		}
	}

	tracker.OnEvent(imgprogress.Event{Phase: imgprogress.PhaseVerify, Version: release.TagName})
	if !utils.ValidFile(staged) {
		return nil, fmt.Errorf("release %s: staged image %s is empty", release.TagName, filepath.Base(staged))
	}
	sha, err := ComputeSHA256(staged)
	if err != nil {
		return nil, err
	}
	if want, ok := sums[filepath.Base(staged)]; ok && !strings.EqualFold(sha, want) {
		return nil, fmt.Errorf("checksum mismatch: %s", filepath.Base(staged))
	}

	// Rename and record commit together under the index lock, so a reader
	// never sees a new image with the old version or vice versa.
	rec := types.ImageRecord{
		Version:     release.TagName,
		Path:        m.conf.ImagePath(),
		SHA256:      sha,
		InstalledAt: time.Now(),
	}
	if err := m.index.Update(ctx, func(r *types.ImageRecord) error {
		if err := os.Rename(staged, m.conf.ImagePath()); err != nil {
			return fmt.Errorf("install image: %w", err)
		}
		*r = rec
		return nil
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

// fetchChecksums downloads the release's checksum manifest when one is
// published. A missing manifest is normal; fetch errors only degrade
// verification, never fail the install.
func (m *Manager) fetchChecksums(ctx context.Context, release *types.Release) map[string]string {
	for _, a := range release.Assets {
		if a.Name != checksumManifest {
			continue
		}
		body, err := utils.HTTPGet(ctx, m.hc, a.URL)
		if err != nil {
			log.WithFunc("images.fetchChecksums").Warnf(ctx, "fetch %s: %v", checksumManifest, err)
			return nil
		}
		return parseChecksums(body)
	}
	return nil
}

// classifyAssets splits release assets into a whole disk image (when one is
// published) and split archive parts sorted by name. Anything else
// (manifests, signatures) is ignored. Part names order lexicographically in
// byte order, so the sort fixes the reassembly sequence.
func classifyAssets(assets []types.ReleaseAsset) (whole *types.ReleaseAsset, parts []types.ReleaseAsset) {
	for i := range assets {
		switch {
		case strings.HasSuffix(assets[i].Name, imageSuffix):
			whole = &assets[i]
		case strings.Contains(assets[i].Name, partMarker):
			parts = append(parts, assets[i])
		}
	}
	slices.SortFunc(parts, func(a, b types.ReleaseAsset) int {
		return strings.Compare(a.Name, b.Name)
	})
	return whole, parts
}

// verifyAsset checks a downloaded asset against its manifest entry, when the
// manifest has one.
func verifyAsset(path, name string, sums map[string]string) error {
	want, ok := sums[name]
	if !ok {
		return nil
	}
	match, err := VerifyChecksum(path, want)
	if err != nil {
		return err
	}
	if !match {
		return fmt.Errorf("checksum mismatch: %s", name)
	}
	return nil
}

// extractImage streams the parts, concatenated in order, through gzip and
// tar, writing the archive's single disk-image member into dir. Returns the
// extracted path.
func extractImage(partPaths []string, dir string) (string, error) {
	files := make([]*os.File, 0, len(partPaths))
	defer func() {
		for _, f := range files {
			f.Close() //nolint:errcheck,gosec
		}
	}()
	readers := make([]io.Reader, 0, len(partPaths))
	for _, p := range partPaths {
		f, err := os.Open(p) //nolint:gosec // scratch paths
		if err != nil {
			return "", fmt.Errorf("open part %s: %w", filepath.Base(p), err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	gz, err := gzip.NewReader(io.MultiReader(readers...))
	if err != nil {
		return "", fmt.Errorf("gunzip: %w", err)
	}
	defer gz.Close() //nolint:errcheck

	tr := tar.NewReader(gz)
	var extracted string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, imageSuffix) {
			continue
		}
		if extracted != "" {
			return "", fmt.Errorf("second image %s: %w", hdr.Name, ErrBadArchive)
		}
		dst := filepath.Join(dir, filepath.Base(hdr.Name))
		if err := writeMember(dst, tr); err != nil {
			return "", err
		}
		extracted = dst
	}
	if extracted == "" {
		return "", ErrBadArchive
	}
	return extracted, nil
}

func writeMember(dst string, r io.Reader) error {
	f, err := os.Create(dst) //nolint:gosec // scratch path
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer f.Close() //nolint:errcheck

	written, err := io.Copy(f, io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return fmt.Errorf("extract %s: %w", dst, err)
	}
	if written > maxImageBytes {
		return fmt.Errorf("extract %s: exceeded max size (%d bytes)", dst, maxImageBytes)
	}
	return f.Sync()
}

// aggregator folds per-asset byte deltas into release-wide download events,
// so the externally visible percentage and throughput cover all assets, not
// the current one.
type aggregator struct {
	tracker progress.Tracker
	version string
	total   int64
	done    int64
	started time.Time
	asset   string
}

func newAggregator(tracker progress.Tracker, version string, total int64) *aggregator {
	if total <= 0 {
		total = -1
	}
	return &aggregator{
		tracker: tracker,
		version: version,
		total:   total,
		started: time.Now(),
	}
}

func (a *aggregator) beginAsset(name string) {
	a.asset = name
	a.emit()
}

// add accepts a byte delta from DownloadFile's report callback.
func (a *aggregator) add(delta int64) {
	a.done += delta
	a.emit()
}

func (a *aggregator) emit() {
	var speed int64
	if elapsed := time.Since(a.started).Seconds(); elapsed > 0 {
		speed = int64(float64(a.done) / elapsed)
	}
	a.tracker.OnEvent(imgprogress.Event{
		Phase:      imgprogress.PhaseDownload,
		Version:    a.version,
		Asset:      a.asset,
		BytesTotal: a.total,
		BytesDone:  a.done,
		Speed:      speed,
	})
}
