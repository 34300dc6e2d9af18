package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/openclaw/carapace/lock"
	"github.com/openclaw/carapace/lock/flock"
	"github.com/openclaw/carapace/storage"
)

const storePerm = 0o644

// Store keeps one document of type T in a JSON file, with every access
// serialized through a companion flock so concurrent invocations of the
// binary cannot interleave read-modify-write cycles.
type Store[T any] struct {
	lockPath string
	filePath string
}

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

// New creates a Store over the given lock and data file paths.
func New[T any](lockPath, filePath string) *Store[T] {
	return &Store[T]{lockPath: lockPath, filePath: filePath}
}

// With loads the document under flock and passes it to fn. A store that has
// never been written reads as the zero value of T.
func (s *Store[T]) With(ctx context.Context, fn func(*T) error) error {
	return lock.WithLock(ctx, flock.New(s.lockPath), func() error {
		var doc T
		raw, err := os.ReadFile(s.filePath) //nolint:gosec // internal metadata
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return fmt.Errorf("read %s: %w", s.filePath, err)
		default:
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", s.filePath, err)
			}
		}
		return fn(&doc)
	})
}

// Update performs a read-modify-write under flock. When fn returns nil the
// document is persisted before the lock is released.
func (s *Store[T]) Update(ctx context.Context, fn func(*T) error) error {
	return s.With(ctx, func(doc *T) error {
		if err := fn(doc); err != nil {
			return err
		}
		return s.persist(doc)
	})
}

// persist writes the document durably: staged in a temp file in the same
// directory, fsynced, renamed over the target, then the directory entry is
// flushed. A reader never sees a partial document, and the rename survives
// a crash.
func (s *Store[T]) persist(doc *T) error {
	blob, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.filePath, err)
	}
	blob = append(blob, '\n')

	dir := filepath.Dir(s.filePath)
	tmp, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", s.filePath, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op once renamed

	_, err = tmp.Write(blob)
	if err == nil {
		err = tmp.Sync()
	}
	if err == nil {
		err = tmp.Chmod(storePerm)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("stage %s: %w", s.filePath, err)
	}

	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		return fmt.Errorf("install %s: %w", s.filePath, err)
	}
	return syncDir(dir)
}

// syncDir flushes the directory so the renamed entry is on disk. Filesystems
// that cannot fsync a directory answer EINVAL or similar; treat that as done
// rather than failing the write.
func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // store paths come from config
	if err != nil {
		return err
	}
	defer d.Close() //nolint:errcheck
	err = d.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EBADF) {
		return nil
	}
	return err
}
