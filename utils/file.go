package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"
)

// StaleTempAge is how old an abandoned scratch entry must be before GC may
// remove it. Younger entries could belong to a download still in flight.
const StaleTempAge = time.Hour

// EnsureDirs makes every directory in dirs, parents included.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ValidFile reports whether path is a non-empty regular file.
func ValidFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// RemoveMatching removes the entries of dir selected by match and returns
// how many went away. A missing dir is no work, not an error.
func RemoveMatching(ctx context.Context, dir string, match func(os.DirEntry) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	logger := log.WithFunc("gc")
	var removed int
	var errs []error
	for _, e := range entries {
		if !match(e) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		logger.Infof(ctx, "removed %s", path)
		removed++
	}
	return removed, errors.Join(errs...)
}
