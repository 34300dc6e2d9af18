// Package images materializes the guest disk image from published releases.
//
// The pipeline discovers the newest image release by tag prefix, downloads
// its assets (either one whole qcow2 or the lexicographically ordered parts
// of a split tar.gz archive), reassembles and extracts as needed, verifies
// content, and installs the result under the canonical image path. All
// staging happens in a scratch directory inside the image dir; the installed
// image is only ever replaced by the final rename, so a failed update never
// disturbs a working image.
package images

import (
	"errors"
)

var (
	// ErrNoImageRelease means no release carries the image tag prefix.
	ErrNoImageRelease = errors.New("no image release found")
	// ErrNoImageAssets means the selected release publishes neither a whole
	// disk image nor split archive parts.
	ErrNoImageAssets = errors.New("image release has no usable assets")
	// ErrBadArchive means the reassembled archive did not yield exactly one
	// disk image file.
	ErrBadArchive = errors.New("archive does not contain exactly one disk image")
)
