package utils

import (
	"os"
	"strings"
)

// TailFile returns up to maxBytes from the end of the file, trimmed to whole
// lines when the read is partial. Best effort: an empty string on any error,
// callers only use this for diagnostics.
func TailFile(path string, maxBytes int64) string {
	f, err := os.Open(path) //nolint:gosec // internal log path
	if err != nil {
		return ""
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return ""
	}

	size := info.Size()
	offset := int64(0)
	if size > maxBytes {
		offset = size - maxBytes
	}

	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return ""
	}

	out := string(buf)
	if offset > 0 {
		// Drop the leading partial line.
		if idx := strings.IndexByte(out, '\n'); idx >= 0 {
			out = out[idx+1:]
		}
	}
	return strings.TrimRight(out, "\n")
}
