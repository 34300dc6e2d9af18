package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns the unique ID of one boot attempt. Run IDs correlate a
// boot's log file, its run record, and the stage events it emits.
func NewRunID() string {
	return uuid.NewString()
}

// ShortID returns the first hex group of a run ID, used in file names where
// the full UUID is noise.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
