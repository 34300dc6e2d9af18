package types

import "time"

// Release is one published image release, reduced to the fields the
// acquisition pipeline selects on.
type Release struct {
	TagName     string         `json:"tag_name"`
	PublishedAt time.Time      `json:"published_at"`
	Assets      []ReleaseAsset `json:"assets"`
}

// ReleaseAsset is one downloadable file attached to a release.
type ReleaseAsset struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"browser_download_url"`
}

// ImageRecord describes the locally installed disk image. Persisted next to
// the image so update can skip work when already current.
type ImageRecord struct {
	Version     string    `json:"version"`
	Path        string    `json:"path"`
	SHA256      string    `json:"sha256,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}
