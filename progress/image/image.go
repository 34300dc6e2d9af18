package image

// Phase represents a stage in the image acquisition lifecycle.
type Phase int

const (
	PhaseResolve  Phase = iota // picking the release and its assets
	PhaseDownload              // HTTP download running
	PhaseAssemble              // concatenating split parts
	PhaseExtract               // unpacking the archive
	PhaseVerify                // checking the extracted disk image
	PhaseDone                  // image installed
)

func (p Phase) String() string {
	switch p {
	case PhaseResolve:
		return "resolve"
	case PhaseDownload:
		return "download"
	case PhaseAssemble:
		return "assemble"
	case PhaseExtract:
		return "extract"
	case PhaseVerify:
		return "verify"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event describes a single acquisition progress update. During PhaseDownload
// the byte counters aggregate across all assets of the release, so a
// percentage computed from them moves monotonically over the whole download.
type Event struct {
	Phase      Phase
	Version    string // release tag being installed
	Asset      string // asset currently transferring (download phase only)
	BytesTotal int64  // total bytes across all assets; -1 if unknown
	BytesDone  int64  // bytes received so far
	Speed      int64  // bytes/s since the download started
}

// Percent returns the whole-number completion percentage, floored, or -1
// when the total is unknown.
func (e Event) Percent() int {
	if e.BytesTotal <= 0 {
		return -1
	}
	return int(e.BytesDone * 100 / e.BytesTotal) //nolint:mnd
}
