package ingest

import (
	"time"
)

type State string

const (
	Queued                State = "queued"
	Validating            State = "validating"
	ResolvingDependencies State = "resolving-dependencies"
	Deduplicating         State = "deduplicating"
	CompilingMatch        State = "matching-compiled-packages"
	Committed             State = "committed"
	Aborted               State = "aborted"
)

// Options control a single ingestion.
type Options struct {
	/* store under the next version after the highest
	   one already in the catalog, instead of the
	   version named in the manifest */
	Rebase bool

	/* the archive is expected to carry compiled packages;
	   turned on automatically when it does */
	Compiled bool

	/* os/version to assume for compiled packages
	   that do not name their stemcell */
	StemcellHint string

	/* re-upload bits for catalog entries whose
	   blobs have gone missing from the blobstore */
	Fix bool

	/* digest(s) the archive itself must match */
	SHA1 string
}

func DefaultOptions() Options {
	return Options{
		Rebase:   false,
		Compiled: false,
		Fix:      false,
	}
}

type Counts struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
}

type Summary struct {
	Release string `json:"release"`
	Version string `json:"version"`
	State   State  `json:"state"`

	Packages Counts `json:"packages"`
	Jobs     Counts `json:"jobs"`
	Compiled Counts `json:"compiled"`

	BlobWrites int           `json:"blob_writes"`
	Duration   time.Duration `json:"duration"`
}
