package models

// CheckpointStatus is the lifecycle stage of an entity checkpoint.
// Stages only move forward: started < crawled < validated < done.
type CheckpointStatus string

const (
	StatusUnset     CheckpointStatus = ""          // Zero value = no checkpoint
	StatusStarted   CheckpointStatus = "started"   // Checkpoint created, crawl in progress
	StatusCrawled   CheckpointStatus = "crawled"   // Candidates collected
	StatusValidated CheckpointStatus = "validated" // Every candidate has a verdict
	StatusDone      CheckpointStatus = "done"      // Extraction finished
)

// String implements fmt.Stringer for logging
func (s CheckpointStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CheckpointStatus) IsValid() bool {
	switch s {
	case StatusStarted, StatusCrawled, StatusValidated, StatusDone:
		return true
	}
	return false
}

// Rank orders statuses. Unknown values rank below started.
func (s CheckpointStatus) Rank() int {
	switch s {
	case StatusStarted:
		return 1
	case StatusCrawled:
		return 2
	case StatusValidated:
		return 3
	case StatusDone:
		return 4
	}
	return 0
}

// AtLeast reports whether s has reached other.
func (s CheckpointStatus) AtLeast(other CheckpointStatus) bool {
	return s.Rank() >= other.Rank()
}

// Verdict is the outcome of validating a candidate.
type Verdict string

const (
	VerdictValid     Verdict = "valid"
	VerdictInvalid   Verdict = "invalid"
	VerdictUncertain Verdict = "uncertain" // Only produced by faults (oracle, fetch, parse)
)

func (v Verdict) String() string { return string(v) }

// IsValid returns true if the verdict is one of the three known values
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictValid, VerdictInvalid, VerdictUncertain:
		return true
	}
	return false
}

// Kind classifies a candidate link by content type.
type Kind string

const (
	KindPage     Kind = "page"
	KindDocument Kind = "document"
	KindImage    Kind = "image"
)

func (k Kind) String() string { return string(k) }

// IsAsset is true for documents and images.
func (k Kind) IsAsset() bool {
	return k == KindDocument || k == KindImage
}

// MIME returns the content type used when sending the asset bytes to the oracle.
// Images fall back to image/jpeg when the URL does not reveal the format.
func (k Kind) MIME(url string) string {
	switch k {
	case KindDocument:
		return "application/pdf"
	case KindImage:
		return imageMIME(url)
	}
	return "text/html"
}

// FetchMode records which fetcher produced a page.
type FetchMode string

const (
	FetchModeHTTP   FetchMode = "http"
	FetchModeRender FetchMode = "render"
	FetchModeCache  FetchMode = "cache"
)
