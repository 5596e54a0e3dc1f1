package models

import (
	"strings"
	"time"
)

// Entity is one institution to crawl.
type Entity struct {
	Name    string `yaml:"name" json:"name"`
	SiteURL string `yaml:"site_url" json:"site_url"`
	ID      string `yaml:"id,omitempty" json:"id,omitempty"` // Optional external identifier, carried into item provenance
}

// CandidateLink is a URL worth validating. At most one per (URL, Kind) per entity.
type CandidateLink struct {
	EntityID    string  `json:"entity_id"`
	URL         string  `json:"url"`
	Kind        Kind    `json:"kind"`
	SourcePage  string  `json:"source_page"`
	ContextHint string  `json:"context_hint,omitempty"` // At most 300 chars
	Score       float64 `json:"score"`
}

// Key identifies a candidate within an entity.
func (c CandidateLink) Key() string {
	return CandidateKey(c.Kind, c.URL)
}

// CandidateKey formats the "kind::url" key used for resume bookkeeping.
func CandidateKey(kind Kind, url string) string {
	return string(kind) + "::" + url
}

// ValidatedLink is a candidate plus its verdict.
type ValidatedLink struct {
	CandidateLink
	Verdict         Verdict   `json:"verdict"`
	Reason          string    `json:"reason,omitempty"`
	EvidenceSnippet string    `json:"evidence_snippet,omitempty"` // At most 200 chars
	FetchMode       FetchMode `json:"fetch_mode,omitempty"`
	ErrorType       string    `json:"error_type,omitempty"`
	ParentURL       string    `json:"parent_url,omitempty"` // Set when validated as an embedded asset of a page
}

// ExtractedItem is one structured record returned by the extraction oracle.
type ExtractedItem struct {
	Name       string         `json:"name"`
	Slug       string         `json:"slug"`
	Fields     map[string]any `json:"fields,omitempty"`
	IsActive   *bool          `json:"is_active,omitempty"`
	SourceURL  string         `json:"source_url"`
	SourcePage string         `json:"source_page"`
	EntityID   string         `json:"entity_id"`
	ExternalID string         `json:"external_id,omitempty"`
}

// CheckpointError records a contained per-candidate or per-stage failure.
type CheckpointError struct {
	Stage     string    `json:"stage"`
	URL       string    `json:"url,omitempty"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// CheckpointStats is refreshed on every save.
type CheckpointStats struct {
	Candidates int `json:"candidates"`
	Validated  int `json:"validated"`
	Extracted  int `json:"extracted"`
}

// EntityCheckpoint is the persisted progress of one entity.
type EntityCheckpoint struct {
	EntityID   string            `json:"entity_id"`
	EntityName string            `json:"entity_name"`
	SiteURL    string            `json:"site_url"`
	Status     CheckpointStatus  `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Candidates []CandidateLink   `json:"candidates"`
	Validated  []ValidatedLink   `json:"validated"`
	Extracted  []ExtractedItem   `json:"extracted"`
	Errors     []CheckpointError `json:"errors"`
	Stats      CheckpointStats   `json:"stats"`
}

// NewCheckpoint returns an empty checkpoint in the started state.
func NewCheckpoint(entityID string, e Entity, now time.Time) *EntityCheckpoint {
	return &EntityCheckpoint{
		EntityID:   entityID,
		EntityName: e.Name,
		SiteURL:    e.SiteURL,
		Status:     StatusStarted,
		CreatedAt:  now,
		UpdatedAt:  now,
		Candidates: []CandidateLink{},
		Validated:  []ValidatedLink{},
		Extracted:  []ExtractedItem{},
		Errors:     []CheckpointError{},
	}
}

// Advance moves the status forward. Moving backward is a no-op that returns false.
func (c *EntityCheckpoint) Advance(s CheckpointStatus) bool {
	if s.Rank() < c.Status.Rank() {
		return false
	}
	c.Status = s
	return true
}

// RefreshStats recomputes Stats from the stored slices.
func (c *EntityCheckpoint) RefreshStats() {
	c.Stats = CheckpointStats{
		Candidates: len(c.Candidates),
		Validated:  len(c.Validated),
		Extracted:  len(c.Extracted),
	}
}

// ValidatedKeys returns the "kind::url" keys that already have a verdict.
func (c *EntityCheckpoint) ValidatedKeys() map[string]bool {
	keys := make(map[string]bool, len(c.Validated))
	for _, v := range c.Validated {
		keys[v.Key()] = true
	}
	return keys
}

// ExtractedSources returns the source URLs that already produced items.
func (c *EntityCheckpoint) ExtractedSources() map[string]bool {
	srcs := make(map[string]bool)
	for _, it := range c.Extracted {
		srcs[it.SourceURL] = true
	}
	return srcs
}

// EntityResult is what one entity pipeline hands back to the orchestrator.
type EntityResult struct {
	EntityID     string          `json:"entity_id"`
	Name         string          `json:"name"`
	SiteURL      string          `json:"site_url"`
	Success      bool            `json:"success"`
	Skipped      bool            `json:"skipped"` // Served from a done checkpoint without fetching
	Error        string          `json:"error,omitempty"`
	Candidates   []CandidateLink `json:"-"`
	Validated    []ValidatedLink `json:"-"`
	Extracted    []ExtractedItem `json:"-"`
	PagesFetched int             `json:"pages_fetched"`
	Duration     time.Duration   `json:"duration"`
}

func imageMIME(url string) string {
	lower := strings.ToLower(url)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	}
	return "image/jpeg"
}
