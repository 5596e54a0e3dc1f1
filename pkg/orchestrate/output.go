package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/piratf/kampus-crawler/pkg/models"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

// Output file names written by WriteOutputs.
const (
	CandidatesFile = "candidates_all.json"
	ValidatedFile  = "validated_links.json"
	ValidOnlyFile  = "valid_links_only.json"
	ExtractedFile  = "extracted_items.json"
	SummaryFile    = "run_summary.json"
)

// Totals aggregates a run's entity results.
type Totals struct {
	Entities   int `json:"entities"`
	Succeeded  int `json:"succeeded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Candidates int `json:"candidates"`
	Validated  int `json:"validated"`
	Valid      int `json:"valid"`
	Extracted  int `json:"extracted"`
	Fetches    int `json:"fetches"`
}

// EntitySummary is one entity's line in run_summary.json.
type EntitySummary struct {
	EntityID        string  `json:"entity_id"`
	Name            string  `json:"name"`
	SiteURL         string  `json:"site_url"`
	Success         bool    `json:"success"`
	Skipped         bool    `json:"skipped,omitempty"`
	Error           string  `json:"error,omitempty"`
	Candidates      int     `json:"candidates"`
	Validated       int     `json:"validated"`
	Valid           int     `json:"valid"`
	Extracted       int     `json:"extracted"`
	PagesFetched    int     `json:"pages_fetched"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Summary is the content of run_summary.json.
type Summary struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	DurationSeconds float64         `json:"duration_seconds"`
	ValidateOnly    bool            `json:"validate_only"`
	Totals          Totals          `json:"totals"`
	Entities        []EntitySummary `json:"entities"`
}

func totalsOf(results []models.EntityResult) Totals {
	t := Totals{Entities: len(results)}
	for _, r := range results {
		switch {
		case r.Skipped:
			t.Skipped++
		case r.Success:
			t.Succeeded++
		default:
			t.Failed++
		}
		t.Candidates += len(r.Candidates)
		t.Validated += len(r.Validated)
		t.Valid += countValid(r.Validated)
		t.Extracted += len(r.Extracted)
		t.Fetches += r.PagesFetched
	}
	return t
}

// Summarize builds the run summary.
func Summarize(out RunOutput) Summary {
	s := Summary{
		RunID:           out.RunID,
		StartedAt:       out.StartedAt,
		FinishedAt:      out.FinishedAt,
		DurationSeconds: out.FinishedAt.Sub(out.StartedAt).Seconds(),
		ValidateOnly:    out.ValidateOnly,
		Totals:          totalsOf(out.Results),
		Entities:        make([]EntitySummary, 0, len(out.Results)),
	}
	for _, r := range out.Results {
		s.Entities = append(s.Entities, EntitySummary{
			EntityID:        r.EntityID,
			Name:            r.Name,
			SiteURL:         r.SiteURL,
			Success:         r.Success,
			Skipped:         r.Skipped,
			Error:           r.Error,
			Candidates:      len(r.Candidates),
			Validated:       len(r.Validated),
			Valid:           countValid(r.Validated),
			Extracted:       len(r.Extracted),
			PagesFetched:    r.PagesFetched,
			DurationSeconds: r.Duration.Seconds(),
		})
	}
	return s
}

type outputFile struct {
	name string
	v    any
}

// WriteOutputs writes the aggregate files into dir, each atomically.
// The extracted items file is not written in validate-only mode.
func WriteOutputs(dir string, out RunOutput) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create output dir '%s': %w", utils.ErrFilesystem, dir, err)
	}

	candidates := []models.CandidateLink{}
	validated := []models.ValidatedLink{}
	valid := []models.ValidatedLink{}
	extracted := []models.ExtractedItem{}
	for _, r := range out.Results {
		candidates = append(candidates, r.Candidates...)
		validated = append(validated, r.Validated...)
		for _, v := range r.Validated {
			if v.Verdict == models.VerdictValid {
				valid = append(valid, v)
			}
		}
		extracted = append(extracted, r.Extracted...)
	}

	files := []outputFile{
		{CandidatesFile, candidates},
		{ValidatedFile, validated},
		{ValidOnlyFile, valid},
	}
	if !out.ValidateOnly {
		files = append(files, outputFile{ExtractedFile, extracted})
	}
	files = append(files, outputFile{SummaryFile, Summarize(out)})

	for _, f := range files {
		if err := utils.WriteJSONAtomic(filepath.Join(dir, f.name), f.v); err != nil {
			return err
		}
	}
	return nil
}
