package guard

import (
	"time"

	"github.com/codectx/codectx/internal/corpus"
)

// Corpus freshness states.
const (
	StatusOK           = "ok"
	StatusStale        = "stale"
	StatusNotExtracted = "not_extracted"
)

// DefaultStaleAge is how old an extraction may be before it is reported
// stale.
const DefaultStaleAge = 24 * time.Hour

// StatusReport summarizes the extraction state of a corpus directory.
type StatusReport struct {
	Status           string         `json:"status"`
	StalenessSeconds int64          `json:"staleness_seconds"`
	ExtractedAt      time.Time      `json:"extracted_at,omitempty"`
	TotalUnits       int            `json:"total_units"`
	Counts           map[string]int `json:"counts,omitempty"`
	GitSHA           string         `json:"git_sha,omitempty"`
	GitBranch        string         `json:"git_branch,omitempty"`
}

// StatusReporter reads the extractor manifest and judges its freshness.
type StatusReporter struct {
	dir      string
	staleAge time.Duration
	now      func() time.Time
}

// NewStatusReporter creates a reporter over the corpus directory.
func NewStatusReporter(dir string, staleAge time.Duration) *StatusReporter {
	if staleAge <= 0 {
		staleAge = DefaultStaleAge
	}
	return &StatusReporter{dir: dir, staleAge: staleAge, now: time.Now}
}

// Report never fails: a missing manifest is the not_extracted state, and
// any other read problem is reported the same way.
func (r *StatusReporter) Report() *StatusReport {
	manifest, err := corpus.LoadManifest(r.dir)
	if err != nil {
		return &StatusReport{Status: StatusNotExtracted}
	}

	staleness := r.now().Sub(manifest.ExtractedAt)
	status := StatusOK
	if staleness > r.staleAge {
		status = StatusStale
	}
	return &StatusReport{
		Status:           status,
		StalenessSeconds: int64(staleness.Seconds()),
		ExtractedAt:      manifest.ExtractedAt,
		TotalUnits:       manifest.TotalUnits,
		Counts:           manifest.Counts,
		GitSHA:           manifest.GitSHA,
		GitBranch:        manifest.GitBranch,
	}
}
