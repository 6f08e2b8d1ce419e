package guard

import (
	"sort"

	"github.com/codectx/codectx/internal/search"
)

// Gap detection defaults: a rating at or below the score threshold counts
// as a bad answer, and a keyword or identifier must recur before it is
// reported.
const (
	DefaultLowScore = 2.0
	DefaultMinCount = 2
)

// Gap is a recurring term from negative feedback.
type Gap struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// GapReport aggregates what users keep asking for and not getting.
type GapReport struct {
	LowScoreKeywords []Gap `json:"low_score_keywords"`
	MissingUnits     []Gap `json:"missing_units"`
}

// GapDetector mines the feedback log for retrieval blind spots.
type GapDetector struct {
	store    *FeedbackStore
	lowScore float64
	minCount int
}

// NewGapDetector creates a detector with the default thresholds.
func NewGapDetector(store *FeedbackStore) *GapDetector {
	return &GapDetector{store: store, lowScore: DefaultLowScore, minCount: DefaultMinCount}
}

// Detect walks the feedback log once. Keywords from low-rated queries and
// identifiers from gap reports are counted; anything recurring at least
// minCount times makes the report, most frequent first.
func (d *GapDetector) Detect() (*GapReport, error) {
	keywords := make(map[string]int)
	missing := make(map[string]int)

	err := d.store.Each(func(f Feedback) error {
		switch f.Type {
		case FeedbackRating:
			if f.Score <= d.lowScore {
				for _, kw := range search.ExtractKeywords(f.Query) {
					keywords[kw]++
				}
			}
		case FeedbackGap:
			if f.MissingUnit != "" {
				missing[f.MissingUnit]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &GapReport{
		LowScoreKeywords: d.collect(keywords),
		MissingUnits:     d.collect(missing),
	}, nil
}

func (d *GapDetector) collect(counts map[string]int) []Gap {
	gaps := []Gap{}
	for term, count := range counts {
		if count >= d.minCount {
			gaps = append(gaps, Gap{Term: term, Count: count})
		}
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Count != gaps[j].Count {
			return gaps[i].Count > gaps[j].Count
		}
		return gaps[i].Term < gaps[j].Term
	})
	return gaps
}
