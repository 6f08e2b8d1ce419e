package search

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// rrfK is the reciprocal-rank-fusion constant.
const rrfK = 60

// Feature weights for stage-2 scoring. They sum to 1.0.
const (
	weightBase       = 0.40
	weightKeyword    = 0.25
	weightRecency    = 0.10
	weightImportance = 0.15
	weightTypeMatch  = 0.10
)

// recencyHalfLifeDays controls how fast freshness decays.
const recencyHalfLifeDays = 30.0

// diversityStep is the per-repeat penalty applied to candidates whose type
// has already appeared in the ranked list.
const diversityStep = 0.1

// Ranker fuses per-source candidate lists, scores features, and applies a
// diversity penalty.
type Ranker struct {
	graph store.GraphStore
	now   func() time.Time
}

// NewRanker creates a ranker. graph may be nil, in which case the
// importance feature is zero for every candidate.
func NewRanker(graph store.GraphStore) *Ranker {
	return &Ranker{graph: graph, now: time.Now}
}

// Rank merges the executor's lists and returns the top limit candidates.
//
// Stage 1 applies reciprocal rank fusion when candidates arrive from two or
// more sources. Stage 2 computes a weighted feature score. Stage 3 walks
// the sorted list once, penalizing repeats of the same type, and re-sorts.
// Sorting is stable throughout, so equal scores keep their relative order.
func (r *Ranker) Rank(lists []CandidateList, cl unit.Classification, limit int) []unit.Candidate {
	candidates := r.fuse(lists)
	if len(candidates) == 0 {
		return []unit.Candidate{}
	}

	var ranks map[string]float64
	if r.graph != nil {
		ranks = r.graph.PageRank()
	}

	for i := range candidates {
		candidates[i].Score = r.featureScore(&candidates[i], cl, ranks)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	r.applyDiversityPenalty(candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// fuse performs RRF across lists when at least two sources contributed,
// otherwise returns the plain de-duplicated merge with raw scores.
func (r *Ranker) fuse(lists []CandidateList) []unit.Candidate {
	populated := 0
	for _, list := range lists {
		if len(list.Candidates) > 0 {
			populated++
		}
	}

	merged := Deduplicate(lists)
	if populated < 2 {
		return merged
	}

	rrf := make(map[string]float64)
	for _, list := range lists {
		for rank, c := range list.Candidates {
			rrf[c.Identifier] += 1.0 / float64(rrfK+rank+1)
		}
	}

	// Normalize so the best fused candidate scores 1.0, keeping the base
	// feature on the same [0,1] scale as raw cosine scores.
	maxFused := 0.0
	for _, v := range rrf {
		if v > maxFused {
			maxFused = v
		}
	}
	if maxFused > 0 {
		for id := range rrf {
			rrf[id] /= maxFused
		}
	}

	// Keep the de-duplicated candidates (max raw score, source priority)
	// but rank them by fused score; raw score breaks RRF ties.
	sort.SliceStable(merged, func(i, j int) bool {
		fi, fj := rrf[merged[i].Identifier], rrf[merged[j].Identifier]
		if fi != fj {
			return fi > fj
		}
		return merged[i].Score > merged[j].Score
	})
	for i := range merged {
		merged[i].Score = rrf[merged[i].Identifier]
	}
	return merged
}

func (r *Ranker) featureScore(c *unit.Candidate, cl unit.Classification, ranks map[string]float64) float64 {
	base := c.Score
	keyword := keywordCoverage(c, cl.Keywords)
	recency := r.recencyScore(c.Metadata["updated_at"])
	importance := ranks[c.Identifier]

	typeMatch := 0.0
	if cl.TargetType != unit.TypeNone && c.Metadata["type"] == string(cl.TargetType) {
		typeMatch = 1.0
	}

	return weightBase*base +
		weightKeyword*keyword +
		weightRecency*recency +
		weightImportance*importance +
		weightTypeMatch*typeMatch
}

// keywordCoverage is the fraction of classification keywords found as
// case-insensitive substrings of the identifier or name-bearing metadata.
func keywordCoverage(c *unit.Candidate, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	haystack := strings.ToLower(strings.Join([]string{
		c.Identifier, c.Metadata["parent"], c.Metadata["file_path"],
	}, " "))
	found := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, kw) {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// recencyScore decays exponentially with age; unknown timestamps score a
// neutral 0.5.
func (r *Ranker) recencyScore(updatedAt string) float64 {
	if updatedAt == "" {
		return 0.5
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0.5
	}
	ageDays := r.now().Sub(t).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / recencyHalfLifeDays)
}

// applyDiversityPenalty multiplies the score of the k-th repeat of a type
// by (1 - 0.1k), clamped at zero.
func (r *Ranker) applyDiversityPenalty(candidates []unit.Candidate) {
	seen := make(map[string]int)
	for i := range candidates {
		t := candidates[i].Metadata["type"]
		k := seen[t]
		seen[t]++
		if k == 0 {
			continue
		}
		factor := 1.0 - diversityStep*float64(k)
		if factor < 0 {
			factor = 0
		}
		candidates[i].Score *= factor
	}
}
