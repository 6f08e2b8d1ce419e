package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codectx/codectx/internal/embed"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// Strategy names.
const (
	StrategyVector  = "vector"
	StrategyKeyword = "keyword"
	StrategyGraph   = "graph"
	StrategyHybrid  = "hybrid"
	StrategyDirect  = "direct"
)

const (
	// DefaultLimit is the per-strategy candidate cap.
	DefaultLimit = 10

	// DefaultStoreTimeout bounds each store call; hybrid fan-out shares one
	// deadline across its three strategies.
	DefaultStoreTimeout = 5 * time.Second

	// graphMaxHops is how far the graph strategy expands from its seeds.
	graphMaxHops = 2
)

// CandidateList is one strategy's ranked output, order significant.
type CandidateList struct {
	Source     unit.CandidateSource
	Candidates []unit.Candidate
}

// Execution is the executor's result: the per-source lists (for rank
// fusion), the de-duplicated merge, and any per-source failures.
type Execution struct {
	Strategy   string
	Query      string
	Lists      []CandidateList
	Candidates []unit.Candidate
	Errors     map[unit.CandidateSource]error
}

// Executor dispatches the strategy chosen for a classification.
type Executor struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	keywords store.KeywordIndex
	graph    store.GraphStore

	limit        int
	storeTimeout time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLimit overrides the per-strategy candidate cap.
func WithLimit(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithStoreTimeout overrides the per-call store deadline.
func WithStoreTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// NewExecutor wires an executor over the search surfaces.
func NewExecutor(
	embedder embed.Embedder,
	vectors store.VectorStore,
	metadata store.MetadataStore,
	keywords store.KeywordIndex,
	graph store.GraphStore,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		embedder:     embedder,
		vectors:      vectors,
		metadata:     metadata,
		keywords:     keywords,
		graph:        graph,
		limit:        DefaultLimit,
		storeTimeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SelectStrategy applies the strategy table, first match wins.
func SelectStrategy(cl unit.Classification) string {
	switch {
	case cl.Intent == unit.IntentTrace:
		return StrategyHybrid
	case cl.Scope == unit.ScopeSpecific && cl.TargetType != unit.TypeNone:
		return StrategyDirect
	case cl.TargetType != unit.TypeNone:
		return StrategyHybrid
	case cl.FrameworkContext:
		return StrategyKeyword
	default:
		return StrategyVector
	}
}

// Execute runs the selected strategy. For hybrid, individual source
// failures are recorded in Execution.Errors rather than failing the whole
// call, as long as at least one source produced results; the retriever
// inspects Errors to pick a degradation tier.
func (e *Executor) Execute(ctx context.Context, query string, cl unit.Classification) (*Execution, error) {
	strategy := SelectStrategy(cl)
	return e.ExecuteStrategy(ctx, strategy, query, cl)
}

// ExecuteStrategy runs one named strategy. The retriever calls this
// directly when degrading to a narrower strategy set.
func (e *Executor) ExecuteStrategy(ctx context.Context, strategy, query string, cl unit.Classification) (*Execution, error) {
	exec := &Execution{
		Strategy: strategy,
		Query:    query,
		Errors:   make(map[unit.CandidateSource]error),
	}

	switch strategy {
	case StrategyHybrid:
		if err := e.runHybrid(ctx, query, cl, exec); err != nil {
			return exec, err
		}
	case StrategyVector:
		list, err := e.VectorSearch(ctx, query, cl)
		if err != nil {
			return exec, err
		}
		exec.Lists = append(exec.Lists, list)
	case StrategyKeyword:
		list, err := e.KeywordSearch(ctx, cl.Keywords)
		if err != nil {
			return exec, err
		}
		exec.Lists = append(exec.Lists, list)
	case StrategyGraph:
		list, err := e.GraphSearch(ctx, cl.Keywords)
		if err != nil {
			return exec, err
		}
		exec.Lists = append(exec.Lists, list)
	case StrategyDirect:
		list, err := e.DirectSearch(ctx, cl.Keywords)
		if err != nil {
			return exec, err
		}
		exec.Lists = append(exec.Lists, list)
	default:
		list, err := e.VectorSearch(ctx, query, cl)
		if err != nil {
			return exec, err
		}
		exec.Strategy = StrategyVector
		exec.Lists = append(exec.Lists, list)
	}

	exec.Candidates = Deduplicate(exec.Lists)
	return exec, nil
}

// runHybrid fans out vector, keyword, and graph concurrently under one
// shared deadline and joins whatever arrived.
func (e *Executor) runHybrid(ctx context.Context, query string, cl unit.Classification, exec *Execution) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	results := make([]CandidateList, 3)
	errs := make([]error, 3)

	var g errgroup.Group
	g.Go(func() error {
		results[0], errs[0] = e.VectorSearch(deadlineCtx, query, cl)
		return nil
	})
	g.Go(func() error {
		results[1], errs[1] = e.KeywordSearch(deadlineCtx, cl.Keywords)
		return nil
	})
	g.Go(func() error {
		results[2], errs[2] = e.GraphSearch(deadlineCtx, cl.Keywords)
		return nil
	})
	_ = g.Wait()

	sources := []unit.CandidateSource{unit.SourceVector, unit.SourceKeyword, unit.SourceGraph}
	anyOK := false
	for i, src := range sources {
		if errs[i] != nil {
			exec.Errors[src] = errs[i]
			continue
		}
		anyOK = true
		exec.Lists = append(exec.Lists, results[i])
	}
	if !anyOK {
		// Everything failed; surface the vector error as representative.
		return errs[0]
	}
	return nil
}

// VectorSearch embeds the query and searches the vector store, filtered to
// the target type when the classification names one.
func (e *Executor) VectorSearch(ctx context.Context, query string, cl unit.Classification) (CandidateList, error) {
	list := CandidateList{Source: unit.SourceVector}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return list, err
	}

	var filters map[string]string
	if cl.TargetType != unit.TypeNone {
		filters = map[string]string{"type": string(cl.TargetType)}
	}

	matches, err := e.vectors.Search(ctx, vec, 2*e.limit, filters)
	if err != nil {
		return list, err
	}

	best := make(map[string]int)
	for _, m := range matches {
		id := parentIdentifier(m.ID, m.Metadata)
		if idx, ok := best[id]; ok {
			if m.Score > list.Candidates[idx].Score {
				list.Candidates[idx].Score = m.Score
				list.Candidates[idx].Metadata = m.Metadata
			}
			continue
		}
		best[id] = len(list.Candidates)
		list.Candidates = append(list.Candidates, unit.Candidate{
			Identifier: id,
			Score:      m.Score,
			Source:     unit.SourceVector,
			Metadata:   m.Metadata,
		})
	}
	sortByScore(list.Candidates)
	if len(list.Candidates) > e.limit {
		list.Candidates = list.Candidates[:e.limit]
	}
	return list, nil
}

// KeywordSearch merges two keyword surfaces: identifier substring matches
// from the metadata store (positional scores) and BM25 content hits from
// the keyword index. Scores sum per identifier across keywords.
func (e *Executor) KeywordSearch(ctx context.Context, keywords []string) (CandidateList, error) {
	list := CandidateList{Source: unit.SourceKeyword}
	if len(keywords) == 0 {
		return list, nil
	}

	scores := make(map[string]float64)
	meta := make(map[string]map[string]string)

	for _, kw := range keywords {
		units, err := e.metadata.SearchSubstring(ctx, kw, e.limit)
		if err != nil {
			return list, err
		}
		for pos, u := range units {
			scores[u.Identifier] += 1.0 / float64(1+pos)
			if meta[u.Identifier] == nil {
				meta[u.Identifier] = unitMetadata(u)
			}
		}
	}

	if e.keywords != nil {
		hits, err := e.keywords.Search(ctx, keywords, e.limit*2)
		if err != nil {
			return list, err
		}
		for _, hit := range hits {
			id := parentIdentifier(hit.ID, nil)
			scores[id] += hit.Score
		}
	}

	for id, score := range scores {
		list.Candidates = append(list.Candidates, unit.Candidate{
			Identifier: id,
			Score:      score,
			Source:     unit.SourceKeyword,
			Metadata:   meta[id],
		})
	}
	sortByScore(list.Candidates)
	if len(list.Candidates) > e.limit {
		list.Candidates = list.Candidates[:e.limit]
	}
	return list, nil
}

// GraphSearch seeds from keywords that resolve to known identifiers and
// expands up to two hops in both directions; score decays as 1/(1+hops).
func (e *Executor) GraphSearch(ctx context.Context, keywords []string) (CandidateList, error) {
	list := CandidateList{Source: unit.SourceGraph}

	scores := make(map[string]float64)
	for _, kw := range keywords {
		seed, err := e.metadata.Get(ctx, kw)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return list, err
		}
		if s := 1.0; s > scores[seed.Identifier] {
			scores[seed.Identifier] = s
		}
		for id, hops := range e.graph.Neighborhood(seed.Identifier, graphMaxHops) {
			if s := 1.0 / float64(1+hops); s > scores[id] {
				scores[id] = s
			}
		}
	}

	for id, score := range scores {
		list.Candidates = append(list.Candidates, unit.Candidate{
			Identifier: id,
			Score:      score,
			Source:     unit.SourceGraph,
		})
	}
	sortByScore(list.Candidates)
	if len(list.Candidates) > e.limit {
		list.Candidates = list.Candidates[:e.limit]
	}
	return list, nil
}

// DirectSearch resolves keywords straight to units in the metadata store.
func (e *Executor) DirectSearch(ctx context.Context, keywords []string) (CandidateList, error) {
	list := CandidateList{Source: unit.SourceDirect}

	seen := make(map[string]bool)
	for _, kw := range keywords {
		u, err := e.metadata.Get(ctx, kw)
		if err != nil {
			if err == store.ErrNotFound {
				continue
			}
			return list, err
		}
		if seen[u.Identifier] {
			continue
		}
		seen[u.Identifier] = true
		list.Candidates = append(list.Candidates, unit.Candidate{
			Identifier: u.Identifier,
			Score:      1.0,
			Source:     unit.SourceDirect,
			Metadata:   unitMetadata(u),
		})
	}
	if len(list.Candidates) > e.limit {
		list.Candidates = list.Candidates[:e.limit]
	}
	return list, nil
}

// Deduplicate merges per-source lists by identifier: the highest score wins;
// on equal scores the higher-priority source wins (vector > graph > keyword
// > direct). First occurrence position is kept, so the merge is stable.
func Deduplicate(lists []CandidateList) []unit.Candidate {
	index := make(map[string]int)
	var merged []unit.Candidate

	for _, list := range lists {
		for _, c := range list.Candidates {
			idx, ok := index[c.Identifier]
			if !ok {
				index[c.Identifier] = len(merged)
				merged = append(merged, c)
				continue
			}
			existing := &merged[idx]
			if c.Score > existing.Score ||
				(c.Score == existing.Score && c.Source.Priority() > existing.Source.Priority()) {
				keep := *existing
				*existing = c
				if existing.Metadata == nil {
					existing.Metadata = keep.Metadata
				}
			} else if existing.Metadata == nil {
				existing.Metadata = c.Metadata
			}
		}
	}
	return merged
}

// parentIdentifier maps a chunk ID back to its unit identifier.
func parentIdentifier(chunkID string, metadata map[string]string) string {
	if parent, ok := metadata["parent"]; ok && parent != "" {
		return parent
	}
	if idx := strings.Index(chunkID, "#"); idx >= 0 {
		return chunkID[:idx]
	}
	return chunkID
}

func unitMetadata(u *unit.Unit) map[string]string {
	meta := map[string]string{"type": string(u.Type)}
	if u.FilePath != "" {
		meta["file_path"] = u.FilePath
	}
	for k, v := range u.Metadata {
		if _, exists := meta[k]; !exists {
			meta[k] = v
		}
	}
	return meta
}

func sortByScore(cands []unit.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Identifier < cands[j].Identifier
	})
}
