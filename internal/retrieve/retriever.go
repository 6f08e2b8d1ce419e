// Package retrieve orchestrates the query pipeline: classify, execute,
// rank, assemble, format. The retriever never returns an error to its
// caller; store and embedding failures degrade the pipeline tier by tier
// until something answerable remains.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/codectx/codectx/internal/assemble"
	"github.com/codectx/codectx/internal/search"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// DefaultBudget is the token budget used when the caller does not name one.
const DefaultBudget = 8000

// Degradation tiers. Tier 0 is the full pipeline; each higher tier serves
// the query from a narrower source set.
const (
	TierFull        = 0
	TierNoVector    = 1
	TierGraphOnly   = 2
	TierDirectOnly  = 3
	TierUnavailable = 4
)

// RetrievalResult is the complete answer for one query. It is always
// well-formed; at tier 4 the context is empty and ErrorMetadata explains
// what went down.
type RetrievalResult struct {
	Context        string                  `json:"context"`
	Sources        []unit.SourceAttribution `json:"sources"`
	Classification unit.Classification     `json:"classification"`
	Strategy       string                  `json:"strategy"`
	TokensUsed     int                     `json:"tokens_used"`
	Budget         int                     `json:"budget"`
	Trace          unit.RetrievalTrace     `json:"trace"`
	ErrorMetadata  map[string]string       `json:"error_metadata,omitempty"`
}

// Retriever runs the pipeline over a wired set of components.
type Retriever struct {
	classifier *search.QueryClassifier
	executor   *search.Executor
	ranker     *search.Ranker
	assembler  *assemble.Assembler
	metadata   store.MetadataStore

	defaultBudget int
	rankLimit     int
	formatTag     string
	logger        *slog.Logger
	traceSink     func(unit.RetrievalTrace)
	now           func() time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithDefaultBudget overrides the budget used when a query names none.
func WithDefaultBudget(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.defaultBudget = n
		}
	}
}

// WithRankLimit caps how many ranked candidates reach the assembler.
func WithRankLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.rankLimit = n
		}
	}
}

// WithFormat sets the default output format for queries that name none.
func WithFormat(tag string) Option {
	return func(r *Retriever) { r.formatTag = tag }
}

// WithLogger overrides the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTraceSink registers a callback invoked with every query's trace.
func WithTraceSink(sink func(unit.RetrievalTrace)) Option {
	return func(r *Retriever) { r.traceSink = sink }
}

// NewRetriever wires the pipeline. The metadata store also backs the
// structural overview at the top of every assembled context.
func NewRetriever(
	classifier *search.QueryClassifier,
	executor *search.Executor,
	ranker *search.Ranker,
	assembler *assemble.Assembler,
	metadata store.MetadataStore,
	opts ...Option,
) *Retriever {
	r := &Retriever{
		classifier:    classifier,
		executor:      executor,
		ranker:        ranker,
		assembler:     assembler,
		metadata:      metadata,
		defaultBudget: DefaultBudget,
		rankLimit:     search.DefaultLimit,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// QueryOption adjusts a single Retrieve call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	budget    int
	formatTag string
	formatSet bool
}

// WithBudget sets the token budget for this query.
func WithBudget(n int) QueryOption {
	return func(q *queryOptions) { q.budget = n }
}

// WithQueryFormat sets the output format for this query, overriding the
// retriever default.
func WithQueryFormat(tag string) QueryOption {
	return func(q *queryOptions) {
		q.formatTag = tag
		q.formatSet = true
	}
}

// Retrieve answers one query. It never returns an error: failures along
// the pipeline drop it to a higher degradation tier, and the worst case is
// a tier-4 result with an empty context and populated ErrorMetadata.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...QueryOption) *RetrievalResult {
	qo := queryOptions{budget: r.defaultBudget, formatTag: r.formatTag}
	for _, opt := range opts {
		opt(&qo)
	}
	if qo.budget < 0 {
		qo.budget = r.defaultBudget
	}

	start := r.now()
	cl := r.classifier.Classify(query)

	exec, tier := r.execute(ctx, query, cl)

	var ranked []unit.Candidate
	strategy := ""
	candidateCount := 0
	if exec != nil {
		strategy = exec.Strategy
		candidateCount = len(exec.Candidates)
		ranked = r.ranker.Rank(exec.Lists, cl, r.rankLimit)
	}

	result := &RetrievalResult{
		Classification: cl,
		Strategy:       strategy,
		Budget:         qo.budget,
		Sources:        []unit.SourceAttribution{},
	}

	if tier >= TierUnavailable {
		r.finishUnavailable(result, exec, start)
		return result
	}

	assembled, err := r.assembler.Assemble(ctx, ranked, r.structuralOverview(ctx), qo.budget)
	if err != nil {
		r.logger.Error("context assembly failed", "error", err, "query", query)
		tier = TierUnavailable
		result.ErrorMetadata = map[string]string{"assemble": err.Error()}
		r.finishUnavailable(result, exec, start)
		return result
	}

	result.Context = assembled.Context
	result.Sources = assembled.Sources
	result.TokensUsed = assembled.TokensUsed

	if qo.formatTag != "" {
		if formatter, ferr := assemble.NewFormatter(qo.formatTag); ferr != nil {
			r.logger.Warn("unknown format, returning raw context", "format", qo.formatTag)
		} else if formatter != nil {
			result.Context = formatter.Format(assembled)
		}
	}

	result.Trace = r.trace(cl, strategy, candidateCount, len(ranked), assembled.TokensUsed, tier, start)
	r.emit(result.Trace)

	if tier > TierFull {
		r.logger.Warn("query served degraded",
			"tier", tier, "strategy", strategy, "query", query)
	} else {
		r.logger.Debug("query served",
			"strategy", strategy, "candidates", candidateCount,
			"tokens", assembled.TokensUsed, "elapsed_ms", result.Trace.ElapsedMS)
	}
	return result
}

// execute runs the classified strategy and walks the degradation ladder on
// failure: full pipeline, then keyword+graph, then graph alone, then direct
// metadata lookups, then nothing.
func (r *Retriever) execute(ctx context.Context, query string, cl unit.Classification) (*search.Execution, int) {
	exec, err := r.executor.Execute(ctx, query, cl)
	if err == nil {
		if len(exec.Errors) == 0 {
			return exec, TierFull
		}
		// Hybrid with partial failures: the surviving lists decide the tier.
		tier, strategy := tierForLists(exec.Lists)
		exec.Strategy = strategy
		r.logSourceErrors(query, exec.Errors)
		return exec, tier
	}
	r.logger.Warn("primary strategy failed, degrading",
		"strategy", search.SelectStrategy(cl), "error", err, "query", query)

	kw, kerr := r.executor.KeywordSearch(ctx, cl.Keywords)
	gr, gerr := r.executor.GraphSearch(ctx, cl.Keywords)
	if kerr == nil || gerr == nil {
		fallback := &search.Execution{Query: query, Errors: make(map[unit.CandidateSource]error)}
		if kerr == nil {
			fallback.Lists = append(fallback.Lists, kw)
		} else {
			fallback.Errors[unit.SourceKeyword] = kerr
		}
		if gerr == nil {
			fallback.Lists = append(fallback.Lists, gr)
		} else {
			fallback.Errors[unit.SourceGraph] = gerr
		}
		fallback.Candidates = search.Deduplicate(fallback.Lists)
		tier, strategy := tierForLists(fallback.Lists)
		fallback.Strategy = strategy
		return fallback, tier
	}

	direct, derr := r.executor.DirectSearch(ctx, cl.Keywords)
	if derr == nil {
		fallback := &search.Execution{
			Query:    query,
			Strategy: search.StrategyDirect,
			Lists:    []search.CandidateList{direct},
			Errors:   make(map[unit.CandidateSource]error),
		}
		fallback.Candidates = search.Deduplicate(fallback.Lists)
		return fallback, TierDirectOnly
	}

	r.logger.Error("all retrieval sources failed",
		"query", query, "keyword_error", kerr, "graph_error", gerr, "direct_error", derr)
	return &search.Execution{
		Query: query,
		Errors: map[unit.CandidateSource]error{
			unit.SourceKeyword: kerr,
			unit.SourceGraph:   gerr,
			unit.SourceDirect:  derr,
		},
	}, TierUnavailable
}

// tierForLists maps the surviving source lists to a degradation tier and a
// representative strategy name.
func tierForLists(lists []search.CandidateList) (int, string) {
	var hasVector, hasKeyword, hasGraph bool
	for _, l := range lists {
		switch l.Source {
		case unit.SourceVector:
			hasVector = true
		case unit.SourceKeyword:
			hasKeyword = true
		case unit.SourceGraph:
			hasGraph = true
		}
	}
	switch {
	case hasVector:
		return TierFull, search.StrategyHybrid
	case hasKeyword:
		return TierNoVector, search.StrategyKeyword
	case hasGraph:
		return TierGraphOnly, search.StrategyGraph
	default:
		return TierUnavailable, ""
	}
}

// structuralOverview summarizes the corpus shape from metadata counts. An
// unavailable metadata store just means no overview section.
func (r *Retriever) structuralOverview(ctx context.Context) string {
	counts, err := r.metadata.CountByType(ctx)
	if err != nil || len(counts) == 0 {
		return ""
	}

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	total := 0
	for _, t := range types {
		n := counts[unit.Type(t)]
		total += n
		parts = append(parts, fmt.Sprintf("%d %s", n, t))
	}
	return fmt.Sprintf("Codebase: %d units (%s)", total, strings.Join(parts, ", "))
}

func (r *Retriever) finishUnavailable(result *RetrievalResult, exec *search.Execution, start time.Time) {
	if result.ErrorMetadata == nil {
		result.ErrorMetadata = make(map[string]string)
	}
	if exec != nil {
		for src, err := range exec.Errors {
			if err != nil {
				result.ErrorMetadata[string(src)] = err.Error()
			}
		}
	}
	if len(result.ErrorMetadata) == 0 {
		result.ErrorMetadata["error"] = "no retrieval source available"
	}
	result.Context = ""
	result.Sources = []unit.SourceAttribution{}
	result.TokensUsed = 0
	result.Trace = r.trace(result.Classification, result.Strategy, 0, 0, 0, TierUnavailable, start)
	r.emit(result.Trace)
}

func (r *Retriever) trace(cl unit.Classification, strategy string, candidates, ranked, tokens, tier int, start time.Time) unit.RetrievalTrace {
	return unit.RetrievalTrace{
		Classification:  cl,
		Strategy:        strategy,
		CandidateCount:  candidates,
		RankedCount:     ranked,
		TokensUsed:      tokens,
		ElapsedMS:       r.now().Sub(start).Milliseconds(),
		DegradationTier: tier,
		Timestamp:       start,
	}
}

func (r *Retriever) emit(trace unit.RetrievalTrace) {
	if r.traceSink != nil {
		r.traceSink(trace)
	}
}

func (r *Retriever) logSourceErrors(query string, errs map[unit.CandidateSource]error) {
	for src, err := range errs {
		r.logger.Warn("retrieval source failed",
			"source", string(src), "error", err, "query", query)
	}
}
