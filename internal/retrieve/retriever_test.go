package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/assemble"
	"github.com/codectx/codectx/internal/embed"
	"github.com/codectx/codectx/internal/search"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

var errStoreDown = errors.New("store unavailable")

// failingVectorStore errors on every search and write.
type failingVectorStore struct {
	dims int
}

func (f *failingVectorStore) Store(context.Context, string, []float32, map[string]string) error {
	return errStoreDown
}

func (f *failingVectorStore) StoreBatch(context.Context, []string, [][]float32, []map[string]string) error {
	return errStoreDown
}

func (f *failingVectorStore) Search(context.Context, []float32, int, map[string]string) ([]store.VectorMatch, error) {
	return nil, errStoreDown
}

func (f *failingVectorStore) Delete(context.Context, ...string) error { return errStoreDown }
func (f *failingVectorStore) Count() int                              { return 0 }
func (f *failingVectorStore) Dimensions() int                         { return f.dims }
func (f *failingVectorStore) Close() error                            { return nil }

// brokenSubstringStore passes lookups through but fails substring search,
// knocking out the keyword strategy while the graph strategy survives.
type brokenSubstringStore struct {
	store.MetadataStore
}

func (b *brokenSubstringStore) SearchSubstring(context.Context, string, int) ([]*unit.Unit, error) {
	return nil, errStoreDown
}

// downMetadataStore fails every read, taking keyword, graph, and direct
// strategies down with it.
type downMetadataStore struct {
	store.MetadataStore
}

func (d *downMetadataStore) Get(context.Context, string) (*unit.Unit, error) {
	return nil, errStoreDown
}

func (d *downMetadataStore) SearchSubstring(context.Context, string, int) ([]*unit.Unit, error) {
	return nil, errStoreDown
}

func (d *downMetadataStore) CountByType(context.Context) (map[unit.Type]int, error) {
	return nil, errStoreDown
}

// pipeline bundles the real stores, fully indexed with the given units.
type pipeline struct {
	embedder embed.Embedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	keywords store.KeywordIndex
	graph    store.GraphStore
}

func newPipeline(t *testing.T, units []*unit.Unit) *pipeline {
	t.Helper()
	ctx := context.Background()

	embedder := embed.NewStaticEmbedder()
	vectors := store.NewMemoryVectorStore(embedder.Dimensions())
	metadata, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	keywords, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	graph := store.NewMemoryGraphStore()
	t.Cleanup(func() {
		metadata.Close()
		keywords.Close()
		vectors.Close()
	})

	for _, u := range units {
		u.Fingerprint()
		require.NoError(t, metadata.Upsert(ctx, u))
		graph.AddUnits(u)

		vec, err := embedder.Embed(ctx, u.SourceCode)
		require.NoError(t, err)
		id := u.Identifier + "#whole"
		meta := map[string]string{"parent": u.Identifier, "type": string(u.Type), "file_path": u.FilePath}
		require.NoError(t, vectors.Store(ctx, id, vec, meta))
		require.NoError(t, keywords.Index(ctx, []store.KeywordDocument{{ID: id, Content: u.SourceCode}}))
	}
	return &pipeline{
		embedder: embedder,
		vectors:  vectors,
		metadata: metadata,
		keywords: keywords,
		graph:    graph,
	}
}

// retriever wires a Retriever over the pipeline, with optional store
// stand-ins for failure injection.
func (p *pipeline) retriever(vectors store.VectorStore, metadata store.MetadataStore, opts ...Option) *Retriever {
	if vectors == nil {
		vectors = p.vectors
	}
	if metadata == nil {
		metadata = p.metadata
	}
	executor := search.NewExecutor(p.embedder, vectors, metadata, p.keywords, p.graph)
	return NewRetriever(
		search.NewQueryClassifier(),
		executor,
		search.NewRanker(p.graph),
		assemble.NewAssembler(metadata),
		metadata,
		opts...,
	)
}

func userCorpus() []*unit.Unit {
	return []*unit.Unit{{
		Identifier: "User",
		Type:       unit.TypeModel,
		FilePath:   "app/models/user.rb",
		SourceCode: "class User < ApplicationRecord\n  validates :email, presence: true\nend",
	}}
}

func TestRetrieve_FullPipeline(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil)

	result := r.Retrieve(context.Background(), "User email validation")

	assert.Equal(t, unit.TypeModel, result.Classification.TargetType)
	assert.Equal(t, search.StrategyHybrid, result.Strategy)
	assert.Equal(t, TierFull, result.Trace.DegradationTier)
	assert.Contains(t, result.Context, "validates :email")
	assert.LessOrEqual(t, result.TokensUsed, result.Budget)
	assert.Empty(t, result.ErrorMetadata)

	require.NotEmpty(t, result.Sources)
	var userScore float64
	for _, src := range result.Sources {
		if src.Identifier == "User" {
			userScore = src.Score
		}
	}
	assert.Greater(t, userScore, 0.5)
}

func TestRetrieve_Tier1WithoutVectors(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(&failingVectorStore{dims: p.embedder.Dimensions()}, nil)

	result := r.Retrieve(context.Background(), "email validation")

	assert.Equal(t, TierNoVector, result.Trace.DegradationTier)
	assert.Contains(t, []string{search.StrategyKeyword, search.StrategyGraph}, result.Strategy)

	ids := make(map[string]bool)
	for _, src := range result.Sources {
		ids[src.Identifier] = true
	}
	assert.True(t, ids["User"], "keyword path still finds the unit")
	assert.Contains(t, result.Context, "validates :email")
}

func TestRetrieve_Tier2GraphOnly(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(
		&failingVectorStore{dims: p.embedder.Dimensions()},
		&brokenSubstringStore{MetadataStore: p.metadata},
	)

	result := r.Retrieve(context.Background(), "User email validation")

	assert.Equal(t, TierGraphOnly, result.Trace.DegradationTier)
	assert.Equal(t, search.StrategyGraph, result.Strategy)

	ids := make(map[string]bool)
	for _, src := range result.Sources {
		ids[src.Identifier] = true
	}
	assert.True(t, ids["User"], "graph seeds resolve through identifier lookup")
}

func TestRetrieve_Tier4AllStoresDown(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(
		&failingVectorStore{dims: p.embedder.Dimensions()},
		&downMetadataStore{MetadataStore: p.metadata},
	)

	result := r.Retrieve(context.Background(), "User email validation")

	assert.Equal(t, TierUnavailable, result.Trace.DegradationTier)
	assert.Equal(t, "", result.Context)
	assert.Empty(t, result.Sources)
	assert.NotEmpty(t, result.ErrorMetadata)
}

func TestRetrieve_BudgetZero(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil)

	result := r.Retrieve(context.Background(), "User email validation", WithBudget(0))

	assert.Equal(t, "", result.Context)
	assert.Empty(t, result.Sources)
	assert.Equal(t, 0, result.TokensUsed)
	assert.Equal(t, TierFull, result.Trace.DegradationTier, "budget exhaustion is not degradation")
}

func TestRetrieve_StopWordOnlyQuery(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil)

	result := r.Retrieve(context.Background(), "how does the")

	assert.Empty(t, result.Classification.Keywords)
	assert.Equal(t, TierFull, result.Trace.DegradationTier)
	assert.LessOrEqual(t, result.TokensUsed, result.Budget)
}

func TestRetrieve_FormatsOutput(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil)

	result := r.Retrieve(context.Background(), "User email validation",
		WithQueryFormat(assemble.FormatXML))

	assert.Contains(t, result.Context, "<codebase-context>")
	assert.Contains(t, result.Context, `identifier="User"`)
}

func TestRetrieve_UnknownFormatFallsBackToRaw(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil)

	result := r.Retrieve(context.Background(), "User email validation",
		WithQueryFormat("confluence"))

	assert.NotContains(t, result.Context, "<codebase-context>")
	assert.Contains(t, result.Context, "validates :email")
}

func TestRetrieve_TraceSink(t *testing.T) {
	p := newPipeline(t, userCorpus())

	var traces []unit.RetrievalTrace
	r := p.retriever(nil, nil, WithTraceSink(func(tr unit.RetrievalTrace) {
		traces = append(traces, tr)
	}))

	r.Retrieve(context.Background(), "User email validation")
	require.Len(t, traces, 1)
	assert.Equal(t, search.StrategyHybrid, traces[0].Strategy)
	assert.GreaterOrEqual(t, traces[0].CandidateCount, 1)
	assert.Equal(t, TierFull, traces[0].DegradationTier)
}

func TestRetrieve_DefaultBudgetOption(t *testing.T) {
	p := newPipeline(t, userCorpus())
	r := p.retriever(nil, nil, WithDefaultBudget(500))

	result := r.Retrieve(context.Background(), "User email validation")
	assert.Equal(t, 500, result.Budget)
	assert.LessOrEqual(t, result.TokensUsed, 500)
}

func TestStructuralOverview(t *testing.T) {
	p := newPipeline(t, []*unit.Unit{
		{Identifier: "User", Type: unit.TypeModel, SourceCode: "class User; end"},
		{Identifier: "Order", Type: unit.TypeModel, SourceCode: "class Order; end"},
		{Identifier: "OrdersController", Type: unit.TypeController, SourceCode: "class OrdersController; end"},
	})
	r := p.retriever(nil, nil)

	overview := r.structuralOverview(context.Background())
	assert.Equal(t, "Codebase: 3 units (1 controller, 2 model)", overview)
}
