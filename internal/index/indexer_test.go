package index

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/embed"
	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

// countingEmbedder wraps the deterministic embedder and counts batch calls.
type countingEmbedder struct {
	embed.Embedder
	batchCalls atomic.Int64
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{Embedder: embed.NewStaticEmbedder()}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	return e.Embedder.EmbedBatch(ctx, texts)
}

type testRig struct {
	indexer  *Indexer
	embedder *countingEmbedder
	vectors  store.VectorStore
	metadata store.MetadataStore
	keywords store.KeywordIndex
	graph    store.GraphStore
	cpPath   string
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	embedder := newCountingEmbedder()
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

	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	return &testRig{
		indexer:  NewIndexer(embedder, vectors, metadata, keywords, graph, cpPath),
		embedder: embedder,
		vectors:  vectors,
		metadata: metadata,
		keywords: keywords,
		graph:    graph,
		cpPath:   cpPath,
	}
}

func fixtureUnits() []*unit.Unit {
	units := []*unit.Unit{
		{
			Identifier: "User",
			Type:       unit.TypeModel,
			FilePath:   "app/models/user.rb",
			SourceCode: "class User < ApplicationRecord\n  validates :email, presence: true\nend",
		},
		{
			Identifier: "Order",
			Type:       unit.TypeModel,
			FilePath:   "app/models/order.rb",
			SourceCode: "class Order < ApplicationRecord\n  belongs_to :user\nend",
			Dependencies: []unit.Dependency{
				{Target: "User", Relationship: "belongs_to"},
			},
		},
	}
	for _, u := range units {
		u.Fingerprint()
	}
	return units
}

func TestIndexer_IndexAllPopulatesStores(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	stats, err := rig.indexer.IndexAll(ctx, fixtureUnits())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.UnitsSeen)
	assert.Equal(t, 2, stats.UnitsIndexed)
	assert.Zero(t, stats.UnitsSkipped)
	assert.Equal(t, 2, stats.ChunksEmbedded)

	assert.Equal(t, 2, rig.vectors.Count())
	count, err := rig.metadata.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, rig.graph.Size())
	assert.Equal(t, []string{"Order"}, rig.graph.DependentsOf("User"))

	kwCount, err := rig.keywords.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), kwCount)

	cp, err := LoadCheckpoint(rig.cpPath)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Len(t, cp.ProcessedHashes, 2)
	assert.Equal(t, rig.embedder.ModelName(), cp.Model)
	assert.False(t, cp.LastBatchAt.IsZero())
}

func TestIndexer_EmptySourceUnitSkipsEmbedding(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	units := append(fixtureUnits(), &unit.Unit{
		Identifier: "Legacy::Stub",
		Type:       unit.TypeRubyModule,
		FilePath:   "lib/legacy/stub.rb",
	})

	stats, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.UnitsIndexed)
	assert.Equal(t, 2, stats.ChunksEmbedded)
	assert.Equal(t, 2, rig.vectors.Count())

	count, err := rig.metadata.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// The chunkless unit is still checkpointed: the re-run embeds nothing.
	before := rig.embedder.batchCalls.Load()
	stats, err = rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.UnitsSkipped)
	assert.Equal(t, before, rig.embedder.batchCalls.Load())
}

func TestIndexer_ReindexUnchangedCorpusEmbedsNothing(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	units := fixtureUnits()

	_, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)
	callsAfterFull := rig.embedder.batchCalls.Load()

	stats, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsSkipped)
	assert.Zero(t, stats.ChunksEmbedded)
	assert.Equal(t, callsAfterFull, rig.embedder.batchCalls.Load(),
		"checkpoint hit rate is 100% on an unchanged corpus")
}

func TestIndexer_IndexAllPrunesRemovedUnits(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	units := fixtureUnits()

	_, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)

	// Second run without Order: it disappears from every store.
	_, err = rig.indexer.IndexAll(ctx, units[:1])
	require.NoError(t, err)

	_, err = rig.metadata.Get(ctx, "Order")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, rig.vectors.Count())

	cp, err := LoadCheckpoint(rig.cpPath)
	require.NoError(t, err)
	assert.NotContains(t, cp.ProcessedHashes, "Order")
}

func TestIndexer_IncrementalSkipsUnchanged(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	units := fixtureUnits()

	_, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)
	callsAfterFull := rig.embedder.batchCalls.Load()

	// Same corpus, nothing changed: no embedding work at all.
	stats, err := rig.indexer.IndexIncremental(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsSkipped)
	assert.Zero(t, stats.UnitsIndexed)
	assert.Equal(t, callsAfterFull, rig.embedder.batchCalls.Load())
}

func TestIndexer_IncrementalReindexesChanged(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	units := fixtureUnits()

	_, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)

	units[0].SourceCode += "\n# touched"
	units[0].Fingerprint()

	stats, err := rig.indexer.IndexIncremental(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UnitsIndexed)
	assert.Equal(t, 1, stats.UnitsSkipped)

	got, err := rig.metadata.Get(ctx, "User")
	require.NoError(t, err)
	assert.Contains(t, got.SourceCode, "# touched")
}

func TestIndexer_CheckpointModelChangeDiscardsProgress(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	units := fixtureUnits()

	_, err := rig.indexer.IndexAll(ctx, units)
	require.NoError(t, err)

	cp, err := LoadCheckpoint(rig.cpPath)
	require.NoError(t, err)
	cp.Model = "some-older-model"
	require.NoError(t, cp.Save(rig.cpPath))

	stats, err := rig.indexer.IndexIncremental(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsIndexed, "stale embedding space forces full re-index")
	assert.Zero(t, stats.UnitsSkipped)
}

func TestIndexer_CorruptCheckpointIsFatal(t *testing.T) {
	rig := newTestRig(t)
	require.NoError(t, os.WriteFile(rig.cpPath, []byte("{not json"), 0o644))

	_, err := rig.indexer.IndexIncremental(context.Background(), fixtureUnits())
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeCorruptCheckpoint, cerrors.GetCode(err))
	assert.True(t, cerrors.IsFatal(err))
}

func TestIndexer_DimensionMismatchSkipsBatch(t *testing.T) {
	embedder := newCountingEmbedder()
	// Vector store expects a different dimension than the embedder emits.
	vectors := store.NewMemoryVectorStore(embedder.Dimensions() + 1)
	metadata, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	defer metadata.Close()
	keywords, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer keywords.Close()

	ix := NewIndexer(embedder, vectors, metadata, keywords, store.NewMemoryGraphStore(),
		filepath.Join(t.TempDir(), "checkpoint.json"))

	stats, err := ix.IndexAll(context.Background(), fixtureUnits())
	require.NoError(t, err, "a mismatched batch is skipped, not fatal")
	assert.Equal(t, 1, stats.BatchesFailed)
	assert.Zero(t, stats.ChunksEmbedded)
	assert.Zero(t, vectors.Count())

	// Metadata still landed; only vectors were skipped.
	count, err := metadata.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// flakyEmbedder fails the first N EmbedBatch calls with a fixed error, then
// delegates to the wrapped embedder.
type flakyEmbedder struct {
	embed.Embedder
	failures atomic.Int64
	err      error
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.failures.Add(-1) >= 0 {
		return nil, e.err
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

func TestIndexer_FailedBatchRetriedNextRun(t *testing.T) {
	embedder := &flakyEmbedder{
		Embedder: embed.NewStaticEmbedder(),
		err:      cerrors.New(cerrors.ErrCodeEmbeddingFailed, "provider exploded", nil),
	}
	embedder.failures.Store(1)

	vectors := store.NewMemoryVectorStore(embedder.Dimensions())
	metadata, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	defer metadata.Close()
	keywords, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer keywords.Close()

	ix := NewIndexer(embedder, vectors, metadata, keywords, store.NewMemoryGraphStore(),
		filepath.Join(t.TempDir(), "checkpoint.json"))
	ctx := context.Background()
	units := fixtureUnits()

	stats, err := ix.IndexAll(ctx, units)
	require.NoError(t, err, "terminal batch failure is skipped, not raised")
	assert.Equal(t, 1, stats.BatchesFailed)
	assert.Zero(t, stats.UnitsIndexed)

	// The failed units never reached the checkpoint, so the next run picks
	// them up again.
	stats, err = ix.IndexAll(ctx, units)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UnitsIndexed)
	assert.Zero(t, stats.BatchesFailed)
	assert.Equal(t, 2, vectors.Count())
}

func TestIndexer_FatalBatchErrorAborts(t *testing.T) {
	fatal := cerrors.New(cerrors.ErrCodeEmbeddingFailed, "store wedged", nil)
	fatal.Severity = cerrors.SeverityFatal
	embedder := &flakyEmbedder{Embedder: embed.NewStaticEmbedder(), err: fatal}
	embedder.failures.Store(1)

	vectors := store.NewMemoryVectorStore(embedder.Dimensions())
	metadata, err := store.NewSQLiteMetadataStore(":memory:")
	require.NoError(t, err)
	defer metadata.Close()
	keywords, err := store.NewBleveKeywordIndex("")
	require.NoError(t, err)
	defer keywords.Close()

	ix := NewIndexer(embedder, vectors, metadata, keywords, store.NewMemoryGraphStore(),
		filepath.Join(t.TempDir(), "checkpoint.json"))

	_, err = ix.IndexAll(context.Background(), fixtureUnits())
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
}

func TestIndexer_BatchSizeSplitsWork(t *testing.T) {
	rig := newTestRig(t)
	rig.indexer.batchSize = 1

	stats, err := rig.indexer.IndexAll(context.Background(), fixtureUnits())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunksEmbedded)
	assert.Equal(t, int64(2), rig.embedder.batchCalls.Load())
}

func TestIndexer_Remove(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, err := rig.indexer.IndexAll(ctx, fixtureUnits())
	require.NoError(t, err)

	require.NoError(t, rig.indexer.Remove(ctx, "User"))

	_, err = rig.metadata.Get(ctx, "User")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, rig.vectors.Count())

	cp, err := LoadCheckpoint(rig.cpPath)
	require.NoError(t, err)
	assert.NotContains(t, cp.ProcessedHashes, "User")
	assert.Contains(t, cp.ProcessedHashes, "Order")

	// Removing an unknown unit is a no-op.
	assert.NoError(t, rig.indexer.Remove(ctx, "Ghost"))
}
