// Package index builds the searchable stores from extracted units: chunks
// are embedded in batches, vectors, metadata, keywords, and graph edges are
// upserted, and a checkpoint records progress so interrupted runs resume.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codectx/codectx/internal/chunk"
	"github.com/codectx/codectx/internal/embed"
	cerrors "github.com/codectx/codectx/internal/errors"
	"github.com/codectx/codectx/internal/store"
	"github.com/codectx/codectx/internal/unit"
)

const (
	// DefaultBatchSize is how many chunks are embedded per provider call.
	DefaultBatchSize = 64

	// DefaultMaxInFlight bounds concurrent embedding batches.
	DefaultMaxInFlight = 4
)

// Stats summarizes one indexing run.
type Stats struct {
	UnitsSeen      int `json:"units_seen"`
	UnitsIndexed   int `json:"units_indexed"`
	UnitsSkipped   int `json:"units_skipped"`
	ChunksEmbedded int `json:"chunks_embedded"`
	BatchesFailed  int `json:"batches_failed"`
}

// Indexer drives the chunk → embed → store pipeline.
type Indexer struct {
	chunker        *chunk.SemanticChunker
	embedder       embed.Embedder
	vectors        store.VectorStore
	metadata       store.MetadataStore
	keywords       store.KeywordIndex
	graph          store.GraphStore
	checkpointPath string

	batchSize   int
	maxInFlight int
	logger      *slog.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithBatchSize overrides the embedding batch size.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithMaxInFlight overrides the concurrent batch limit.
func WithMaxInFlight(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.maxInFlight = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// WithChunker overrides the default semantic chunker.
func WithChunker(c *chunk.SemanticChunker) Option {
	return func(ix *Indexer) {
		ix.chunker = c
	}
}

// NewIndexer wires an indexer over the given stores. checkpointPath may be
// empty, in which case no checkpoint is read or written.
func NewIndexer(
	embedder embed.Embedder,
	vectors store.VectorStore,
	metadata store.MetadataStore,
	keywords store.KeywordIndex,
	graph store.GraphStore,
	checkpointPath string,
	opts ...Option,
) *Indexer {
	ix := &Indexer{
		chunker:        chunk.NewSemanticChunker(),
		embedder:       embedder,
		vectors:        vectors,
		metadata:       metadata,
		keywords:       keywords,
		graph:          graph,
		checkpointPath: checkpointPath,
		batchSize:      DefaultBatchSize,
		maxInFlight:    DefaultMaxInFlight,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexAll indexes the complete unit set. Units already recorded in the
// checkpoint with an unchanged source hash are skipped, so re-running over
// an unchanged corpus performs zero embedding calls. Units present in the
// checkpoint but absent from the input are removed from every store.
func (ix *Indexer) IndexAll(ctx context.Context, units []*unit.Unit) (*Stats, error) {
	return ix.run(ctx, units, true)
}

// IndexIncremental indexes only units whose source hash changed since the
// last run, without touching anything else. A checkpoint written under a
// different embedding model or dimension is discarded and everything is
// re-indexed.
func (ix *Indexer) IndexIncremental(ctx context.Context, units []*unit.Unit) (*Stats, error) {
	return ix.run(ctx, units, false)
}

// chunkRef ties a chunk to the unit it came from so the checkpoint can mark
// a unit done only after all of its chunks landed.
type chunkRef struct {
	chunk  *unit.Chunk
	unitID string
}

func (ix *Indexer) run(ctx context.Context, units []*unit.Unit, prune bool) (*Stats, error) {
	cp, err := ix.loadOrResetCheckpoint()
	if err != nil {
		return nil, err
	}

	stats := &Stats{UnitsSeen: len(units)}

	var pending []*unit.Unit
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if u.SourceHash == "" {
			u.Fingerprint()
		}
		seen[u.Identifier] = true
		if cp.ProcessedHashes[u.Identifier] == u.SourceHash {
			stats.UnitsSkipped++
			continue
		}
		pending = append(pending, u)
	}

	if prune {
		for id := range cp.ProcessedHashes {
			if seen[id] {
				continue
			}
			if err := ix.Remove(ctx, id); err != nil {
				return stats, err
			}
			delete(cp.ProcessedHashes, id)
		}
	}

	if len(pending) == 0 {
		return stats, ix.saveCheckpoint(cp)
	}

	if err := ix.metadata.UpsertBatch(ctx, pending); err != nil {
		return stats, cerrors.New(cerrors.ErrCodeIndexFailed, "upsert unit metadata", err)
	}
	ix.graph.AddUnits(pending...)

	var refs []chunkRef
	remaining := make(map[string]int, len(pending))
	hashes := make(map[string]string, len(pending))
	for _, u := range pending {
		hashes[u.Identifier] = u.SourceHash
		chunks := ix.chunker.Chunk(u)
		if len(chunks) == 0 {
			// Nothing to embed; the unit is done once metadata landed.
			cp.ProcessedHashes[u.Identifier] = u.SourceHash
			stats.UnitsIndexed++
			continue
		}
		remaining[u.Identifier] = len(chunks)
		for _, ch := range chunks {
			ch.Metadata = chunkMetadata(u, ch)
			refs = append(refs, chunkRef{chunk: ch, unitID: u.Identifier})
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.maxInFlight)

	for start := 0; start < len(refs); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		g.Go(func() error {
			err := ix.indexBatch(gctx, batch)
			if err != nil {
				if cerrors.IsFatal(err) || gctx.Err() != nil {
					return err
				}
				// A bad batch must not sink the run: count it, move on. Its
				// units stay out of the checkpoint and are retried next run.
				ix.logger.Warn("embedding batch skipped",
					slog.Int("chunks", len(batch)),
					slog.String("code", cerrors.GetCode(err)),
					slog.String("error", err.Error()))
				mu.Lock()
				stats.BatchesFailed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			stats.ChunksEmbedded += len(batch)
			for _, ref := range batch {
				remaining[ref.unitID]--
				if remaining[ref.unitID] == 0 {
					cp.ProcessedHashes[ref.unitID] = hashes[ref.unitID]
					stats.UnitsIndexed++
				}
			}
			cp.LastBatchAt = time.Now().UTC()
			return ix.saveCheckpoint(cp)
		})
	}

	if err := g.Wait(); err != nil {
		// Persist whatever completed before the failure.
		saveErr := ix.saveCheckpoint(cp)
		if saveErr != nil {
			ix.logger.Error("checkpoint save failed after indexing error",
				slog.String("error", saveErr.Error()))
		}
		return stats, err
	}

	return stats, ix.saveCheckpoint(cp)
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []chunkRef) error {
	texts := make([]string, len(batch))
	for i, ref := range batch {
		texts[i] = ref.chunk.Content
	}

	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(batch) {
		return cerrors.New(cerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("provider returned %d vectors for %d chunks", len(vecs), len(batch)), nil)
	}

	ids := make([]string, len(batch))
	metas := make([]map[string]string, len(batch))
	docs := make([]store.KeywordDocument, len(batch))
	for i, ref := range batch {
		ids[i] = ref.chunk.ID()
		metas[i] = ref.chunk.Metadata
		docs[i] = store.KeywordDocument{ID: ref.chunk.ID(), Content: ref.chunk.Content}
	}

	if err := ix.vectors.StoreBatch(ctx, ids, vecs, metas); err != nil {
		return err
	}
	if err := ix.keywords.Index(ctx, docs); err != nil {
		return cerrors.New(cerrors.ErrCodeIndexFailed, "index keyword documents", err)
	}
	return nil
}

// Remove deletes a unit and its chunks from every store and forgets its
// checkpoint entry.
func (ix *Indexer) Remove(ctx context.Context, identifier string) error {
	u, err := ix.metadata.Get(ctx, identifier)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	chunks := ix.chunker.Chunk(u)
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID()
	}
	if err := ix.vectors.Delete(ctx, ids...); err != nil {
		return err
	}
	if err := ix.keywords.Delete(ctx, ids); err != nil {
		return err
	}
	if err := ix.metadata.Delete(ctx, u.Identifier); err != nil {
		return err
	}

	if ix.checkpointPath != "" {
		cp, err := LoadCheckpoint(ix.checkpointPath)
		if err == nil && cp != nil {
			delete(cp.ProcessedHashes, u.Identifier)
			return cp.Save(ix.checkpointPath)
		}
	}
	return nil
}

func (ix *Indexer) loadOrResetCheckpoint() (*Checkpoint, error) {
	model := ix.embedder.ModelName()
	dims := ix.embedder.Dimensions()

	if ix.checkpointPath == "" {
		return NewCheckpoint(model, dims), nil
	}

	cp, err := LoadCheckpoint(ix.checkpointPath)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return NewCheckpoint(model, dims), nil
	}
	if !cp.Matches(model, dims) {
		ix.logger.Warn("checkpoint embedding space changed, discarding",
			slog.String("checkpoint_model", cp.Model),
			slog.Int("checkpoint_dimensions", cp.Dimensions),
			slog.String("model", model),
			slog.Int("dimensions", dims))
		return NewCheckpoint(model, dims), nil
	}
	return cp, nil
}

func (ix *Indexer) saveCheckpoint(cp *Checkpoint) error {
	if ix.checkpointPath == "" {
		return nil
	}
	return cp.Save(ix.checkpointPath)
}

// chunkMetadata builds the metadata stored with each chunk vector.
func chunkMetadata(u *unit.Unit, ch *unit.Chunk) map[string]string {
	meta := map[string]string{
		"parent":       u.Identifier,
		"type":         string(u.Type),
		"chunk_type":   string(ch.ChunkType),
		"content_hash": ch.ContentHash,
	}
	if u.FilePath != "" {
		meta["file_path"] = u.FilePath
	}
	if source, ok := u.Metadata["source"]; ok {
		meta["source"] = source
	}
	return meta
}
