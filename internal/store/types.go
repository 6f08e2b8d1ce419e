// Package store provides the three persistence surfaces the retrieval core
// searches over: vector storage (HNSW or in-memory), unit metadata (SQLite),
// and a BM25 keyword index (Bleve). A graph store built on the dependency
// graph rounds out the set.
package store

import (
	"context"
	"errors"

	"github.com/codectx/codectx/internal/unit"
)

// ErrNotFound is returned by lookups that match no unit.
var ErrNotFound = errors.New("not found")

// VectorMatch is a single nearest-neighbor hit.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore persists chunk embeddings keyed by chunk ID.
// Implementations must reject vectors whose dimension differs from the
// store's configured dimension.
type VectorStore interface {
	// Store inserts or replaces one vector with its metadata.
	Store(ctx context.Context, id string, vector []float32, metadata map[string]string) error

	// StoreBatch inserts or replaces many vectors at once.
	StoreBatch(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error

	// Search returns up to limit nearest neighbors of query, highest score
	// first. Non-nil filters restrict results to vectors whose metadata
	// matches every key/value pair exactly.
	Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]VectorMatch, error)

	// Delete removes vectors by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of stored vectors.
	Count() int

	// Dimensions returns the configured vector dimension.
	Dimensions() int

	Close() error
}

// MetadataStore persists full unit records and answers exact, typed, and
// substring lookups.
type MetadataStore interface {
	// Upsert inserts or replaces a unit by identifier.
	Upsert(ctx context.Context, u *unit.Unit) error

	// UpsertBatch upserts many units in one transaction.
	UpsertBatch(ctx context.Context, units []*unit.Unit) error

	// Get resolves an identifier to its unit. Matching is case-insensitive
	// and namespace-tolerant: "invoice" resolves "Billing::Invoice" when no
	// exact match exists. Returns ErrNotFound when nothing matches.
	Get(ctx context.Context, identifier string) (*unit.Unit, error)

	// ByType returns up to limit units with the given type tag.
	ByType(ctx context.Context, t unit.Type, limit int) ([]*unit.Unit, error)

	// SearchSubstring returns units whose identifier contains term
	// (case-insensitive), earliest match position first, ties broken by
	// identifier.
	SearchSubstring(ctx context.Context, term string, limit int) ([]*unit.Unit, error)

	// Delete removes units by identifier. Unknown identifiers are ignored.
	Delete(ctx context.Context, identifiers ...string) error

	// Count returns the number of stored units.
	Count(ctx context.Context) (int, error)

	// CountByType returns per-type unit counts.
	CountByType(ctx context.Context) (map[unit.Type]int, error)

	Close() error
}

// KeywordDocument is one entry in the keyword index.
type KeywordDocument struct {
	ID      string
	Content string
}

// KeywordMatch is a single BM25 hit.
type KeywordMatch struct {
	ID    string
	Score float64
}

// KeywordIndex is the BM25 full-text surface over chunk content.
type KeywordIndex interface {
	// Index adds or replaces documents.
	Index(ctx context.Context, docs []KeywordDocument) error

	// Search scores documents against the given keywords. A document
	// matching several keywords accumulates score across them.
	Search(ctx context.Context, keywords []string, limit int) ([]KeywordMatch, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of indexed documents.
	Count() (uint64, error)

	Close() error
}

// GraphStore answers structural queries over unit dependencies.
type GraphStore interface {
	// AddUnits merges units and their edges into the graph.
	AddUnits(units ...*unit.Unit)

	// Contains reports whether an identifier is a graph node.
	Contains(identifier string) bool

	// DependenciesOf returns the outgoing edges of a unit.
	DependenciesOf(identifier string) []unit.Dependency

	// DependentsOf returns identifiers that depend on the given unit.
	DependentsOf(identifier string) []string

	// Neighborhood returns identifiers within maxHops in either direction,
	// mapped to their hop distance.
	Neighborhood(identifier string, maxHops int) map[string]int

	// AffectedBy returns all transitive dependents.
	AffectedBy(identifier string) []string

	// PageRank returns importance scores normalized so the max is 1.0.
	PageRank() map[string]float64

	// Size returns the node count.
	Size() int
}
