package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// MemoryVectorStore is a brute-force in-memory VectorStore. It is the
// default backend: exact search, no persistence, fine up to tens of
// thousands of chunks.
type MemoryVectorStore struct {
	mu         sync.RWMutex
	dimensions int
	entries    map[string]memoryEntry
	closed     bool
}

type memoryEntry struct {
	vector   []float32
	metadata map[string]string
}

// NewMemoryVectorStore creates an empty store for the given dimension.
func NewMemoryVectorStore(dimensions int) *MemoryVectorStore {
	return &MemoryVectorStore{
		dimensions: dimensions,
		entries:    make(map[string]memoryEntry),
	}
}

func (s *MemoryVectorStore) Store(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	return s.StoreBatch(ctx, []string{id}, [][]float32{vector}, []map[string]string{metadata})
}

func (s *MemoryVectorStore) StoreBatch(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.dimensions {
			return cerrors.DimensionMismatch(s.dimensions, len(v))
		}
	}

	for i, id := range ids {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		var meta map[string]string
		if i < len(metadata) && metadata[i] != nil {
			meta = make(map[string]string, len(metadata[i]))
			for k, v := range metadata[i] {
				meta[k] = v
			}
		}
		s.entries[id] = memoryEntry{vector: vec, metadata: meta}
	}
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.dimensions {
		return nil, cerrors.DimensionMismatch(s.dimensions, len(query))
	}
	if limit <= 0 || len(s.entries) == 0 {
		return []VectorMatch{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	matches := make([]VectorMatch, 0, len(s.entries))
	for id, entry := range s.entries {
		if !metadataMatches(entry.metadata, filters) {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:       id,
			Score:    cosineScore(q, entry.vector),
			Metadata: entry.metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryVectorStore) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryVectorStore) Dimensions() int {
	return s.dimensions
}

func (s *MemoryVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

var _ VectorStore = (*MemoryVectorStore)(nil)

// metadataMatches reports whether meta satisfies every filter pair.
func metadataMatches(meta, filters map[string]string) bool {
	for k, want := range filters {
		if meta[k] != want {
			return false
		}
	}
	return true
}

// normalizeInPlace scales v to unit length. Zero vectors are left untouched.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore maps the dot product of two unit vectors onto [0, 1].
func cosineScore(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return (dot + 1) / 2
}
