package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// HNSWConfig tunes the approximate-nearest-neighbor graph.
type HNSWConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// HNSWStore implements VectorStore on coder/hnsw, a pure Go graph with no
// CGO dependency. String IDs map to internal uint64 keys; deletions are
// lazy (the node stays in the graph but drops out of the mappings) because
// removing the last node breaks coder/hnsw.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap    map[string]uint64
	keyMap   map[uint64]string
	metadata map[string]map[string]string
	nextKey  uint64

	closed bool
}

// hnswSnapshot is the gob-persisted companion of the graph file.
type hnswSnapshot struct {
	IDMap    map[string]uint64
	Metadata map[string]map[string]string
	NextKey  uint64
	Config   HNSWConfig
}

// NewHNSWStore creates an empty ANN store.
func NewHNSWStore(cfg HNSWConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw store requires positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:    graph,
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		metadata: make(map[string]map[string]string),
	}, nil
}

func (s *HNSWStore) Store(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	return s.StoreBatch(ctx, []string{id}, [][]float32{vector}, []map[string]string{metadata})
}

func (s *HNSWStore) StoreBatch(ctx context.Context, ids []string, vectors [][]float32, metadata []map[string]string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return cerrors.DimensionMismatch(s.config.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		if existingKey, exists := s.idMap[id]; exists {
			// Lazy deletion: orphan the old key instead of touching the graph.
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
		if i < len(metadata) && metadata[i] != nil {
			meta := make(map[string]string, len(metadata[i]))
			for k, v := range metadata[i] {
				meta[k] = v
			}
			s.metadata[id] = meta
		} else {
			delete(s.metadata, id)
		}
	}
	return nil
}

func (s *HNSWStore) Search(ctx context.Context, query []float32, limit int, filters map[string]string) ([]VectorMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, cerrors.DimensionMismatch(s.config.Dimensions, len(query))
	}
	if limit <= 0 || s.graph.Len() == 0 {
		return []VectorMatch{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	// Filters are applied after the ANN pass, so oversample to keep limit
	// survivors when some neighbors are filtered out or lazily deleted.
	k := limit
	if len(filters) > 0 {
		k = limit * 4
	}
	nodes := s.graph.Search(q, k)

	results := make([]VectorMatch, 0, limit)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		if !metadataMatches(s.metadata[id], filters) {
			continue
		}

		distance := s.graph.Distance(q, node.Value)
		results = append(results, VectorMatch{
			ID:       id,
			Score:    float64(1.0 - distance/2.0),
			Metadata: s.metadata[id],
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (s *HNSWStore) Delete(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.metadata, id)
		}
	}
	return nil
}

func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

func (s *HNSWStore) Dimensions() int {
	return s.config.Dimensions
}

// Save persists the graph and its ID/metadata snapshot next to path.
// Both files are written to temp names and renamed into place.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector store directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create vector store file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("export hnsw graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close vector store file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename vector store file: %w", err)
	}

	return s.saveSnapshot(path + ".meta")
}

func (s *HNSWStore) saveSnapshot(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}

	snap := hnswSnapshot{
		IDMap:    s.idMap,
		Metadata: s.metadata,
		NextKey:  s.nextKey,
		Config:   s.config,
	}
	if err := gob.NewEncoder(file).Encode(snap); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores a previously saved store.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := s.loadSnapshot(path + ".meta"); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector store file: %w", err)
	}
	defer file.Close()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import hnsw graph: %w", err)
	}
	return nil
}

func (s *HNSWStore) loadSnapshot(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.idMap = snap.IDMap
	s.metadata = snap.Metadata
	s.nextKey = snap.NextKey
	s.config = snap.Config
	if s.metadata == nil {
		s.metadata = make(map[string]map[string]string)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// SavedDimensions reads the dimension recorded in a saved store's snapshot.
// Returns 0 when no snapshot exists.
func SavedDimensions(vectorPath string) (int, error) {
	file, err := os.Open(vectorPath + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open snapshot file: %w", err)
	}
	defer file.Close()

	var snap hnswSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Config.Dimensions, nil
}

func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorStore = (*HNSWStore)(nil)
