package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codectx/codectx/internal/unit"
)

// MemoryGraphStore is a mutex-guarded GraphStore over the in-memory
// dependency graph, with JSON persistence. PageRank results are cached and
// invalidated on writes.
type MemoryGraphStore struct {
	mu    sync.RWMutex
	graph *unit.DependencyGraph

	rankCache map[string]float64
}

// NewMemoryGraphStore creates an empty graph store.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{graph: unit.NewDependencyGraph(nil)}
}

func (s *MemoryGraphStore) AddUnits(units ...*unit.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		s.graph.Add(u)
	}
	s.rankCache = nil
}

func (s *MemoryGraphStore) Contains(identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Contains(identifier)
}

func (s *MemoryGraphStore) DependenciesOf(identifier string) []unit.Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.DependenciesOf(identifier)
}

func (s *MemoryGraphStore) DependentsOf(identifier string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.DependentsOf(identifier)
}

func (s *MemoryGraphStore) Neighborhood(identifier string, maxHops int) map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Neighborhood(identifier, maxHops)
}

func (s *MemoryGraphStore) AffectedBy(identifier string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.AffectedBy(identifier)
}

func (s *MemoryGraphStore) PageRank() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rankCache == nil {
		s.rankCache = s.graph.PageRank()
	}
	return s.rankCache
}

func (s *MemoryGraphStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Size()
}

// graphSnapshot is the JSON persistence shape.
type graphSnapshot struct {
	Nodes []graphSnapshotNode `json:"nodes"`
}

type graphSnapshotNode struct {
	Identifier   string            `json:"identifier"`
	Type         unit.Type         `json:"type"`
	Dependencies []unit.Dependency `json:"dependencies,omitempty"`
}

// Save writes the graph as JSON via a temp file and rename.
func (s *MemoryGraphStore) Save(path string) error {
	s.mu.RLock()
	snap := graphSnapshot{}
	for _, id := range s.graph.Identifiers() {
		snap.Nodes = append(snap.Nodes, graphSnapshotNode{
			Identifier:   id,
			Type:         s.graph.TypeOf(id),
			Dependencies: s.graph.DependenciesOf(id),
		})
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write graph snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename graph snapshot: %w", err)
	}
	return nil
}

// Load replaces the graph contents from a saved snapshot.
func (s *MemoryGraphStore) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read graph snapshot: %w", err)
	}

	var snap graphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode graph snapshot: %w", err)
	}

	graph := unit.NewDependencyGraph(nil)
	for _, node := range snap.Nodes {
		graph.Add(&unit.Unit{
			Identifier:   node.Identifier,
			Type:         node.Type,
			Dependencies: node.Dependencies,
		})
	}

	s.mu.Lock()
	s.graph = graph
	s.rankCache = nil
	s.mu.Unlock()
	return nil
}

var _ GraphStore = (*MemoryGraphStore)(nil)
