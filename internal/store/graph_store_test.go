package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/unit"
)

func graphFixture() []*unit.Unit {
	return []*unit.Unit{
		{Identifier: "User", Type: unit.TypeModel},
		{Identifier: "Order", Type: unit.TypeModel, Dependencies: []unit.Dependency{
			{Target: "User", Relationship: "belongs_to"},
		}},
		{Identifier: "OrdersController", Type: unit.TypeController, Dependencies: []unit.Dependency{
			{Target: "Order", Relationship: "references"},
		}},
	}
}

func TestMemoryGraphStore_Queries(t *testing.T) {
	s := NewMemoryGraphStore()
	s.AddUnits(graphFixture()...)

	assert.Equal(t, 3, s.Size())
	assert.True(t, s.Contains("Order"))
	assert.False(t, s.Contains("Ghost"))

	deps := s.DependenciesOf("Order")
	require.Len(t, deps, 1)
	assert.Equal(t, "User", deps[0].Target)

	assert.Equal(t, []string{"Order"}, s.DependentsOf("User"))
	assert.ElementsMatch(t, []string{"Order", "OrdersController"}, s.AffectedBy("User"))

	hood := s.Neighborhood("Order", 1)
	assert.Equal(t, 1, hood["User"])
	assert.Equal(t, 1, hood["OrdersController"])
}

func TestMemoryGraphStore_PageRankCachedUntilWrite(t *testing.T) {
	s := NewMemoryGraphStore()
	s.AddUnits(graphFixture()...)

	first := s.PageRank()
	assert.Equal(t, 1.0, first["User"], "most-depended-on unit normalizes to 1.0")

	// Adding a unit invalidates the cache.
	s.AddUnits(&unit.Unit{Identifier: "Invoice", Type: unit.TypeModel, Dependencies: []unit.Dependency{
		{Target: "Order", Relationship: "belongs_to"},
	}})
	second := s.PageRank()
	assert.Contains(t, second, "Invoice")
}

func TestMemoryGraphStore_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")

	s := NewMemoryGraphStore()
	s.AddUnits(graphFixture()...)
	require.NoError(t, s.Save(path))

	restored := NewMemoryGraphStore()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 3, restored.Size())
	assert.Equal(t, []string{"Order"}, restored.DependentsOf("User"))
	deps := restored.DependenciesOf("OrdersController")
	require.Len(t, deps, 1)
	assert.Equal(t, "Order", deps[0].Target)
}
