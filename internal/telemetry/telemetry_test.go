package telemetry

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/codectx/internal/unit"
)

func trace(strategy string, tier int, elapsedMS int64, ranked int) unit.RetrievalTrace {
	return unit.RetrievalTrace{
		Strategy:        strategy,
		DegradationTier: tier,
		ElapsedMS:       elapsedMS,
		RankedCount:     ranked,
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	ring := NewRing[int](3)
	assert.Empty(t, ring.Items())

	ring.Add(1)
	ring.Add(2)
	assert.Equal(t, []int{1, 2}, ring.Items())

	ring.Add(3)
	ring.Add(4)
	assert.Equal(t, []int{2, 3, 4}, ring.Items(), "oldest evicted, FIFO order kept")
	assert.Equal(t, 3, ring.Size())
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5))
	assert.Equal(t, BucketP50, LatencyToBucket(10))
	assert.Equal(t, BucketP100, LatencyToBucket(99))
	assert.Equal(t, BucketP500, LatencyToBucket(250))
	assert.Equal(t, BucketP1000, LatencyToBucket(2000))
}

func TestRecorder_Aggregates(t *testing.T) {
	r := NewRecorder("", 16)

	r.Record(trace("hybrid", 0, 12, 5))
	r.Record(trace("hybrid", 0, 8, 3))
	r.Record(trace("keyword", 1, 40, 2))
	r.Record(trace("graph", 2, 700, 0))

	snap := r.Snapshot()
	assert.Equal(t, int64(4), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.StrategyCount["hybrid"])
	assert.Equal(t, int64(1), snap.StrategyCount["keyword"])
	assert.Equal(t, int64(2), snap.TierCount[0])
	assert.Equal(t, int64(1), snap.TierCount[1])
	assert.Equal(t, int64(1), snap.ZeroResults)
	assert.Equal(t, int64(2), snap.Degraded)
	assert.InDelta(t, 0.5, snap.DegradedRate(), 1e-9)
	assert.Equal(t, int64(1), snap.Latency[BucketP1000])
}

func TestRecorder_RecentKeepsLatest(t *testing.T) {
	r := NewRecorder("", 4)
	for i := 0; i < 6; i++ {
		r.Record(trace(fmt.Sprintf("s%d", i), 0, 1, 1))
	}

	recent := r.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "s4", recent[0].Strategy)
	assert.Equal(t, "s5", recent[1].Strategy)

	all := r.Recent(0)
	assert.Len(t, all, 4, "ring capacity bounds history")
}

func TestRecorder_PersistAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.jsonl")
	r := NewRecorder(path, 8)

	r.Record(trace("hybrid", 0, 12, 5))
	r.Record(trace("keyword", 1, 40, 2))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "hybrid", loaded[0].Strategy)
	assert.Equal(t, 1, loaded[1].DegradationTier)
}

func TestLoad_MissingFile(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "nope.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
