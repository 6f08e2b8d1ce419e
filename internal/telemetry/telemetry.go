// Package telemetry collects per-query retrieval traces: a bounded
// in-memory ring for recent queries, running aggregates for reporting, and
// optional JSON-lines persistence. Everything stays local.
package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codectx/codectx/internal/unit"
)

// DefaultCapacity bounds the in-memory trace ring.
const DefaultCapacity = 256

// LatencyBucket is a histogram bucket label.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts elapsed milliseconds to a histogram bucket.
func LatencyToBucket(ms int64) LatencyBucket {
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// Ring is a fixed-capacity FIFO buffer.
type Ring[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
}

// Items returns the buffered items oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return []T{}
	}
	out := make([]T, r.size)
	if r.size < r.capacity {
		copy(out, r.items[:r.size])
	} else {
		copy(out, r.items[r.head:])
		copy(out[r.capacity-r.head:], r.items[:r.head])
	}
	return out
}

// Size returns the number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Snapshot is an immutable view of the running aggregates.
type Snapshot struct {
	TotalQueries  int64                   `json:"total_queries"`
	StrategyCount map[string]int64        `json:"strategy_count"`
	TierCount     map[int]int64           `json:"tier_count"`
	Latency       map[LatencyBucket]int64 `json:"latency"`
	ZeroResults   int64                   `json:"zero_results"`
	Degraded      int64                   `json:"degraded"`
	Since         time.Time               `json:"since"`
}

// DegradedRate is the fraction of queries served from a fallback tier.
func (s *Snapshot) DegradedRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.Degraded) / float64(s.TotalQueries)
}

// Recorder collects traces. With a non-empty path every trace is also
// appended to a JSON-lines file; append failures are dropped silently
// because telemetry must never block retrieval.
type Recorder struct {
	mu sync.Mutex

	traces   *Ring[unit.RetrievalTrace]
	strategy map[string]int64
	tiers    map[int]int64
	latency  map[LatencyBucket]int64
	total    int64
	zero     int64
	degraded int64
	start    time.Time

	path string
}

// NewRecorder creates a recorder. path may be empty for memory-only use.
func NewRecorder(path string, capacity int) *Recorder {
	return &Recorder{
		traces:   NewRing[unit.RetrievalTrace](capacity),
		strategy: make(map[string]int64),
		tiers:    make(map[int]int64),
		latency:  make(map[LatencyBucket]int64),
		start:    time.Now(),
		path:     path,
	}
}

// Record captures one trace.
func (r *Recorder) Record(trace unit.RetrievalTrace) {
	r.mu.Lock()
	r.total++
	if trace.Strategy != "" {
		r.strategy[trace.Strategy]++
	}
	r.tiers[trace.DegradationTier]++
	r.latency[LatencyToBucket(trace.ElapsedMS)]++
	if trace.RankedCount == 0 {
		r.zero++
	}
	if trace.DegradationTier > 0 {
		r.degraded++
	}
	r.mu.Unlock()

	r.traces.Add(trace)
	r.persist(trace)
}

// Sink adapts the recorder to the retriever's trace callback.
func (r *Recorder) Sink() func(unit.RetrievalTrace) {
	return r.Record
}

// Recent returns up to n of the latest traces, oldest first.
func (r *Recorder) Recent(n int) []unit.RetrievalTrace {
	items := r.traces.Items()
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

// Snapshot copies the aggregates.
func (r *Recorder) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &Snapshot{
		TotalQueries:  r.total,
		StrategyCount: make(map[string]int64, len(r.strategy)),
		TierCount:     make(map[int]int64, len(r.tiers)),
		Latency:       make(map[LatencyBucket]int64, len(r.latency)),
		ZeroResults:   r.zero,
		Degraded:      r.degraded,
		Since:         r.start,
	}
	for k, v := range r.strategy {
		snap.StrategyCount[k] = v
	}
	for k, v := range r.tiers {
		snap.TierCount[k] = v
	}
	for k, v := range r.latency {
		snap.Latency[k] = v
	}
	return snap
}

func (r *Recorder) persist(trace unit.RetrievalTrace) {
	if r.path == "" {
		return
	}
	line, err := json.Marshal(trace)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return
	}
	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.Write(append(line, '\n'))
}

// Load reads persisted traces back, skipping malformed lines. A missing
// file reads as empty.
func Load(path string) ([]unit.RetrievalTrace, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var traces []unit.RetrievalTrace
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var trace unit.RetrievalTrace
		if err := json.Unmarshal(scanner.Bytes(), &trace); err != nil {
			continue
		}
		traces = append(traces, trace)
	}
	return traces, scanner.Err()
}
