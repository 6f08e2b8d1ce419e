// Package watch monitors an extractor output directory and triggers
// incremental reindexing when unit records change on disk.
package watch

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet window before a change batch is emitted.
// Extractors rewrite many files in quick succession; one reindex per burst
// is enough.
const DefaultDebounce = 500 * time.Millisecond

// Debouncer coalesces changed paths within a window and emits them as one
// batch after the burst settles.
type Debouncer struct {
	window  time.Duration
	pending map[string]struct{}
	timer   *time.Timer
	output  chan []string
	mu      sync.Mutex
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]struct{}),
		output:  make(chan []string, 4),
	}
}

// Add records a changed path and restarts the quiet window.
func (d *Debouncer) Add(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[path] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

// Output returns the channel of change batches.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Stop shuts the debouncer down and closes the output channel.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]string, 0, len(d.pending))
	for path := range d.pending {
		batch = append(batch, path)
	}
	d.pending = make(map[string]struct{})

	select {
	case d.output <- batch:
	default:
		// Receiver is behind; merge into the next batch instead of blocking.
		for _, path := range batch {
			d.pending[path] = struct{}{}
		}
		d.timer = time.AfterFunc(d.window, d.flush)
	}
}
