package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEvent(path string) fsnotify.Event {
	return fsnotify.Event{Name: path, Op: fsnotify.Write}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add("models/user.json")
	d.Add("models/order.json")
	d.Add("models/user.json")

	select {
	case batch := <-d.Output():
		sort.Strings(batch)
		assert.Equal(t, []string{"models/order.json", "models/user.json"}, batch)
	case <-time.After(time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestDebouncer_RestartsWindowOnActivity(t *testing.T) {
	d := NewDebouncer(80 * time.Millisecond)
	defer d.Stop()

	d.Add("a.json")
	time.Sleep(40 * time.Millisecond)
	d.Add("b.json")

	select {
	case <-d.Output():
		t.Fatal("batch emitted before the burst settled")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case batch := <-d.Output():
		assert.Len(t, batch, 2)
	case <-time.After(time.Second):
		t.Fatal("no batch emitted after settling")
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Stop()

	_, ok := <-d.Output()
	assert.False(t, ok)

	d.Add("ignored.json")
}

func TestInterestingEvent(t *testing.T) {
	// fsnotify events are plain structs; build them directly.
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"unit record", "corpus/models/user.json", true},
		{"manifest", "corpus/manifest.json", true},
		{"type index", "corpus/models/_index.json", false},
		{"hidden file", "corpus/models/.user.json.swp", false},
		{"non-json", "corpus/models/notes.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := writeEvent(tt.path)
			assert.Equal(t, tt.want, interestingEvent(event))
		})
	}
}

func TestWatcher_TriggersReindexOnWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o755))

	batches := make(chan []string, 1)
	w := NewWatcher(dir, func(_ context.Context, changed []string) error {
		select {
		case batches <- changed:
		default:
		}
		return nil
	}, WithDebounce(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "models", "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"identifier":"User"}`), 0o644))

	select {
	case changed := <-batches:
		require.NotEmpty(t, changed)
		assert.Contains(t, changed, path)
	case <-time.After(3 * time.Second):
		t.Fatal("reindex not triggered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
