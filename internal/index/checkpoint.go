package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// Checkpoint records indexing progress so an interrupted run resumes where
// it stopped instead of re-embedding everything.
type Checkpoint struct {
	// ProcessedHashes maps unit identifier to the source hash that was
	// fully indexed. A unit whose current hash matches is skipped.
	ProcessedHashes map[string]string `json:"processed_hashes"`

	// Model and Dimensions pin the embedding space. A checkpoint written
	// under a different model or dimension is discarded: its hashes refer
	// to vectors that no longer align with new embeddings.
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`

	LastBatchAt time.Time `json:"last_batch_at"`
}

// NewCheckpoint creates an empty checkpoint for the given embedding space.
func NewCheckpoint(model string, dimensions int) *Checkpoint {
	return &Checkpoint{
		ProcessedHashes: make(map[string]string),
		Model:           model,
		Dimensions:      dimensions,
	}
}

// Matches reports whether the checkpoint was written for this embedding space.
func (c *Checkpoint) Matches(model string, dimensions int) bool {
	return c.Model == model && c.Dimensions == dimensions
}

// LoadCheckpoint reads a checkpoint from disk. A missing file returns
// (nil, nil); an unreadable or malformed file returns a fatal error, since
// silently starting fresh could mask index corruption.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerrors.New(cerrors.ErrCodeCorruptCheckpoint,
			fmt.Sprintf("cannot read checkpoint at %s", path), err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeCorruptCheckpoint,
			fmt.Sprintf("checkpoint at %s is malformed", path), err)
	}
	if cp.ProcessedHashes == nil {
		cp.ProcessedHashes = make(map[string]string)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically: marshal, write to a temp file in
// the same directory, rename into place.
func (c *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}
