package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/codectx/codectx/internal/errors"
)

// vectorStores builds each VectorStore implementation for shared tests.
func vectorStores(t *testing.T, dims int) map[string]VectorStore {
	t.Helper()
	hnswStore, err := NewHNSWStore(HNSWConfig{Dimensions: dims})
	require.NoError(t, err)
	return map[string]VectorStore{
		"memory": NewMemoryVectorStore(dims),
		"hnsw":   hnswStore,
	}
}

func TestVectorStore_StoreAndSearch(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			require.NoError(t, s.Store(ctx, "User#whole", []float32{1, 0, 0}, map[string]string{"type": "model"}))
			require.NoError(t, s.Store(ctx, "Order#whole", []float32{0, 1, 0}, map[string]string{"type": "model"}))
			require.NoError(t, s.Store(ctx, "UsersController#whole", []float32{0.9, 0.1, 0}, map[string]string{"type": "controller"}))

			matches, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "User#whole", matches[0].ID)
			assert.Equal(t, "UsersController#whole", matches[1].ID)
			assert.Greater(t, matches[0].Score, matches[1].Score)
		})
	}
}

func TestVectorStore_MetadataFilter(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			require.NoError(t, s.Store(ctx, "User#whole", []float32{1, 0, 0}, map[string]string{"type": "model"}))
			require.NoError(t, s.Store(ctx, "UsersController#whole", []float32{1, 0.01, 0}, map[string]string{"type": "controller"}))

			matches, err := s.Search(ctx, []float32{1, 0, 0}, 5, map[string]string{"type": "controller"})
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, "UsersController#whole", matches[0].ID)
		})
	}
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			err := s.Store(ctx, "bad", []float32{1, 0}, nil)
			require.Error(t, err)
			assert.Equal(t, cerrors.ErrCodeDimensionMismatch, cerrors.GetCode(err))

			_, err = s.Search(ctx, []float32{1, 0, 0, 0}, 3, nil)
			require.Error(t, err)
			assert.Equal(t, cerrors.ErrCodeDimensionMismatch, cerrors.GetCode(err))
		})
	}
}

func TestVectorStore_UpsertReplacesAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			require.NoError(t, s.Store(ctx, "User#whole", []float32{1, 0, 0}, nil))
			require.NoError(t, s.Store(ctx, "User#whole", []float32{0, 0, 1}, nil))
			assert.Equal(t, 1, s.Count())

			matches, err := s.Search(ctx, []float32{0, 0, 1}, 1, nil)
			require.NoError(t, err)
			require.Len(t, matches, 1)
			assert.Equal(t, "User#whole", matches[0].ID)
			assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

			require.NoError(t, s.Delete(ctx, "User#whole"))
			assert.Equal(t, 0, s.Count())

			matches, err = s.Search(ctx, []float32{0, 0, 1}, 1, nil)
			require.NoError(t, err)
			assert.Empty(t, matches)
		})
	}
}

func TestVectorStore_EmptySearch(t *testing.T) {
	ctx := context.Background()
	for name, s := range vectorStores(t, 3) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			matches, err := s.Search(ctx, []float32{1, 0, 0}, 5, nil)
			require.NoError(t, err)
			assert.Empty(t, matches)
		})
	}
}

func TestHNSWStore_SaveLoadRoundtrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.hnsw")

	s, err := NewHNSWStore(HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, "User#whole", []float32{1, 0, 0}, map[string]string{"type": "model"}))
	require.NoError(t, s.Store(ctx, "Order#whole", []float32{0, 1, 0}, nil))
	require.NoError(t, s.Save(path))
	require.NoError(t, s.Close())

	dims, err := SavedDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)

	restored, err := NewHNSWStore(HNSWConfig{Dimensions: 3})
	require.NoError(t, err)
	defer restored.Close()
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 2, restored.Count())
	matches, err := restored.Search(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "User#whole", matches[0].ID)
	assert.Equal(t, "model", matches[0].Metadata["type"])
}

func TestSavedDimensions_MissingFileIsZero(t *testing.T) {
	dims, err := SavedDimensions(filepath.Join(t.TempDir(), "absent.hnsw"))
	require.NoError(t, err)
	assert.Zero(t, dims)
}
