package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *HNSWStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, filepath.Join(dir, "vectors.hnsw"), filepath.Join(dir, "meta.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"memory_id": "m1"}, "doc a"))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0}, map[string]any{"memory_id": "m2"}, "doc b"))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearchEmptyCollection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	results, err := s.Search(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDeleteIsNoOpForMissingID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	assert.NoError(t, s.Delete(ctx, "does-not-exist"))
}

func TestSearchAppliesFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"project_id": "p1"}, "doc a"))
	require.NoError(t, s.Add(ctx, "b", []float32{0.99, 0.01, 0}, map[string]any{"project_id": "p2"}, "doc b"))

	results, err := s.Search(ctx, []float32{1, 0, 0}, 5, Filter{"project_id": "p2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestListByMetadataAND(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"project_id": "p1", "is_memory_entry": true}, "doc a"))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0}, map[string]any{"project_id": "p1", "is_memory_entry": false}, "doc b"))

	entries, err := s.ListByMetadata(ctx, Filter{"project_id": "p1", "is_memory_entry": true}, true, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
	assert.Nil(t, entries[0].Embedding)
}

func TestUpdateMetadataAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0}, map[string]any{"k": "v1"}, "doc a"))
	require.NoError(t, s.UpdateMetadata(ctx, "a", map[string]any{"k": "v2"}))

	entry, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", entry.Metadata["k"])
}

func TestCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Add(ctx, "a", []float32{1, 0, 0}, nil, "doc a"))
	require.NoError(t, s.Add(ctx, "b", []float32{0, 1, 0}, nil, "doc b"))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
