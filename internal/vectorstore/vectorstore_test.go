package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fenwicklabs/memoryd/internal/config"
	"github.com/fenwicklabs/memoryd/internal/store"
)

func newTestVectorStore(t *testing.T) *LibsqlStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "store.db"), config.StoreConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestUpsertAndSearch_BlobFallback(t *testing.T) {
	v := newTestVectorStore(t)
	ctx := context.Background()

	records := []Record{
		{RowID: "r1", EntityID: "m1", Content: "caching with redis", Embedding: []float32{1, 0, 0}, Model: "test"},
		{RowID: "r2", EntityID: "m2", Content: "unrelated topic", Embedding: []float32{0, 1, 0}, Model: "test"},
	}
	require.NoError(t, v.Upsert(ctx, EntityMessages, records))

	results, err := v.Search(ctx, EntityMessages, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "r1", results[0].RowID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestUpsert_RejectsEmptyVector(t *testing.T) {
	v := newTestVectorStore(t)
	err := v.Upsert(context.Background(), EntityMessages, []Record{{RowID: "r1", EntityID: "m1"}})
	require.ErrorIs(t, err, ErrEmptyVector)
}

func TestExistingIDs(t *testing.T) {
	v := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, EntityDecisions, []Record{
		{RowID: "r1", EntityID: "d1", Embedding: []float32{0.1, 0.2}, Model: "test"},
	}))

	existing, err := v.ExistingIDs(ctx, EntityDecisions, []string{"d1", "d2"})
	require.NoError(t, err)
	require.True(t, existing["d1"])
	require.False(t, existing["d2"])
}

func TestDeleteAndCount(t *testing.T) {
	v := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, EntityMistakes, []Record{
		{RowID: "r1", EntityID: "mk1", Embedding: []float32{0.1, 0.2}, Model: "test"},
		{RowID: "r2", EntityID: "mk2", Embedding: []float32{0.3, 0.4}, Model: "test"},
	}))

	count, err := v.Count(ctx, EntityMistakes)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, v.Delete(ctx, EntityMistakes, []string{"r1"}))

	count, err = v.Count(ctx, EntityMistakes)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestClearAll(t *testing.T) {
	v := newTestVectorStore(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, EntityChunks, []Record{
		{RowID: "r1", EntityID: "c1", Embedding: []float32{0.5, 0.5}, Model: "test"},
	}))
	require.NoError(t, v.ClearAll(ctx))

	count, err := v.Count(ctx, EntityChunks)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestEncodeDecodeFloat32sRoundTrip(t *testing.T) {
	vec := []float32{0.1, -0.2, 3.0, 0}
	decoded := decodeFloat32s(encodeFloat32s(vec))
	require.Equal(t, vec, decoded)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-9)
	require.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Equal(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}
