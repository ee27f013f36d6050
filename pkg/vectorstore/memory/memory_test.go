package memory

import (
	"context"
	"testing"

	"github.com/aixgo-dev/datapilot/pkg/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs() []vectorstore.Document {
	return []vectorstore.Document{
		{ID: "a", Content: "orders table", Embedding: []float32{1, 0, 0}},
		{ID: "b", Content: "revenue", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "c", Content: "unrelated", Embedding: []float32{0, 0, 1}},
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	store := New(0)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "handbook", docs()))

	results, err := store.Search(ctx, "handbook", vectorstore.SearchQuery{Embedding: []float32{1, 0, 0}, TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)
	assert.Equal(t, "b", results[1].Document.ID)
}

func TestSearchDistanceThreshold(t *testing.T) {
	store := New(0)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "handbook", docs()))

	results, err := store.Search(ctx, "handbook", vectorstore.SearchQuery{Embedding: []float32{1, 0, 0}, MaxDistance: 0.6})
	require.NoError(t, err)
	require.Len(t, results, 2, "orthogonal document has distance 1 and must be dropped")
	for _, r := range results {
		assert.LessOrEqual(t, r.Distance, 0.6)
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	_, err := New(0).Search(context.Background(), "missing", vectorstore.SearchQuery{Embedding: []float32{1}})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}

func TestUpsertReplacesAndValidates(t *testing.T) {
	store := New(3)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "c", docs()))
	require.NoError(t, store.Upsert(ctx, "c", []vectorstore.Document{{ID: "a", Content: "new", Embedding: []float32{0, 1, 0}}}))
	assert.Equal(t, 3, store.Count("c"))

	err := store.Upsert(ctx, "c", []vectorstore.Document{{ID: "d", Content: "x", Embedding: []float32{1}}})
	assert.ErrorContains(t, err, "exceed")

	err = store.Upsert(ctx, "c", []vectorstore.Document{{ID: "bad id!", Content: "x", Embedding: []float32{1}}})
	assert.ErrorContains(t, err, "invalid document ID")

	require.NoError(t, store.DeleteCollection(ctx, "c"))
	assert.Zero(t, store.Count("c"))
}
