package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

func entry(id string, v ...float32) domain.IndexEntry {
	vec := embedding.Normalize(append([]float32(nil), v...))
	return domain.IndexEntry{ChunkID: id, Vector: vec, Chunk: domain.Chunk{ID: id, Text: "text " + id}}
}

func ptr(f float64) *float64 { return &f }

func TestSearch_DescendingAndStableTies(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{
		entry("a", 1, 0),
		entry("b", 0, 1),
		entry("c", 1, 0),
		entry("d", 1, 1),
		entry("e", 1, 0),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 5)

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
	assert.Equal(t, []string{"a", "c", "e", "d", "b"}, ids)
	assert.Equal(t, "text a", hits[0].Chunk.Text)
}

func TestSearch_MinScoreLimitsResults(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{
		entry("c1", 1, 0, 0),
		entry("c2", 0.9, 0.1, 0),
		entry("c3", 0, 1, 0),
		entry("c4", 0, 0, 1),
		entry("c5", 0, 1, 1),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 3, ptr(0.2))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c2", hits[1].ChunkID)
}

func TestSearch_Empty(t *testing.T) {
	hits, err := NewIndex().Search(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAdd_DimensionMismatchRejectsBatch(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{entry("a", 1, 0, 0)}))
	assert.Equal(t, 3, idx.Dimension())

	err := idx.Add(ctx, []domain.IndexEntry{entry("b", 1, 0, 0), entry("c", 1, 0)})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	var dimErr *domain.DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)
	assert.Equal(t, 1, idx.Size())

	_, ok, err := idx.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdd_MixedDimensionsInFirstBatch(t *testing.T) {
	idx := NewIndex()
	err := idx.Add(context.Background(), []domain.IndexEntry{entry("a", 1, 0), entry("b", 1, 0, 0)})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Size())
	assert.Equal(t, 0, idx.Dimension())
}

func TestAdd_DuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{entry("a", 1, 0)}))
	err := idx.Add(ctx, []domain.IndexEntry{entry("z", 0, 1), entry("a", 0, 1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 1, idx.Size())
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{entry("a", 1, 0)}))
	_, err := idx.Search(ctx, []float32{1, 0, 0}, 1, nil)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{entry("a", 1, 0)}))
	require.NoError(t, idx.Clear(ctx))
	assert.Equal(t, 0, idx.Size())
	assert.Empty(t, idx.Entries())

	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{entry("a", 1, 0, 0)}))
	assert.Equal(t, 3, idx.Dimension())
}

func TestAdd_CopiesVector(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	e := entry("a", 1, 0)
	require.NoError(t, idx.Add(ctx, []domain.IndexEntry{e}))
	e.Vector[0] = 0

	got, ok, err := idx.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0, got.Vector[0], 1e-6)
}

func TestConcurrentAddAndSearch_NoTornReads(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	rng := rand.New(rand.NewSource(7))
	randomEntry := func(id string) domain.IndexEntry {
		return entry(id, rng.Float32(), rng.Float32(), rng.Float32(), rng.Float32())
	}

	initial := make([]domain.IndexEntry, 20)
	for i := range initial {
		initial[i] = randomEntry(fmt.Sprintf("base-%d", i))
	}
	require.NoError(t, idx.Add(ctx, initial))

	batch := make([]domain.IndexEntry, 10)
	for i := range batch {
		batch[i] = randomEntry(fmt.Sprintf("new-%d", i))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, idx.Add(ctx, batch))
	}()

	query := embedding.Normalize([]float32{1, 1, 1, 1})
	for i := 0; i < 200; i++ {
		hits, err := idx.Search(ctx, query, 100, nil)
		require.NoError(t, err)
		newCount := 0
		for _, h := range hits {
			if len(h.ChunkID) > 4 && h.ChunkID[:4] == "new-" {
				newCount++
			}
		}
		assert.Contains(t, []int{0, 10}, newCount)
		assert.Contains(t, []int{20, 30}, len(hits))
	}
	wg.Wait()
	assert.Equal(t, 30, idx.Size())
}
