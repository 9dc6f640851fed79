package hashing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

func TestEmbed_DeterministicAndNormalised(t *testing.T) {
	e, err := NewEmbedder()
	require.NoError(t, err)
	ctx := context.Background()

	a, err := e.Embed(ctx, "Photosynthesis converts light energy into chemical energy.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Photosynthesis converts light energy into chemical energy.")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultDimension)
	assert.InDelta(t, 1.0, embedding.Dot(a, a), 1e-5)
}

func TestEmbed_SimilarTextScoresHigher(t *testing.T) {
	e, err := NewEmbedder()
	require.NoError(t, err)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "how do plants perform photosynthesis with light")
	near, _ := e.Embed(ctx, "Plants perform photosynthesis using light from the sun.")
	far, _ := e.Embed(ctx, "The French revolution began in 1789 with the storming of the Bastille.")

	assert.Greater(t, embedding.Dot(q, near), embedding.Dot(q, far))
}

func TestEmbedBatch_OrderPreserved(t *testing.T) {
	e, err := NewEmbedder(WithDimension(64))
	require.NoError(t, err)
	ctx := context.Background()

	texts := []string{"alpha beta", "gamma delta", "epsilon"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))
	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
		assert.Len(t, batch[i], 64)
	}
}

func TestEmbed_OnlyStopwords(t *testing.T) {
	e, err := NewEmbedder(WithDimension(16))
	require.NoError(t, err)
	v, err := e.Embed(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestEmbed_Canceled(t *testing.T) {
	e, err := NewEmbedder()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEmbedder_InvalidDimension(t *testing.T) {
	_, err := NewEmbedder(WithDimension(0))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
