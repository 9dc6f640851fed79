package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore/memory"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Name() string   { return "stub" }
func (s *stubEmbedder) Dimension() int { return 3 }

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return embedding.Normalize(append([]float32(nil), v...)), nil
	}
	return []float32{0, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func seededIndex(t *testing.T) *memory.Index {
	t.Helper()
	idx := memory.NewIndex()
	add := func(id string, page int, v ...float32) domain.IndexEntry {
		return domain.IndexEntry{
			ChunkID: id,
			Vector:  embedding.Normalize(v),
			Chunk:   domain.Chunk{ID: id, DocumentID: "doc", Text: id, Pages: []int{page}},
		}
	}
	require.NoError(t, idx.Add(context.Background(), []domain.IndexEntry{
		add("c1", 1, 1, 0, 0),
		add("c2", 2, 0.9, 0.1, 0),
		add("c3", 3, 0, 1, 0),
		add("c4", 4, 0, 0, 1),
		add("c5", 5, 0, 1, 1),
	}))
	return idx
}

func newRetriever(t *testing.T, emb *stubEmbedder, idx domain.VectorIndex) *Retriever {
	return New(emb, idx, WithLogger(zaptest.NewLogger(t)))
}

func TestRetrieve_ThresholdLimitsResults(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	idx := seededIndex(t)
	r := newRetriever(t, emb, idx)

	passages, err := r.Retrieve(context.Background(), "q", 3, 0.2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "c1", passages[0].Chunk.ID)
	assert.Equal(t, 1, passages[0].Rank)
	assert.Equal(t, "c2", passages[1].Chunk.ID)
	assert.Equal(t, 2, passages[1].Rank)
	assert.GreaterOrEqual(t, passages[0].Score, passages[1].Score)
	assert.Equal(t, 5, idx.Size())
}

func TestRetrieve_DefaultK(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 1, 1}}}
	r := New(emb, seededIndex(t), WithDefaultTopK(2))

	passages, err := r.Retrieve(context.Background(), "q", 0, 0)
	require.NoError(t, err)
	assert.Len(t, passages, 2)
}

func TestRetrieve_EmptyIndex(t *testing.T) {
	emb := &stubEmbedder{}
	r := newRetriever(t, emb, memory.NewIndex())

	passages, err := r.Retrieve(context.Background(), "anything", 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, passages)
	assert.Empty(t, passages)
	assert.Equal(t, 0, emb.calls)
}

func TestRetrieve_NothingAboveThreshold(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := newRetriever(t, emb, seededIndex(t))

	passages, err := r.Retrieve(context.Background(), "q", 5, 0.999999)
	require.NoError(t, err)
	assert.Len(t, passages, 1)

	passages, err = r.Retrieve(context.Background(), "unknown words", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestRetrieve_InvalidInput(t *testing.T) {
	r := newRetriever(t, &stubEmbedder{}, seededIndex(t))
	cases := []struct {
		name     string
		question string
		k        int
		minScore float64
	}{
		{"empty question", "  ", 5, 0},
		{"negative k", "q", -1, 0},
		{"score above one", "q", 5, 1.5},
		{"score below minus one", "q", 5, -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Retrieve(context.Background(), tc.question, tc.k, tc.minScore)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestRetrieve_EmbeddingFailure(t *testing.T) {
	emb := &stubEmbedder{err: errors.New("connection refused")}
	r := newRetriever(t, emb, seededIndex(t))

	_, err := r.Retrieve(context.Background(), "q", 5, 0)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestRetrieve_Canceled(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}
	r := newRetriever(t, emb, seededIndex(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, "q", 5, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieveQuery_PageFilter(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float32{"q": {1, 1, 1}}}
	r := newRetriever(t, emb, seededIndex(t))

	passages, err := r.RetrieveQuery(context.Background(), domain.Query{Question: "q", TopK: 3, Pages: []int{3, 4}})
	require.NoError(t, err)
	require.Len(t, passages, 2)
	for i, p := range passages {
		assert.Contains(t, []string{"c3", "c4"}, p.Chunk.ID)
		assert.Equal(t, i+1, p.Rank)
	}
}

func TestSimilar_ExcludesSelf(t *testing.T) {
	r := newRetriever(t, &stubEmbedder{}, seededIndex(t))

	passages, err := r.Similar(context.Background(), "c1", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "c2", passages[0].Chunk.ID)
	for _, p := range passages {
		assert.NotEqual(t, "c1", p.Chunk.ID)
	}

	_, err = r.Similar(context.Background(), "missing", 2)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
