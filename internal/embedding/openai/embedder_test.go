package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// fakeServer answers every input with a vector whose first component is the
// input length, and returns the data in reverse order.
func fakeServer(t *testing.T, dim int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(calls, 1)
		var req embeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, dim)
			vec[0] = float64(len(req.Input[i]))
			vec[1] = 1
			data = append(data, item{Object: "embedding", Index: i, Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
}

func newTestEmbedder(t *testing.T, url string, cfg Config) *Embedder {
	t.Helper()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url + "/v1/"
	e, err := NewEmbedder(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return e
}

func TestEmbedBatch_SplitsAndPreservesOrder(t *testing.T) {
	var calls int32
	srv := fakeServer(t, 8, &calls)
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, Config{Dimension: 8, BatchSize: 2, Concurrency: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	for i, text := range texts {
		want := embedding.FromFloat64(append([]float64{float64(len(text)), 1}, make([]float64, 6)...))
		assert.InDeltaSlice(t, want, vectors[i], 1e-6, "vector %d", i)
		assert.InDelta(t, 1.0, embedding.Dot(vectors[i], vectors[i]), 1e-5)
	}
}

func TestEmbed_DimensionMismatchIsUnavailable(t *testing.T) {
	var calls int32
	srv := fakeServer(t, 4, &calls)
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, Config{Dimension: 8})
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestEmbed_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := newTestEmbedder(t, srv.URL, Config{Dimension: 8})
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestNewEmbedder_MissingKey(t *testing.T) {
	_, err := NewEmbedder(Config{})
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}

func TestNewEmbedder_Defaults(t *testing.T) {
	e, err := NewEmbedder(Config{APIKey: "k", BatchSize: 500})
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, "openai:"+DefaultModel, e.Name())
	assert.Equal(t, MaxBatchSize, e.cfg.BatchSize)
}

func TestEmbedBatch_Empty(t *testing.T) {
	e, err := NewEmbedder(Config{APIKey: "k"})
	require.NoError(t, err)
	out, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
