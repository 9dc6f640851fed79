package domain

import "context"

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Embedder converts free text into a fixed-size, L2-normalised vector.
// EmbedBatch returns one vector per input, in input order.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores chunk vectors and answers cosine similarity searches.
// A nil minScore disables score filtering.
type VectorIndex interface {
	Add(ctx context.Context, entries []IndexEntry) error
	Search(ctx context.Context, vector []float32, k int, minScore *float64) ([]Hit, error)
	Get(ctx context.Context, chunkID string) (IndexEntry, bool, error)
	Size() int
	Dimension() int
	Clear(ctx context.Context) error
	Backend() string
}

// CompletionRequest is a single prompt sent to the language model.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the model's reply.
type Completion struct {
	Text  string
	Usage Usage
}

// Completer is the language model collaborator.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	ModelName() string
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxSentences int) (string, error)
}

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	Count(text string) int
}
