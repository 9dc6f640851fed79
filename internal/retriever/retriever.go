// Package retriever turns a question into ranked passages from a vector index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docqa/internal/domain"
)

const DefaultTopK = 5

// Retriever embeds questions and searches the index. It never writes to the
// index, so any number of retrievals may run concurrently.
type Retriever struct {
	embedder        domain.Embedder
	index           domain.VectorIndex
	defaultK        int
	defaultMinScore float64
	logger          *zap.Logger
}

type Option func(*Retriever)

func WithDefaultTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.defaultK = k
		}
	}
}

func WithDefaultMinScore(s float64) Option {
	return func(r *Retriever) { r.defaultMinScore = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(embedder domain.Embedder, index domain.VectorIndex, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		index:    index,
		defaultK: DefaultTopK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultTopK is the k used when a query asks for zero passages.
func (r *Retriever) DefaultTopK() int { return r.defaultK }

// DefaultMinScore is the threshold used when a query does not set one.
func (r *Retriever) DefaultMinScore() float64 { return r.defaultMinScore }

// Retrieve returns at most k passages scoring at least minScore, best first,
// ranked from 1. A k of zero selects the default.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, minScore float64) ([]domain.RetrievedPassage, error) {
	return r.RetrieveQuery(ctx, domain.Query{Question: question, TopK: k, MinScore: minScore})
}

// RetrieveQuery is Retrieve with an optional page filter. With a filter the
// index is asked for twice as many candidates before filtering.
func (r *Retriever) RetrieveQuery(ctx context.Context, q domain.Query) ([]domain.RetrievedPassage, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	k := q.TopK
	if k == 0 {
		k = r.defaultK
	}
	if r.index.Size() == 0 {
		return []domain.RetrievedPassage{}, nil
	}

	vector, err := r.embedQuestion(ctx, q.Question)
	if err != nil {
		return nil, err
	}
	if isZero(vector) {
		r.logger.Debug("question has no indexable terms", zap.String("question", q.Question))
		return []domain.RetrievedPassage{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetch := k
	if len(q.Pages) > 0 {
		fetch = k * 2
	}
	minScore := q.MinScore
	hits, err := r.index.Search(ctx, vector, fetch, &minScore)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	if len(q.Pages) > 0 {
		hits = onPages(hits, q.Pages)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	r.logger.Debug("retrieved passages",
		zap.Int("k", k),
		zap.Float64("min_score", q.MinScore),
		zap.Int("hits", len(hits)))
	return rank(hits), nil
}

// Similar returns up to k passages closest to an indexed chunk, excluding
// the chunk itself.
func (r *Retriever) Similar(ctx context.Context, chunkID string, k int) ([]domain.RetrievedPassage, error) {
	if k < 0 {
		return nil, domain.InvalidInputf("k must not be negative, got %d", k)
	}
	if k == 0 {
		k = r.defaultK
	}
	entry, ok, err := r.index.Get(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.InvalidInputf("chunk %q is not indexed", chunkID)
	}
	minScore := r.defaultMinScore
	hits, err := r.index.Search(ctx, entry.Vector, k+1, &minScore)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	out := hits[:0:0]
	for _, h := range hits {
		if h.ChunkID == chunkID {
			continue
		}
		out = append(out, h)
	}
	if len(out) > k {
		out = out[:k]
	}
	return rank(out), nil
}

// Validate checks the caller-supplied parts of a query.
func Validate(q domain.Query) error {
	switch {
	case strings.TrimSpace(q.Question) == "":
		return domain.InvalidInputf("question must not be empty")
	case q.TopK < 0:
		return domain.InvalidInputf("k must not be negative, got %d", q.TopK)
	case q.MinScore < -1 || q.MinScore > 1:
		return domain.InvalidInputf("min score must be within [-1, 1], got %g", q.MinScore)
	}
	return nil
}

func (r *Retriever) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	vector, err := r.embedder.Embed(ctx, question)
	if err == nil {
		return vector, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, domain.ErrEmbeddingUnavailable) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
}

func onPages(hits []domain.Hit, pages []int) []domain.Hit {
	out := hits[:0:0]
	for _, h := range hits {
		for _, p := range pages {
			if h.Chunk.OnPage(p) {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

func rank(hits []domain.Hit) []domain.RetrievedPassage {
	out := make([]domain.RetrievedPassage, len(hits))
	for i, h := range hits {
		out[i] = domain.RetrievedPassage{Chunk: h.Chunk, Score: h.Score, Rank: i + 1}
	}
	return out
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
