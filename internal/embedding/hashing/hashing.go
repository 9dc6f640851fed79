// Package hashing implements a local, model-free embedder based on feature
// hashing of word tokens. Its dimension is fixed at construction time, so the
// vectors stay comparable across ingestion and query for the whole session.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

const DefaultDimension = 384

var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Embedder maps text to a signed hashed bag of words with sublinear term
// frequency, followed by L2 normalisation.
type Embedder struct {
	dimension    int
	bigramWeight float64
	stopwords    map[string]struct{}
}

type Option func(*Embedder)

// WithDimension sets the number of hash buckets.
func WithDimension(d int) Option {
	return func(e *Embedder) { e.dimension = d }
}

// WithBigramWeight sets the weight of adjacent word pairs. Zero disables them.
func WithBigramWeight(w float64) Option {
	return func(e *Embedder) { e.bigramWeight = w }
}

func NewEmbedder(opts ...Option) (*Embedder, error) {
	e := &Embedder{
		dimension:    DefaultDimension,
		bigramWeight: 0.5,
		stopwords:    defaultStopwords(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dimension <= 0 {
		return nil, domain.InvalidInputf("hashing dimension must be positive, got %d", e.dimension)
	}
	if e.bigramWeight < 0 {
		return nil, domain.InvalidInputf("bigram weight must not be negative")
	}
	return e, nil
}

func (e *Embedder) Name() string { return "hashing" }

func (e *Embedder) Dimension() int { return e.dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	tokens := e.tokenize(text)
	counts := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	if e.bigramWeight > 0 {
		for i := 1; i < len(tokens); i++ {
			counts[tokens[i-1]+" "+tokens[i]] += e.bigramWeight
		}
	}

	vec := make([]float32, e.dimension)
	for term, tf := range counts {
		idx, sign := e.bucket(term)
		vec[idx] += float32(sign * (1 + math.Log(tf)))
	}
	return embedding.Normalize(vec)
}

// bucket returns the hash bucket and sign for a feature. The sign halves the
// bias that collisions add to dot products.
func (e *Embedder) bucket(term string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(e.dimension)), sign
}

func (e *Embedder) tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := tokenPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var _ domain.Embedder = (*Embedder)(nil)
