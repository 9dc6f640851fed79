// Package openai embeds text with an OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

const (
	DefaultModel     = "text-embedding-3-small"
	DefaultDimension = 1536
	// MaxBatchSize is the largest input list the embeddings endpoint accepts.
	MaxBatchSize = 100
)

// Config configures the embeddings client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimension is requested from the server when RequestDimension is set,
	// and is always the size every returned vector must have.
	Dimension         int
	RequestDimension  bool
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
}

// Embedder implements domain.Embedder on top of the openai-go client.
type Embedder struct {
	client  openai.Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Embedder)

func WithLogger(l *zap.Logger) Option {
	return func(e *Embedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClientOptions appends raw client options, e.g. a custom HTTP client.
func WithClientOptions(opts ...option.RequestOption) Option {
	return func(e *Embedder) {
		e.client = openai.NewClient(append(e.clientOptions(), opts...)...)
	}
}

func NewEmbedder(cfg Config, opts ...Option) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing embeddings API key", domain.ErrEmbeddingUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	e := &Embedder{cfg: cfg, logger: zap.NewNop()}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	e.client = openai.NewClient(e.clientOptions()...)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Embedder) clientOptions() []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(e.cfg.APIKey),
		option.WithMaxRetries(e.cfg.MaxRetries),
		option.WithRequestTimeout(e.cfg.Timeout),
	}
	if e.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(e.cfg.BaseURL))
	}
	return opts
}

func (e *Embedder) Name() string { return "openai:" + e.cfg.Model }

func (e *Embedder) Dimension() int { return e.cfg.Dimension }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch splits texts into batches of at most BatchSize and embeds them
// concurrently. The result is ordered like texts.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start := start
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.cfg.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.cfg.RequestDimension {
		params.Dimensions = openai.Int(int64(e.cfg.Dimension))
	}

	began := time.Now()
	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("embeddings request failed", zap.Int("inputs", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", domain.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		i := int(data.Index)
		if i < 0 || i >= len(vectors) || vectors[i] != nil {
			return nil, fmt.Errorf("%w: unexpected embedding index %d", domain.ErrEmbeddingUnavailable, data.Index)
		}
		if len(data.Embedding) != e.cfg.Dimension {
			return nil, fmt.Errorf("%w: model returned %d dimensions, configured %d",
				domain.ErrEmbeddingUnavailable, len(data.Embedding), e.cfg.Dimension)
		}
		vectors[i] = embedding.FromFloat64(data.Embedding)
	}
	e.logger.Debug("embedded batch",
		zap.Int("inputs", len(texts)),
		zap.Int64("tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(began)))
	return vectors, nil
}

var _ domain.Embedder = (*Embedder)(nil)
