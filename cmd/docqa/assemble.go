package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	embedopenai "docqa/internal/embedding/openai"
	"docqa/internal/llm/extractive"
	llmopenai "docqa/internal/llm/openai"
	"docqa/internal/loader"
	"docqa/internal/retriever"
	"docqa/internal/service"
	"docqa/internal/synthesizer"
	"docqa/internal/tokens"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

// assemble builds a session pipeline from cfg.
func assemble(cfg *config.AppConfig, logger *zap.Logger) (*service.Pipeline, error) {
	ch, err := chunker.NewWordChunker(
		chunker.WithMaxWords(cfg.Chunker.MaxWords),
		chunker.WithOverlapWords(cfg.Chunker.OverlapWords),
	)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	session := uuid.NewString()
	var index domain.VectorIndex
	switch cfg.Index.Type {
	case "qdrant":
		q := cfg.Index.Qdrant
		index, err = qdrant.NewIndex(qdrant.Config{
			URL:         q.URL,
			APIKey:      config.Secret(q.APIKeyEnv),
			Collection:  q.CollectionPrefix + session,
			Timeout:     time.Duration(q.TimeoutSecs) * time.Second,
			DropOnClose: !q.KeepCollection,
		}, qdrant.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("qdrant index: %w", err)
		}
	default:
		index = memory.NewIndex()
	}

	var completer domain.Completer
	switch cfg.LLM.Type {
	case "openai":
		o := cfg.LLM.OpenAI
		completer, err = llmopenai.NewClient(llmopenai.Config{
			BaseURL:    o.BaseURL,
			APIKey:     config.Secret(o.APIKeyEnv),
			Model:      o.Model,
			MaxRetries: derefOr(o.MaxRetries, llmopenai.DefaultMaxRetries),
		}, llmopenai.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
	default:
		completer = extractive.New(cfg.LLM.ExtractiveSentences)
	}

	counter, err := tokens.New(cfg.Synthesis.TokenEncoding)
	if err != nil {
		logger.Warn("token encoding unavailable, estimating from words",
			zap.String("encoding", cfg.Synthesis.TokenEncoding), zap.Error(err))
	}

	p := service.NewPipeline(ch, emb, index, completer,
		service.WithLogger(logger),
		service.WithMaxHistory(cfg.Session.MaxHistory),
		service.WithRetrieverOptions(
			retriever.WithDefaultTopK(cfg.Retrieval.TopK),
			retriever.WithDefaultMinScore(cfg.Retrieval.MinScore),
		),
		service.WithSynthesizerOptions(
			synthesizer.WithTokenCounter(counter),
			synthesizer.WithContextTokens(cfg.Synthesis.ContextTokens),
			synthesizer.WithMaxTokens(cfg.LLM.MaxTokens),
			synthesizer.WithTemperature(derefOr(cfg.LLM.Temperature, synthesizer.DefaultTemperature)),
			synthesizer.WithTimeout(cfg.LLMTimeout()),
		),
	)
	logger.Info("session started",
		zap.String("embedder", emb.Name()),
		zap.String("index", index.Backend()),
		zap.String("model", completer.ModelName()))
	return p, nil
}

func newEmbedder(cfg *config.AppConfig, logger *zap.Logger) (domain.Embedder, error) {
	if cfg.Embedder.Type != "openai" {
		var opts []hashing.Option
		if cfg.Embedder.Dimension > 0 {
			opts = append(opts, hashing.WithDimension(cfg.Embedder.Dimension))
		}
		return hashing.NewEmbedder(opts...)
	}
	o := cfg.Embedder.OpenAI
	return embedopenai.NewEmbedder(embedopenai.Config{
		BaseURL:           o.BaseURL,
		APIKey:            config.Secret(o.APIKeyEnv),
		Model:             o.Model,
		Dimension:         cfg.Embedder.Dimension,
		RequestDimension:  o.RequestDimension,
		BatchSize:         o.BatchSize,
		Concurrency:       o.Concurrency,
		RequestsPerSecond: o.RequestsPerSecond,
		Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
		MaxRetries:        derefOr(o.MaxRetries, llmopenai.DefaultMaxRetries),
	}, embedopenai.WithLogger(logger))
}

// ingestAll loads the files matched by patterns and ingests each one.
// Documents that fail are logged and skipped; it is an error only when none
// could be indexed.
func ingestAll(ctx context.Context, p *service.Pipeline, patterns []string, logger *zap.Logger) ([]domain.Document, error) {
	docs, err := loader.Load(patterns)
	if err != nil {
		return nil, err
	}
	var (
		indexed []domain.Document
		errs    []error
	)
	for _, doc := range docs {
		if err := p.IngestDocument(ctx, doc); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("skipping document", zap.String("title", doc.Title), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", doc.Title, err))
			continue
		}
		indexed = append(indexed, doc)
	}
	if len(indexed) == 0 {
		return nil, errors.Join(errs...)
	}
	return indexed, nil
}

func derefOr[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}
