package summarizer

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/synthesizer"
)

const (
	// DefaultMaxChunks is how many leading chunks of a document are summarised.
	DefaultMaxChunks = 10
	defaultSentences = 5
)

// ModelSummarizer asks the language model for a document summary and falls
// back to an extractive summary when the model fails or returns nothing.
type ModelSummarizer struct {
	completer domain.Completer
	fallback  domain.Summarizer
	maxChunks int
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
}

type Option func(*ModelSummarizer)

func WithMaxChunks(n int) Option {
	return func(s *ModelSummarizer) {
		if n > 0 {
			s.maxChunks = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *ModelSummarizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *ModelSummarizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewModelSummarizer(completer domain.Completer, fallback domain.Summarizer, opts ...Option) *ModelSummarizer {
	if fallback == nil {
		fallback = NewFrequencySummarizer()
	}
	s := &ModelSummarizer{
		completer: completer,
		fallback:  fallback,
		maxChunks: DefaultMaxChunks,
		maxTokens: 400,
		timeout:   synthesizer.DefaultTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SummarizeChunks summarises the first chunks of a document.
func (s *ModelSummarizer) SummarizeChunks(ctx context.Context, chunks []domain.Chunk) (string, error) {
	if len(chunks) == 0 {
		return "", domain.InvalidInputf("nothing to summarise")
	}
	if len(chunks) > s.maxChunks {
		chunks = chunks[:s.maxChunks]
	}

	if s.completer != nil {
		text, err := s.complete(ctx, chunks)
		if err == nil && text != "" {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if err != nil {
			s.logger.Warn("model summary failed, using extractive summary", zap.Error(err))
		} else {
			s.logger.Warn("model returned an empty summary, using extractive summary",
				zap.String("model", s.completer.ModelName()))
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return s.fallback.Summarize(ctx, strings.Join(texts, " "), defaultSentences)
}

func (s *ModelSummarizer) complete(ctx context.Context, chunks []domain.Chunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Summarize the following document content. Highlight the main topics and key points concisely.\n\n")
	for i, c := range chunks {
		sb.WriteString(synthesizer.SourceLabel(i+1, c))
		sb.WriteString("\n")
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Summary:")

	out, err := s.completer.Complete(ctx, domain.CompletionRequest{
		Prompt:      sb.String(),
		MaxTokens:   s.maxTokens,
		Temperature: 0.3,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.ErrModelTimeout
		}
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}
