// Package synthesizer builds grounded prompts from retrieved passages, calls
// the language model once per question and scores the reply.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/tokens"
)

const (
	// InsufficientGroundingText is returned, without calling the model, when
	// no passage was retrieved.
	InsufficientGroundingText = "I could not find anything in the provided material that answers this question."

	ModelUnavailableText = "The answer could not be generated because the language model is unavailable. Please try again."
	ModelTimeoutText     = "The answer could not be generated because the language model did not respond in time. Please try again."

	DefaultContextTokens = 3000
	DefaultMaxTokens     = 500
	DefaultTemperature   = 0.7
	DefaultTimeout       = 60 * time.Second
)

// Synthesizer is safe for concurrent use as long as its Completer is.
type Synthesizer struct {
	completer     domain.Completer
	counter       tokens.Counter
	contextTokens int
	maxTokens     int
	temperature   float64
	timeout       time.Duration
	logger        *zap.Logger
}

type Option func(*Synthesizer)

func WithTokenCounter(c tokens.Counter) Option {
	return func(s *Synthesizer) {
		if c != nil {
			s.counter = c
		}
	}
}

// WithContextTokens bounds the passage text placed in the prompt. Zero or
// less disables the bound.
func WithContextTokens(n int) Option {
	return func(s *Synthesizer) { s.contextTokens = n }
}

func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

func WithTemperature(t float64) Option {
	return func(s *Synthesizer) { s.temperature = t }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(completer domain.Completer, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		completer:     completer,
		counter:       tokens.Estimate{},
		contextTokens: DefaultContextTokens,
		maxTokens:     DefaultMaxTokens,
		temperature:   DefaultTemperature,
		timeout:       DefaultTimeout,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize answers question from passages. Model failures produce a
// degraded Answer rather than an error; the error is only set when ctx ends
// before the answer is ready.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, passages []domain.RetrievedPassage) (domain.Answer, error) {
	answer := domain.Answer{
		Question:  question,
		Passages:  passages,
		Citations: []domain.RetrievedPassage{},
	}
	if len(passages) == 0 {
		answer.Text = InsufficientGroundingText
		answer.Status = domain.StatusInsufficient
		return answer, nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Answer{}, err
	}

	kept := fitBudget(passages, s.counter, s.contextTokens)
	if len(kept) < len(passages) {
		s.logger.Debug("passages dropped to fit context budget",
			zap.Int("supplied", len(passages)),
			zap.Int("kept", len(kept)),
			zap.Int("budget", s.contextTokens))
	}
	prompt := BuildPrompt(question, kept)

	completion, err := s.complete(ctx, domain.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Answer{}, ctxErr
		}
		s.logger.Warn("answer degraded", zap.String("question", question), zap.Error(err))
		return degraded(answer, s.completer.ModelName(), err), nil
	}

	text := strings.TrimSpace(completion.Text)
	confidence, cited := Confidence(text, kept)
	answer.Text = text
	answer.Confidence = confidence
	answer.Citations = cited
	answer.Usage = completion.Usage
	if answer.Usage.Model == "" {
		answer.Usage.Model = s.completer.ModelName()
	}
	answer.Status = domain.StatusGrounded
	if SignalsNotFound(text) {
		answer.Status = domain.StatusNotFound
	}
	s.logger.Debug("answer synthesized",
		zap.Int("passages", len(kept)),
		zap.Int("cited", len(cited)),
		zap.Float64("confidence", confidence),
		zap.Duration("latency", answer.Usage.Latency))
	return answer, nil
}

// complete performs the single model call under the per-call timeout. A
// result arriving after the deadline is dropped.
func (s *Synthesizer) complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		completion domain.Completion
		err        error
	}
	done := make(chan result, 1)
	began := time.Now()
	go func() {
		c, err := s.completer.Complete(callCtx, req)
		done <- result{completion: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return domain.Completion{}, classify(callCtx, r.err)
		}
		if r.completion.Usage.Latency == 0 {
			r.completion.Usage.Latency = time.Since(began)
		}
		return r.completion, nil
	case <-callCtx.Done():
		return domain.Completion{}, classify(callCtx, callCtx.Err())
	}
}

func classify(callCtx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrModelTimeout), errors.Is(err, domain.ErrModelUnavailable):
		return err
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
}

func degraded(answer domain.Answer, model string, err error) domain.Answer {
	answer.Text = ModelUnavailableText
	if errors.Is(err, domain.ErrModelTimeout) {
		answer.Text = ModelTimeoutText
	}
	answer.Confidence = 0
	answer.Status = domain.StatusDegraded
	answer.Usage = domain.Usage{Model: model}
	answer.Err = err
	answer.Error = err.Error()
	return answer
}
