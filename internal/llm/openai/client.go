// Package openai is a language model Completer backed by the OpenAI chat
// completions API or any compatible server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"docqa/internal/domain"
)

const (
	DefaultModel = "gpt-4o-mini"
	// DefaultMaxRetries is the client's own retry budget for transient faults.
	DefaultMaxRetries = 2
)

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
}

// Client implements domain.Completer.
type Client struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", domain.ErrModelUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	c := &Client{
		client: openai.NewClient(reqOpts...),
		model:  cfg.Model,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ModelName() string { return c.model }

// Complete sends the prompt as a single user message.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	began := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Completion{}, fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusRequestTimeout {
			return domain.Completion{}, fmt.Errorf("%w: %v", domain.ErrModelTimeout, err)
		}
		c.logger.Warn("chat completion failed", zap.String("model", c.model), zap.Error(err))
		return domain.Completion{}, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return domain.Completion{}, fmt.Errorf("%w: no completion choices returned", domain.ErrModelUnavailable)
	}

	choice := completion.Choices[0]
	return domain.Completion{
		Text: choice.Message.Content,
		Usage: domain.Usage{
			Model:            string(completion.Model),
			FinishReason:     string(choice.FinishReason),
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
			Latency:          time.Since(began),
		},
	}, nil
}

var _ domain.Completer = (*Client)(nil)
