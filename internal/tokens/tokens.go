// Package tokens counts model tokens for prompt budgeting.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	DefaultEncoding = "cl100k_base"
	// EstimateEncoding selects the word-count estimate instead of a BPE encoding.
	EstimateEncoding = "estimate"
)

var offlineLoader sync.Once

// Counter counts and trims text in model tokens.
type Counter interface {
	Count(text string) int
	Trim(text string, maxTokens int) string
}

// Tiktoken is a Counter backed by a BPE encoding.
type Tiktoken struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktoken loads the named encoding from the BPE ranks embedded in the
// binary, so no download happens at runtime.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	offlineLoader.Do(func() { tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) })
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

func (t *Tiktoken) Trim(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids := t.encoding.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.encoding.Decode(ids[:maxTokens])
}

// Estimate approximates token counts from word counts, at roughly four tokens
// per three English words.
type Estimate struct{}

func (Estimate) Count(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

func (Estimate) Trim(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	words := strings.Fields(text)
	keep := maxTokens * 3 / 4
	if keep < 1 {
		keep = 1
	}
	if len(words) <= keep {
		return text
	}
	return strings.Join(words[:keep], " ")
}

// New returns a tiktoken counter for encoding, or the word estimate when the
// encoding is EstimateEncoding or cannot be loaded. The returned error is
// informational.
func New(encoding string) (Counter, error) {
	if encoding == EstimateEncoding {
		return Estimate{}, nil
	}
	t, err := NewTiktoken(encoding)
	if err != nil {
		return Estimate{}, err
	}
	return t, nil
}
