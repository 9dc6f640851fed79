package synthesizer

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"docqa/internal/domain"
)

const maxFollowUps = 3

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// FollowUps asks the model for up to three follow-up questions. Any failure
// yields an empty list.
func (s *Synthesizer) FollowUps(ctx context.Context, question, answer string) []string {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return []string{}
	}
	completion, err := s.complete(ctx, domain.CompletionRequest{
		Prompt:      followUpPrompt(question, answer),
		MaxTokens:   150,
		Temperature: s.temperature,
	})
	if err != nil {
		s.logger.Warn("follow-up generation failed", zap.Error(err))
		return []string{}
	}
	return ParseFollowUps(completion.Text)
}

// ParseFollowUps keeps the lines that contain a question mark, stripped of
// list markers, up to three.
func ParseFollowUps(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" || !strings.Contains(line, "?") {
			continue
		}
		out = append(out, line)
		if len(out) == maxFollowUps {
			break
		}
	}
	return out
}
