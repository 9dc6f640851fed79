// Package extractive is an offline Completer. Instead of generating text it
// picks the source sentences that overlap the question most and cites them,
// which keeps the pipeline usable without a hosted model.
package extractive

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"docqa/internal/domain"
)

const (
	ModelName = "extractive"

	notFoundText = "The answer is not found in the provided material."
)

var (
	labelLine    = regexp.MustCompile(`^\[Source (\d+)[^\]]*\]$`)
	questionLine = regexp.MustCompile(`^Question:\s*(.*)$`)
	sentenceRe   = regexp.MustCompile(`[^.!?]+[.!?]*`)
	wordRe       = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// Completer answers prompts laid out as labelled sources followed by a
// question.
type Completer struct {
	maxSentences int
}

func New(maxSentences int) *Completer {
	if maxSentences <= 0 {
		maxSentences = 2
	}
	return &Completer{maxSentences: maxSentences}
}

func (c *Completer) ModelName() string { return ModelName }

func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (domain.Completion, error) {
	if err := ctx.Err(); err != nil {
		return domain.Completion{}, err
	}
	began := time.Now()
	sources, question := parsePrompt(req.Prompt)

	var text string
	switch {
	case len(sources) == 0:
		text = ""
	case question == "":
		text = c.leadSentences(sources)
	default:
		text = c.answer(sources, question)
	}

	promptTokens := len(strings.Fields(req.Prompt))
	completionTokens := len(strings.Fields(text))
	return domain.Completion{
		Text: text,
		Usage: domain.Usage{
			Model:            ModelName,
			FinishReason:     "stop",
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
			Latency:          time.Since(began),
		},
	}, nil
}

type source struct {
	n    int
	text string
}

func parsePrompt(prompt string) ([]source, string) {
	var (
		sources  []source
		current  *source
		body     []string
		question string
	)
	flush := func() {
		if current != nil {
			current.text = strings.TrimSpace(strings.Join(body, " "))
			sources = append(sources, *current)
		}
		current, body = nil, nil
	}
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if m := labelLine.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			current = &source{n: n}
			continue
		}
		if m := questionLine.FindStringSubmatch(line); m != nil {
			flush()
			question = m[1]
			continue
		}
		if current != nil {
			if line == "" {
				flush()
				continue
			}
			body = append(body, line)
		}
	}
	flush()
	return sources, question
}

type candidate struct {
	source int
	order  int
	text   string
	score  int
}

func (c *Completer) answer(sources []source, question string) string {
	query := tokenSet(question)
	var candidates []candidate
	for _, s := range sources {
		for _, sent := range sentences(s.text) {
			candidates = append(candidates, candidate{
				source: s.n,
				order:  len(candidates),
				text:   sent,
				score:  overlap(query, sent),
			})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) == 0 || candidates[0].score == 0 {
		return notFoundText
	}

	var picked []candidate
	for _, cand := range candidates {
		if cand.score == 0 || len(picked) == c.maxSentences {
			break
		}
		picked = append(picked, cand)
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].order < picked[j].order })
	parts := make([]string, len(picked))
	for i, p := range picked {
		parts[i] = p.text + " [Source " + strconv.Itoa(p.source) + "]"
	}
	return strings.Join(parts, " ")
}

func (c *Completer) leadSentences(sources []source) string {
	var parts []string
	for _, s := range sources {
		sents := sentences(s.text)
		if len(sents) == 0 {
			continue
		}
		parts = append(parts, sents[0]+" [Source "+strconv.Itoa(s.n)+"]")
		if len(parts) == c.maxSentences+1 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {}, "on": {}, "is": {},
	"are": {}, "was": {}, "were": {}, "what": {}, "which": {}, "who": {}, "how": {}, "why": {}, "when": {},
	"where": {}, "does": {}, "do": {}, "did": {}, "it": {}, "this": {}, "that": {}, "for": {}, "with": {}, "by": {},
}

func tokenSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, t := range wordRe.FindAllString(strings.ToLower(s), -1) {
		if _, stop := stopwords[t]; stop {
			continue
		}
		m[t] = struct{}{}
	}
	return m
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range tokenSet(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}

var _ domain.Completer = (*Completer)(nil)
