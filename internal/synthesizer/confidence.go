package synthesizer

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docqa/internal/domain"
)

const (
	// UncitedFactor scales confidence when the response cites no source.
	UncitedFactor = 0.85
	// NotFoundFactor scales confidence when the response says the sources lack the answer.
	NotFoundFactor = 0.3
)

var sourceRef = regexp.MustCompile(`(?i)\[\s*sources?\s+(\d+(?:\s*,\s*\d+)*)`)

var notFoundPhrases = []string{
	"not found in the provided material",
	"not found in the provided sources",
	"does not contain",
	"do not contain",
	"no relevant information",
	"cannot be answered",
	"not mentioned",
	"insufficient information",
	"i don't know",
	"i do not know",
}

// CitedSources returns the distinct 1-based source numbers referenced in
// text that fall within [1, n], ascending.
func CitedSources(text string, n int) []int {
	seen := make(map[int]struct{})
	for _, m := range sourceRef.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || v < 1 || v > n {
				continue
			}
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// SignalsNotFound reports whether the response says the answer is missing
// from the sources.
func SignalsNotFound(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, p := range notFoundPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Confidence scores a response against the passages it was given.
//
// The base is the mean similarity, clamped to [0, 1], of the cited passages.
// When nothing is cited every passage counts and the base is scaled by
// UncitedFactor. A not-found signal scales it by NotFoundFactor.
// No passages gives 0. The second result is the passages counted as cited.
func Confidence(text string, passages []domain.RetrievedPassage) (float64, []domain.RetrievedPassage) {
	if len(passages) == 0 {
		return 0, nil
	}
	cited := make([]domain.RetrievedPassage, 0, len(passages))
	for _, n := range CitedSources(text, len(passages)) {
		cited = append(cited, passages[n-1])
	}
	factor := 1.0
	scored := cited
	if len(cited) == 0 {
		scored = passages
		factor = UncitedFactor
	}

	var sum float64
	for _, p := range scored {
		sum += clamp01(p.Score)
	}
	conf := sum / float64(len(scored)) * factor
	if SignalsNotFound(text) {
		conf *= NotFoundFactor
	}
	return clamp01(conf), scored
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
