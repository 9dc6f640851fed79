package synthesizer

import (
	"fmt"
	"strconv"
	"strings"

	"docqa/internal/domain"
	"docqa/internal/tokens"
)

const instructions = `You are a study assistant. Answer the question using only the numbered sources below.
Cite every source you rely on as [Source n].
If the sources do not contain the answer, say that the answer is not found in the provided material and do not guess.`

// SourceLabel identifies a passage in the prompt, e.g.
// "[Source 2 | chunk intro:3 | pages 4, 5]".
func SourceLabel(n int, c domain.Chunk) string {
	var sb strings.Builder
	sb.WriteString("[Source ")
	sb.WriteString(strconv.Itoa(n))
	sb.WriteString(" | chunk ")
	sb.WriteString(c.ID)
	switch len(c.Pages) {
	case 0:
	case 1:
		sb.WriteString(" | page ")
		sb.WriteString(strconv.Itoa(c.Pages[0]))
	default:
		parts := make([]string, len(c.Pages))
		for i, p := range c.Pages {
			parts[i] = strconv.Itoa(p)
		}
		sb.WriteString(" | pages ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	sb.WriteString("]")
	return sb.String()
}

// BuildPrompt renders the grounding instructions, the labelled passages in
// order and the question.
func BuildPrompt(question string, passages []domain.RetrievedPassage) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nSources:\n")
	for i, p := range passages {
		sb.WriteString(SourceLabel(i+1, p.Chunk))
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(p.Chunk.Text))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// fitBudget keeps the best-ranked passages whose texts fit in budget tokens.
// Lower-ranked passages are dropped first. The first passage is always kept
// and is trimmed when it alone exceeds the budget.
func fitBudget(passages []domain.RetrievedPassage, counter tokens.Counter, budget int) []domain.RetrievedPassage {
	if budget <= 0 || len(passages) == 0 {
		return passages
	}
	kept := make([]domain.RetrievedPassage, 0, len(passages))
	used := 0
	for i, p := range passages {
		n := counter.Count(p.Chunk.Text)
		if i == 0 && n > budget {
			p.Chunk.Text = counter.Trim(p.Chunk.Text, budget)
			kept = append(kept, p)
			break
		}
		if used+n > budget {
			break
		}
		used += n
		kept = append(kept, p)
	}
	return kept
}

func followUpPrompt(question, answer string) string {
	return fmt.Sprintf(`Based on this question and answer, write three short follow-up questions a student might ask next, one per line.

Question: %s
Answer: %s

Follow-up questions:`, strings.TrimSpace(question), strings.TrimSpace(answer))
}
