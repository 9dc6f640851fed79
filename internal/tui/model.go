package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
)

// Port is the TUI-facing subset of the pipeline.
type Port interface {
	Ask(ctx context.Context, q domain.Query) (domain.Answer, error)
	FollowUps(ctx context.Context, question, answer string) []string
	SessionStats() domain.SessionStats
}

type answerMsg struct {
	answer domain.Answer
	err    error
}

type followUpsMsg struct {
	question  string
	followUps []string
}

// Model is the Bubble Tea model for the question answering session.
type Model struct {
	ctx       context.Context
	pipeline  Port
	topK      int
	minScore  float64
	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	answer    *domain.Answer
	followUps []string
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
}

// New creates a TUI bound to pipeline. summary is shown under the header.
func New(ctx context.Context, pipeline Port, summary string, topK int, minScore float64) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		ctx:      ctx,
		pipeline: pipeline,
		topK:     topK,
		minScore: minScore,
		input:    ti,
		viewport: vp,
		spinner:  sp,
		summary:  summary,
		status:   "Documents indexed. Ask away.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around answer and question boxes
		_, ah := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header+summary, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-ah)
		m.viewport.SetContent(m.render())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = nil
		} else {
			a := msg.answer
			m.answer = &a
			m.cursor = 0
			m.followUps = nil
			m.status = statusLine(a, m.pipeline.SessionStats())
		}
		m.viewport.SetContent(m.render())
		m.viewport.GotoTop()
		if m.answer != nil && m.answer.Status == domain.StatusGrounded {
			return m, m.fetchFollowUps(m.answer.Question, m.answer.Text)
		}
		return m, nil
	case followUpsMsg:
		if m.answer != nil && m.answer.Question == msg.question {
			m.followUps = msg.followUps
			m.viewport.SetContent(m.render())
		}
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, tea.Batch(m.ask(q), m.spinner.Tick)
			}
		case "down":
			if n := m.passageCount(); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "up":
			if n := m.passageCount(); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.render())
				return m, nil
			}
		case "pgdown":
			m.viewport.HalfViewDown()
			return m, nil
		case "pgup":
			m.viewport.HalfViewUp()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(question string) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	q := domain.Query{Question: question, TopK: m.topK, MinScore: m.minScore}
	return func() tea.Msg {
		a, err := p.Ask(ctx, q)
		return answerMsg{answer: a, err: err}
	}
}

func (m Model) fetchFollowUps(question, answer string) tea.Cmd {
	ctx, p := m.ctx, m.pipeline
	return func() tea.Msg {
		return followUpsMsg{question: question, followUps: p.FollowUps(ctx, question, answer)}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	status = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(status)
	body := answerBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + body + "\n" + input + "\n" + status
}

func (m Model) passageCount() int {
	if m.answer == nil {
		return 0
	}
	return len(m.answer.Passages)
}

func (m Model) render() string {
	if m.answer == nil {
		return "No answer yet."
	}
	a := m.answer
	var sb strings.Builder
	sb.WriteString(labelStyle.Render("Q: "))
	sb.WriteString(a.Question)
	sb.WriteString("\n\n")
	sb.WriteString(a.Text)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("confidence %.0f%%  %s", a.Confidence*100, a.Status))
	if len(a.Citations) > 0 {
		sb.WriteString("  cited: ")
		sb.WriteString(citationList(a.Citations))
	}
	if len(m.followUps) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(labelStyle.Render("You might also ask:"))
		for _, f := range m.followUps {
			sb.WriteString("\n  - " + f)
		}
	}
	if len(a.Passages) > 0 {
		p := a.Passages[m.cursor]
		sb.WriteString("\n\n")
		sb.WriteString(labelStyle.Render(fmt.Sprintf("Passage %d/%d  score=%.3f  %s", m.cursor+1, len(a.Passages), p.Score, pagesLabel(p.Chunk.Pages))))
		sb.WriteString("\n")
		sb.WriteString(highlightBestSentence(p.Chunk.Text, a.Question))
	}
	return sb.String()
}

func statusLine(a domain.Answer, stats domain.SessionStats) string {
	s := fmt.Sprintf("%d documents, %d chunks, %d questions", stats.DocumentCount, stats.ChunkCount, stats.QueryCount)
	if a.Usage.Model != "" {
		s += "  model " + a.Usage.Model
	}
	if a.Status == domain.StatusDegraded && a.Error != "" {
		s += "  (" + a.Error + ")"
	}
	return s
}

func citationList(cited []domain.RetrievedPassage) string {
	parts := make([]string, len(cited))
	for i, c := range cited {
		parts[i] = fmt.Sprintf("#%d %s", c.Rank, pagesLabel(c.Chunk.Pages))
	}
	return strings.Join(parts, ", ")
}

func pagesLabel(pages []int) string {
	switch len(pages) {
	case 0:
		return "p. ?"
	case 1:
		return fmt.Sprintf("p. %d", pages[0])
	default:
		return fmt.Sprintf("pp. %d-%d", pages[0], pages[len(pages)-1])
	}
}

var (
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
