package domain

import (
	"strings"
	"time"
)

// Page is the extracted text of one page of a source document.
type Page struct {
	Number int
	Text   string
}

// Document is a single ingested source, split into ordered pages.
type Document struct {
	ID    string
	Title string
	Pages []Page
}

// Text joins the page texts with a newline.
func (d Document) Text() string {
	parts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n")
}

// Chunk is an overlapping word window of a document used as the unit of retrieval.
// StartWord and EndWord are document-level word offsets, EndWord exclusive.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartWord  int    `json:"start_word"`
	EndWord    int    `json:"end_word"`
	WordCount  int    `json:"word_count"`
	Pages      []int  `json:"pages"`
}

// FirstPage returns the first page the chunk touches, or 0 when unknown.
func (c Chunk) FirstPage() int {
	if len(c.Pages) == 0 {
		return 0
	}
	return c.Pages[0]
}

// OnPage reports whether the chunk's word range touches the given page.
func (c Chunk) OnPage(page int) bool {
	for _, p := range c.Pages {
		if p == page {
			return true
		}
	}
	return false
}

// IndexEntry is what a vector index stores per chunk.
type IndexEntry struct {
	ChunkID string
	Vector  []float32
	Chunk   Chunk
}

// Hit is a raw vector index match.
type Hit struct {
	ChunkID string
	Score   float64
	Chunk   Chunk
}

// Query is a question plus optional retrieval overrides.
// Zero TopK means the configured default; Pages restricts retrieval to those pages.
type Query struct {
	Question string
	TopK     int
	MinScore float64
	Pages    []int
}

// RetrievedPassage is a ranked chunk returned for a question. Rank is 1-based.
type RetrievedPassage struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Usage is the metadata reported by the language model for one completion.
type Usage struct {
	Model            string        `json:"model"`
	FinishReason     string        `json:"finish_reason,omitempty"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Latency          time.Duration `json:"latency"`
}

// AnswerStatus classifies how an answer was produced.
type AnswerStatus string

const (
	// StatusGrounded means the model answered from the retrieved passages.
	StatusGrounded AnswerStatus = "grounded"
	// StatusNotFound means the model reported the passages do not contain the answer.
	StatusNotFound AnswerStatus = "not_found"
	// StatusInsufficient means no passage was retrieved and the model was not called.
	StatusInsufficient AnswerStatus = "insufficient"
	// StatusDegraded means a dependency failed and the answer carries no content.
	StatusDegraded AnswerStatus = "degraded"
)

// Answer is the result of one query.
type Answer struct {
	Question   string             `json:"question"`
	Text       string             `json:"text"`
	Confidence float64            `json:"confidence"`
	Status     AnswerStatus       `json:"status"`
	Citations  []RetrievedPassage `json:"citations"`
	Passages   []RetrievedPassage `json:"passages"`
	Usage      Usage              `json:"usage"`
	Error      string             `json:"error,omitempty"`
	Err        error              `json:"-"`
}

// Exchange is one entry of the session's question and answer history.
type Exchange struct {
	Question string    `json:"question"`
	Answer   Answer    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// SessionStats summarises a pipeline session.
type SessionStats struct {
	DocumentCount int `json:"document_count"`
	ChunkCount    int `json:"chunk_count"`
	QueryCount    int `json:"query_count"`
}

// IndexStats describes the contents of a vector index.
type IndexStats struct {
	Backend   string  `json:"backend"`
	Entries   int     `json:"entries"`
	Dimension int     `json:"dimension"`
	Documents int     `json:"documents"`
	Pages     int     `json:"pages"`
	AvgWords  float64 `json:"avg_words"`
}

// Coverage describes how well retrieval covers a question: the share of the
// requested passages that were found and the pages they come from.
type Coverage struct {
	Coverage float64 `json:"coverage"`
	Pages    []int   `json:"pages"`
	Chunks   int     `json:"chunks"`
	AvgWords float64 `json:"avg_words"`
}

// DocumentState is the ingestion state of a document.
type DocumentState string

const (
	StateUnindexed DocumentState = "unindexed"
	StateChunking  DocumentState = "chunking"
	StateEmbedding DocumentState = "embedding"
	StateIndexed   DocumentState = "indexed"
)
