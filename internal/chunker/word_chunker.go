package chunker

import (
	"sort"
	"strconv"
	"strings"

	"docqa/internal/domain"
)

const (
	DefaultMaxWords     = 500
	DefaultOverlapWords = 100
)

// WordChunker splits documents into overlapping word windows.
type WordChunker struct {
	maxWords     int
	overlapWords int
}

type Option func(*WordChunker)

func WithMaxWords(n int) Option {
	return func(c *WordChunker) { c.maxWords = n }
}

func WithOverlapWords(n int) Option {
	return func(c *WordChunker) { c.overlapWords = n }
}

// NewWordChunker validates the window parameters up front so a misconfigured
// chunker never reaches ingestion.
func NewWordChunker(opts ...Option) (*WordChunker, error) {
	c := &WordChunker{maxWords: DefaultMaxWords, overlapWords: DefaultOverlapWords}
	for _, opt := range opts {
		opt(c)
	}
	if err := validate(c.maxWords, c.overlapWords); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *WordChunker) MaxWords() int     { return c.maxWords }
func (c *WordChunker) OverlapWords() int { return c.overlapWords }

func (c *WordChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	return Split(document.ID, document.Pages, c.maxWords, c.overlapWords)
}

// Split cuts the concatenated page text into windows of at most maxWords words.
// Each window starts maxWords-overlapWords words after the previous one and the
// last window may be shorter. Every chunk lists the pages its word range touches.
func Split(documentID string, pages []domain.Page, maxWords, overlapWords int) ([]domain.Chunk, error) {
	if err := validate(maxWords, overlapWords); err != nil {
		return nil, err
	}

	var words []string
	// pageStarts[i] is the document word offset where pages[i] begins.
	pageStarts := make([]int, 0, len(pages))
	pageNumbers := make([]int, 0, len(pages))
	for _, p := range pages {
		fields := strings.Fields(p.Text)
		if len(fields) == 0 {
			continue
		}
		pageStarts = append(pageStarts, len(words))
		pageNumbers = append(pageNumbers, p.Number)
		words = append(words, fields...)
	}
	if len(words) == 0 {
		return []domain.Chunk{}, nil
	}

	step := maxWords - overlapWords
	var chunks []domain.Chunk
	idx := 0
	for start := 0; ; start += step {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, domain.Chunk{
			ID:         documentID + ":" + strconv.Itoa(idx),
			DocumentID: documentID,
			Index:      idx,
			Text:       strings.Join(words[start:end], " "),
			StartWord:  start,
			EndWord:    end,
			WordCount:  end - start,
			Pages:      pagesInRange(pageStarts, pageNumbers, start, end),
		})
		if end == len(words) {
			break
		}
		idx++
	}
	return chunks, nil
}

func pagesInRange(starts, numbers []int, start, end int) []int {
	// last page beginning at or before start
	first := sort.Search(len(starts), func(i int) bool { return starts[i] > start }) - 1
	if first < 0 {
		first = 0
	}
	var out []int
	for i := first; i < len(starts) && starts[i] < end; i++ {
		out = append(out, numbers[i])
	}
	return out
}

func validate(maxWords, overlapWords int) error {
	switch {
	case maxWords <= 0:
		return domain.InvalidInputf("max words must be positive, got %d", maxWords)
	case overlapWords < 0:
		return domain.InvalidInputf("overlap words must not be negative, got %d", overlapWords)
	case overlapWords >= maxWords:
		return domain.InvalidInputf("overlap words (%d) must be less than max words (%d)", overlapWords, maxWords)
	}
	return nil
}
