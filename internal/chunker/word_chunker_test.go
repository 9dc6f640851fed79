package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func words(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, fmt.Sprintf("w%d", i))
	}
	return strings.Join(parts, " ")
}

func TestSplit_WindowRanges(t *testing.T) {
	pages := []domain.Page{{Number: 1, Text: words(0, 1200)}}

	chunks, err := Split("doc", pages, 500, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	want := [][2]int{{0, 500}, {400, 900}, {800, 1200}}
	for i, c := range chunks {
		assert.Equal(t, want[i][0], c.StartWord, "chunk %d start", i)
		assert.Equal(t, want[i][1], c.EndWord, "chunk %d end", i)
		assert.Equal(t, c.EndWord-c.StartWord, c.WordCount)
		assert.Equal(t, fmt.Sprintf("doc:%d", i), c.ID)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, "doc", c.DocumentID)
	}
}

func TestSplit_CoverageAndOverlap(t *testing.T) {
	cases := []struct {
		name             string
		total, max, over int
	}{
		{"exact multiple", 1000, 250, 50},
		{"short tail", 1037, 300, 120},
		{"no overlap", 95, 10, 0},
		{"single chunk", 40, 500, 100},
		{"overlap one less than max", 30, 5, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			original := strings.Fields(words(0, tc.total))
			chunks, err := Split("d", []domain.Page{{Number: 1, Text: words(0, tc.total)}}, tc.max, tc.over)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			var rebuilt []string
			for i, c := range chunks {
				cw := strings.Fields(c.Text)
				assert.LessOrEqual(t, len(cw), tc.max)
				assert.Equal(t, c.WordCount, len(cw))
				if i == 0 {
					rebuilt = append(rebuilt, cw...)
					continue
				}
				prev := chunks[i-1]
				assert.Equal(t, tc.over, prev.EndWord-c.StartWord, "overlap between %d and %d", i-1, i)
				rebuilt = append(rebuilt, cw[tc.over:]...)
			}
			assert.Equal(t, original, rebuilt)
		})
	}
}

func TestSplit_PageMetadata(t *testing.T) {
	pages := []domain.Page{
		{Number: 1, Text: words(0, 300)},
		{Number: 2, Text: words(300, 450)},
		{Number: 3, Text: "   "},
		{Number: 4, Text: words(450, 1000)},
	}

	chunks, err := Split("doc", pages, 500, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, []int{1, 2, 4}, chunks[0].Pages)
	assert.Equal(t, []int{2, 4}, chunks[1].Pages)
	assert.Equal(t, []int{4}, chunks[2].Pages)
	assert.Equal(t, 1, chunks[0].FirstPage())
	assert.True(t, chunks[1].OnPage(4))
	assert.False(t, chunks[1].OnPage(1))
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("doc", []domain.Page{{Number: 1, Text: " \n\t "}}, 500, 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = Split("doc", nil, 500, 100)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_InvalidParameters(t *testing.T) {
	cases := []struct {
		name      string
		max, over int
	}{
		{"overlap equals max", 100, 100},
		{"overlap above max", 100, 150},
		{"zero max", 0, 0},
		{"negative max", -5, 0},
		{"negative overlap", 100, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split("doc", []domain.Page{{Number: 1, Text: "a b c"}}, tc.max, tc.over)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestWordChunker_Options(t *testing.T) {
	c, err := NewWordChunker(WithMaxWords(4), WithOverlapWords(1))
	require.NoError(t, err)
	assert.Equal(t, 4, c.MaxWords())
	assert.Equal(t, 1, c.OverlapWords())

	chunks, err := c.Chunk(domain.Document{ID: "x", Pages: []domain.Page{{Number: 1, Text: "a b c d e f g"}}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a b c d", chunks[0].Text)
	assert.Equal(t, "d e f g", chunks[1].Text)

	_, err = NewWordChunker(WithMaxWords(10), WithOverlapWords(10))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWordChunker_Defaults(t *testing.T) {
	c, err := NewWordChunker()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxWords, c.MaxWords())
	assert.Equal(t, DefaultOverlapWords, c.OverlapWords())
}
