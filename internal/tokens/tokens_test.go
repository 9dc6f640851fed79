package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate_Count(t *testing.T) {
	var e Estimate
	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 2, e.Count("hello"))
	assert.Equal(t, 4, e.Count("one two three"))
	assert.Equal(t, 134, e.Count(strings.Repeat("word ", 100)))
}

func TestEstimate_Trim(t *testing.T) {
	var e Estimate
	text := strings.Repeat("word ", 100)

	trimmed := e.Trim(text, 40)
	assert.Len(t, strings.Fields(trimmed), 30)
	assert.LessOrEqual(t, e.Count(trimmed), 40)

	assert.Equal(t, "short text", e.Trim("short text", 40))
	assert.Equal(t, "", e.Trim(text, 0))
}

func TestTiktoken_CountAndTrim(t *testing.T) {
	tk, err := NewTiktoken(DefaultEncoding)
	require.NoError(t, err)

	assert.Equal(t, 0, tk.Count(""))
	assert.Equal(t, 2, tk.Count("hello world"))

	text := "hello world, how are you today?"
	assert.Equal(t, "hello world", tk.Trim(text, 2))
	assert.Equal(t, text, tk.Trim(text, 100))
	assert.Equal(t, "", tk.Trim(text, 0))
	assert.LessOrEqual(t, tk.Count(tk.Trim(strings.Repeat("photosynthesis ", 50), 10)), 10)
}

func TestNew_SelectsCounter(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.IsType(t, &Tiktoken{}, c)

	c, err = New(EstimateEncoding)
	require.NoError(t, err)
	assert.Equal(t, Estimate{}, c)

	c, err = New("no_such_encoding")
	assert.Error(t, err)
	assert.Equal(t, Estimate{}, c)
}
