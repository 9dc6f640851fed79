package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docqa/internal/config"
	"docqa/internal/domain"
)

const botany = "Photosynthesis is the process by which green plants use sunlight to make glucose.\f" +
	"Chlorophyll is the green pigment in chloroplasts that absorbs light energy.\f" +
	"Roots take up water and minerals from the soil."

func writeFixture(t *testing.T) (cfgPath, docPath string) {
	t.Helper()
	dir := t.TempDir()
	docPath = filepath.Join(dir, "botany.txt")
	require.NoError(t, os.WriteFile(docPath, []byte(botany), 0o644))
	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := "log:\n  output: " + filepath.Join(dir, "docqa.log") + "\n" +
		"chunker:\n  max_words: 12\n  overlap_words: 2\n" +
		"retrieval:\n  top_k: 3\n  min_score: 0.05\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, docPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgPath, envPath = "", ""
		queryJSON, queryFollowUp, queryTopK, queryPages = false, false, 0, nil
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestQueryCommand_JSON(t *testing.T) {
	cfgPath, docPath := writeFixture(t)

	out, err := execute(t, "--config", cfgPath, "query", "--json", "Which pigment absorbs light?", docPath)
	require.NoError(t, err)

	var answer domain.Answer
	require.NoError(t, json.Unmarshal([]byte(out), &answer))
	assert.Equal(t, domain.StatusGrounded, answer.Status)
	assert.Contains(t, answer.Text, "Chlorophyll")
	require.NotEmpty(t, answer.Citations)
	assert.Contains(t, answer.Citations[0].Chunk.Pages, 2)
	assert.Equal(t, "extractive", answer.Usage.Model)
}

func TestStatsCommand(t *testing.T) {
	cfgPath, docPath := writeFixture(t)

	out, err := execute(t, "--config", cfgPath, "stats", docPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend:    memory")
	assert.Contains(t, out, "Pages:      3")
	assert.Contains(t, out, "botany")
}

func TestQueryCommand_NoDocuments(t *testing.T) {
	cfgPath, _ := writeFixture(t)

	_, err := execute(t, "--config", cfgPath, "query", "anything?", filepath.Join(t.TempDir(), "*.txt"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAssemble_RejectsBadChunker(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg.Chunker.OverlapWords = cfg.Chunker.MaxWords

	_, err = assemble(cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
