package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/logging"
	"docqa/internal/service"
	"docqa/internal/tui"
)

var (
	queryTopK     int
	queryMinScore float64
	queryPages    []int
	queryJSON     bool
	queryFollowUp bool
)

var chatCmd = &cobra.Command{
	Use:   "chat file.txt [file.txt ...]",
	Short: "Index documents and ask questions interactively",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

var queryCmd = &cobra.Command{
	Use:   "query question file.txt [file.txt ...]",
	Short: "Index documents and answer one question",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runQuery,
}

var statsCmd = &cobra.Command{
	Use:   "stats file.txt [file.txt ...]",
	Short: "Index documents and print index statistics",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStats,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "passages to retrieve (0 uses the configured default)")
	queryCmd.Flags().Float64Var(&queryMinScore, "min-score", -2, "minimum similarity in [-1, 1] (default from config)")
	queryCmd.Flags().IntSliceVar(&queryPages, "page", nil, "only use passages from these pages")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the answer as JSON")
	queryCmd.Flags().BoolVar(&queryFollowUp, "follow-ups", false, "also suggest follow-up questions")
	rootCmd.AddCommand(chatCmd, queryCmd, statsCmd)
}

type session struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	pipeline *service.Pipeline
	docs     []domain.Document
}

// open loads config, builds the pipeline and ingests the documents.
func open(cmd *cobra.Command, patterns []string, interactive bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logCfg := cfg.Log
	if interactive && (logCfg.Output == "" || logCfg.Output == "stderr" || logCfg.Output == "stdout") {
		// the terminal belongs to the TUI
		logCfg.Output = filepath.Join(os.TempDir(), "docqa.log")
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}
	p, err := assemble(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	docs, err := ingestAll(cmd.Context(), p, patterns, logger)
	if err != nil {
		_ = p.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	return &session{cfg: cfg, logger: logger, pipeline: p, docs: docs}, nil
}

func (s *session) close() {
	if err := s.pipeline.Close(); err != nil {
		s.logger.Warn("close session", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := open(cmd, args, true)
	if err != nil {
		return err
	}
	defer s.close()

	titles := make([]string, len(s.docs))
	for i, d := range s.docs {
		titles[i] = d.Title
	}
	stats := s.pipeline.SessionStats()
	summary := fmt.Sprintf("%d documents, %d chunks: %s", stats.DocumentCount, stats.ChunkCount, strings.Join(titles, ", "))
	if len(s.docs) == 1 {
		if text, err := s.pipeline.Summary(cmd.Context(), s.docs[0].ID); err == nil {
			summary += "\n" + text
		}
	}

	m := tui.New(cmd.Context(), s.pipeline, summary, s.cfg.Retrieval.TopK, s.cfg.Retrieval.MinScore)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	if errors.Is(err, tea.ErrProgramKilled) && cmd.Context().Err() != nil {
		return nil
	}
	return err
}

type queryOutput struct {
	domain.Answer
	FollowUps []string `json:"follow_ups,omitempty"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := open(cmd, args[1:], false)
	if err != nil {
		return err
	}
	defer s.close()

	minScore := queryMinScore
	if !cmd.Flags().Changed("min-score") {
		minScore = s.cfg.Retrieval.MinScore
	}
	answer, err := s.pipeline.Ask(cmd.Context(), domain.Query{
		Question: args[0],
		TopK:     queryTopK,
		MinScore: minScore,
		Pages:    queryPages,
	})
	if err != nil {
		return err
	}
	out := queryOutput{Answer: answer}
	if queryFollowUp && answer.Status == domain.StatusGrounded {
		out.FollowUps = s.pipeline.FollowUps(cmd.Context(), answer.Question, answer.Text)
	}

	if queryJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	printAnswer(cmd, out)
	return nil
}

func printAnswer(cmd *cobra.Command, out queryOutput) {
	fmt.Fprintln(cmd.OutOrStdout(), out.Text)
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintf(cmd.OutOrStdout(), "Confidence: %.2f (%s)\n", out.Confidence, out.Status)
	for _, c := range out.Citations {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s pages %v (%.3f)\n", c.Rank, c.Chunk.DocumentID, c.Chunk.Pages, c.Score)
	}
	if len(out.FollowUps) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Follow-up questions:")
		for _, f := range out.FollowUps {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", f)
		}
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := open(cmd, args, false)
	if err != nil {
		return err
	}
	defer s.close()

	stats := s.pipeline.IndexStats()
	fmt.Fprintf(cmd.OutOrStdout(), "Backend:    %s\n", stats.Backend)
	fmt.Fprintf(cmd.OutOrStdout(), "Entries:    %d\n", stats.Entries)
	fmt.Fprintf(cmd.OutOrStdout(), "Dimension:  %d\n", stats.Dimension)
	fmt.Fprintf(cmd.OutOrStdout(), "Documents:  %d\n", stats.Documents)
	fmt.Fprintf(cmd.OutOrStdout(), "Pages:      %d\n", stats.Pages)
	fmt.Fprintf(cmd.OutOrStdout(), "Avg words:  %.1f\n", stats.AvgWords)
	for _, d := range s.pipeline.Documents() {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %d pages  %d chunks  %s\n", d.ID, d.Title, d.Pages, d.Chunks, d.State)
	}
	return nil
}
