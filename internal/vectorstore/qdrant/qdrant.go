package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// pointNamespace derives stable point UUIDs from chunk ids, since Qdrant only
// accepts integers and UUIDs as point ids.
var pointNamespace = uuid.MustParse("6f1c2a4e-8d7b-4c7e-9a53-2f0e6b9d41a7")

// Index is a vector index backed by a Qdrant collection over its REST API.
// The collection uses cosine distance and is recreated when the first batch
// establishes the dimension. Each point stores its insertion sequence so
// ranking ties resolve the same way as in the flat index.
//
// Qdrant scans exhaustively until a segment reaches its indexing threshold and
// uses HNSW afterwards, so recall is exact for small sessions and approximate
// for large ones.
type Index struct {
	url         string
	apiKey      string
	collection  string
	dropOnClose bool
	client      *http.Client
	logger      *zap.Logger

	mu        sync.RWMutex
	dimension int
	nextSeq   int64
	ids       map[string]struct{}
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	// DropOnClose deletes the collection when the index is closed.
	DropOnClose bool
}

type Option func(*Index)

func WithLogger(l *zap.Logger) Option {
	return func(s *Index) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *Index) {
		if c != nil {
			s.client = c
		}
	}
}

func NewIndex(cfg Config, opts ...Option) (*Index, error) {
	if cfg.URL == "" {
		return nil, domain.InvalidInputf("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, domain.InvalidInputf("qdrant collection is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	s := &Index{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		collection:  cfg.Collection,
		dropOnClose: cfg.DropOnClose,
		client:      &http.Client{Timeout: timeout},
		logger:      zap.NewNop(),
		ids:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Index) Backend() string { return "qdrant" }

type payload struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartWord  int    `json:"start_word"`
	EndWord    int    `json:"end_word"`
	WordCount  int    `json:"word_count"`
	Pages      []int  `json:"pages"`
	Seq        int64  `json:"seq"`
}

func (p payload) chunk() domain.Chunk {
	return domain.Chunk{
		ID:         p.ChunkID,
		DocumentID: p.DocumentID,
		Index:      p.Index,
		Text:       p.Text,
		StartWord:  p.StartWord,
		EndWord:    p.EndWord,
		WordCount:  p.WordCount,
		Pages:      p.Pages,
	}
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload payload   `json:"payload"`
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Add uploads the batch in one request. The local bookkeeping only changes
// once Qdrant has acknowledged the write.
func (s *Index) Add(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.CheckBatch(s.dimension, entries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, exists := s.ids[e.ChunkID]; exists {
			return domain.InvalidInputf("chunk %q already indexed", e.ChunkID)
		}
	}
	if s.dimension == 0 {
		if err := s.createCollection(ctx, dim); err != nil {
			return err
		}
	}

	points := make([]point, len(entries))
	for i, e := range entries {
		c := e.Chunk
		points[i] = point{
			ID:     pointID(e.ChunkID),
			Vector: e.Vector,
			Payload: payload{
				ChunkID:    e.ChunkID,
				DocumentID: c.DocumentID,
				Index:      c.Index,
				Text:       c.Text,
				StartWord:  c.StartWord,
				EndWord:    c.EndWord,
				WordCount:  c.WordCount,
				Pages:      c.Pages,
				Seq:        s.nextSeq + int64(i),
			},
		}
	}
	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return err
	}
	s.dimension = dim
	for _, e := range entries {
		s.ids[e.ChunkID] = struct{}{}
	}
	s.nextSeq += int64(len(entries))
	s.logger.Debug("qdrant upsert", zap.String("collection", s.collection), zap.Int("points", len(points)))
	return nil
}

type scoredPoint struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload payload `json:"payload"`
}

// Search over-fetches so that ties at the cut-off can be re-ordered by
// insertion sequence before truncating to k.
func (s *Index) Search(ctx context.Context, vector []float32, k int, minScore *float64) ([]domain.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := vectorstore.CheckQuery(s.dimension, vector, k); err != nil {
		return nil, err
	}
	if k == 0 || len(s.ids) == 0 {
		return []domain.Hit{}, nil
	}
	limit := k * 2
	if limit > len(s.ids) {
		limit = len(s.ids)
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if minScore != nil {
		req["score_threshold"] = *minScore
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	candidates := make([]vectorstore.Scored, len(resp.Result))
	for i, r := range resp.Result {
		candidates[i] = vectorstore.Scored{
			Hit: domain.Hit{ChunkID: r.Payload.ChunkID, Score: r.Score, Chunk: r.Payload.chunk()},
			Seq: r.Payload.Seq,
		}
	}
	return vectorstore.Rank(candidates, k, minScore), nil
}

func (s *Index) Get(ctx context.Context, chunkID string) (domain.IndexEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.ids[chunkID]; !ok {
		return domain.IndexEntry{}, false, nil
	}
	req := map[string]any{
		"ids":          []string{pointID(chunkID)},
		"with_payload": true,
		"with_vector":  true,
	}
	var resp struct {
		Result []point `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points", req, &resp); err != nil {
		return domain.IndexEntry{}, false, err
	}
	if len(resp.Result) == 0 {
		return domain.IndexEntry{}, false, nil
	}
	p := resp.Result[0]
	return domain.IndexEntry{ChunkID: chunkID, Vector: p.Vector, Chunk: p.Payload.chunk()}, true, nil
}

func (s *Index) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Index) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Clear drops the collection. The next Add recreates it.
func (s *Index) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dropCollection(ctx); err != nil {
		return err
	}
	s.dimension = 0
	s.nextSeq = 0
	s.ids = make(map[string]struct{})
	return nil
}

// Close drops the collection when configured to do so.
func (s *Index) Close() error {
	if !s.dropOnClose {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.Clear(ctx)
}

func (s *Index) createCollection(ctx context.Context, dimension int) error {
	if err := s.dropCollection(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	s.logger.Info("qdrant collection created", zap.String("collection", s.collection), zap.Int("dimension", dimension))
	return nil
}

func (s *Index) dropCollection(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

func (s *Index) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

type statusError struct {
	method, url string
	status      int
	body        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func statusOf(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

func (s *Index) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: url, status: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant decode %s response: %w", url, err)
		}
	}
	return nil
}

var _ domain.VectorIndex = (*Index)(nil)
