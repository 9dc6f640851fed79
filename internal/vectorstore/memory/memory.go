package memory

import (
	"context"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/vectorstore"
)

// Index is an in-memory vector index using brute-force cosine similarity.
// Entries are kept in insertion order, which is also the tie-break order.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []domain.IndexEntry
	byID      map[string]int
}

func NewIndex() *Index { return &Index{byID: make(map[string]int)} }

func (s *Index) Backend() string { return "memory" }

// Add appends the batch under a single write lock. On any error nothing from
// the batch is stored.
func (s *Index) Add(ctx context.Context, entries []domain.IndexEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.CheckBatch(s.dimension, entries)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, exists := s.byID[e.ChunkID]; exists {
			return domain.InvalidInputf("chunk %q already indexed", e.ChunkID)
		}
	}
	s.dimension = dim
	for _, e := range entries {
		s.byID[e.ChunkID] = len(s.entries)
		s.entries = append(s.entries, domain.IndexEntry{
			ChunkID: e.ChunkID,
			Vector:  append([]float32(nil), e.Vector...),
			Chunk:   e.Chunk,
		})
	}
	return nil
}

func (s *Index) Search(ctx context.Context, vector []float32, k int, minScore *float64) ([]domain.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := vectorstore.CheckQuery(s.dimension, vector, k); err != nil {
		return nil, err
	}
	if k == 0 || len(s.entries) == 0 {
		return []domain.Hit{}, nil
	}
	candidates := make([]vectorstore.Scored, len(s.entries))
	for i, e := range s.entries {
		candidates[i] = vectorstore.Scored{
			Hit: domain.Hit{ChunkID: e.ChunkID, Score: embedding.Dot(e.Vector, vector), Chunk: e.Chunk},
			Seq: int64(i),
		}
	}
	return vectorstore.Rank(candidates, k, minScore), nil
}

func (s *Index) Get(_ context.Context, chunkID string) (domain.IndexEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[chunkID]
	if !ok {
		return domain.IndexEntry{}, false, nil
	}
	e := s.entries[i]
	e.Vector = append([]float32(nil), e.Vector...)
	return e, true, nil
}

// Entries returns a snapshot of the stored chunks in insertion order.
func (s *Index) Entries() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Chunk, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Chunk
	}
	return out
}

func (s *Index) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Index) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

// Clear empties the index and forgets its dimension.
func (s *Index) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byID = make(map[string]int)
	s.dimension = 0
	return nil
}

var _ domain.VectorIndex = (*Index)(nil)
