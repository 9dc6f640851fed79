// Package vectorstore holds the ranking and validation rules shared by the
// vector index implementations.
package vectorstore

import (
	"sort"

	"docqa/internal/domain"
)

// Scored is a hit with the insertion sequence used to break score ties.
type Scored struct {
	Hit domain.Hit
	Seq int64
}

// Rank orders candidates by descending score, then ascending insertion
// sequence, drops scores below minScore and keeps at most k.
// A nil minScore keeps every candidate.
func Rank(candidates []Scored, k int, minScore *float64) []domain.Hit {
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if minScore != nil && c.Hit.Score < *minScore {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Hit.Score != filtered[j].Hit.Score {
			return filtered[i].Hit.Score > filtered[j].Hit.Score
		}
		return filtered[i].Seq < filtered[j].Seq
	})
	if k < len(filtered) {
		filtered = filtered[:k]
	}
	hits := make([]domain.Hit, len(filtered))
	for i, c := range filtered {
		hits[i] = c.Hit
	}
	return hits
}

// CheckBatch validates a batch of entries against the index dimension.
// dimension is zero for an empty index, in which case the first entry sets it.
// It returns the dimension the index has after a successful add.
func CheckBatch(dimension int, entries []domain.IndexEntry) (int, error) {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.ChunkID == "" {
			return dimension, domain.InvalidInputf("index entry without chunk id")
		}
		if _, dup := seen[e.ChunkID]; dup {
			return dimension, domain.InvalidInputf("duplicate chunk id %q in batch", e.ChunkID)
		}
		seen[e.ChunkID] = struct{}{}
		if len(e.Vector) == 0 {
			return dimension, domain.InvalidInputf("empty vector for chunk %q", e.ChunkID)
		}
		if dimension == 0 {
			dimension = len(e.Vector)
		}
		if len(e.Vector) != dimension {
			return dimension, &domain.DimensionError{Expected: dimension, Got: len(e.Vector)}
		}
	}
	return dimension, nil
}

// CheckQuery validates a search vector against the index dimension.
func CheckQuery(dimension int, vector []float32, k int) error {
	if k < 0 {
		return domain.InvalidInputf("k must not be negative, got %d", k)
	}
	if dimension != 0 && len(vector) != dimension {
		return &domain.DimensionError{Expected: dimension, Got: len(vector)}
	}
	return nil
}
