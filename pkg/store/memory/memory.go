// Package memory is the in-process vector store backend. It keeps every
// record in insertion order and scores queries by brute-force cosine
// similarity, which is plenty for tests and small corpora.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xhad/lore/pkg/store"
	"github.com/xhad/lore/pkg/store/filter"
)

type Store struct {
	mu      sync.RWMutex
	dim     int
	records []store.Record
}

// New returns a store accepting embeddings of the given dimension.
func New(dim int) *Store {
	return &Store{dim: dim}
}

func (s *Store) ready() error {
	if s.dim <= 0 {
		return fmt.Errorf("store not initialized: %w", store.ErrIndexUnavailable)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, records []store.Record) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := store.CheckDimension(records, s.dim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *Store) Search(ctx context.Context, req store.SearchRequest) ([]store.SearchResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(req.Embedding) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d: %w",
			len(req.Embedding), s.dim, store.ErrDimensionMismatch)
	}

	var pred filter.Expr
	if req.Filter != "" {
		var err error
		pred, err = filter.Parse(req.Filter)
		if err != nil {
			return nil, err
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = store.DefaultTopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]store.SearchResult, 0, len(s.records))
	for _, rec := range s.records {
		if pred != nil && !pred.Eval(rec.Metadata) {
			continue
		}
		score := cosine(req.Embedding, rec.Embedding)
		if req.Threshold != 0 && score < req.Threshold {
			continue
		}
		results = append(results, store.SearchResult{Record: rec, Score: score})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return nil
}

func (s *Store) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
