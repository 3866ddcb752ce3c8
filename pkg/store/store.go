// Package store defines the vector store contract shared by the memory,
// pgvector and chromem backends.
package store

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors shared by all backends.
var (
	// ErrIndexUnavailable is returned when the backing schema or index has
	// not been initialized. Retrying does not help; the store needs to be
	// set up first.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrDimensionMismatch is returned when an embedding does not match
	// the dimension the store was configured with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultTopK is used when a search request leaves TopK unset.
const DefaultTopK = 4

// Record is one stored segment. Records are immutable once written; Clear
// is the only way to remove them.
type Record struct {
	ID        string
	Content   string
	Metadata  map[string]interface{}
	Embedding []float32
}

// SearchRequest carries a query embedding plus the optional constraints.
type SearchRequest struct {
	Embedding []float32
	TopK      int
	// Threshold is the minimum similarity a result must reach. Zero
	// accepts everything.
	Threshold float64
	// Filter is a metadata predicate expression, e.g.
	// "location == 'North Pole' && year >= 1995". Empty matches all.
	Filter string
}

// SearchResult is a matched record with its similarity score. Results are
// computed per query and never stored.
type SearchResult struct {
	Record
	Score float64
}

// VectorStore is implemented by the memory, pgvector and chromem backends.
//
// Search returns at most TopK results ordered by non-increasing score.
// Records that score equally are returned in insertion order. Searching an
// empty store yields an empty slice, not an error.
type VectorStore interface {
	Add(ctx context.Context, records []Record) error
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// CheckDimension verifies every record embedding against the configured
// dimension before it reaches a backend.
func CheckDimension(records []Record, dim int) error {
	for _, rec := range records {
		if len(rec.Embedding) != dim {
			return fmt.Errorf("record %s has dimension %d, store expects %d: %w",
				rec.ID, len(rec.Embedding), dim, ErrDimensionMismatch)
		}
	}
	return nil
}
