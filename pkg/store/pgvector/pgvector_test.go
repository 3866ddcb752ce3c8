package pgvector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/lore/pkg/store"
)

func TestMapPgError(t *testing.T) {
	undefined := &pgconn.PgError{Code: pgUndefinedTable, Message: "relation does not exist"}
	err := mapPgError(undefined, "failed to query records")
	assert.ErrorIs(t, err, store.ErrIndexUnavailable)

	plain := errors.New("connection reset")
	err = mapPgError(plain, "failed to query records")
	assert.NotErrorIs(t, err, store.ErrIndexUnavailable)
	assert.ErrorIs(t, err, plain)

	wrapped := fmt.Errorf("exec: %w", undefined)
	assert.ErrorIs(t, mapPgError(wrapped, "x"), store.ErrIndexUnavailable)
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "plain text", sanitizeUTF8("plain text"))
	assert.Equal(t, "héllo", sanitizeUTF8("héllo"))

	broken := "abc" + string([]byte{0xff, 0xfe}) + "def"
	assert.Equal(t, "abcdef", sanitizeUTF8(broken))
}

// Integration coverage below needs a running postgres with the pgvector
// extension, e.g. the pgvector/pgvector:pg17 image.
func testStore(t *testing.T) *Store {
	t.Helper()
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	s, err := NewWithConfig(context.Background(), Config{
		ConnString: connString,
		TableName:  "test_lore_records",
		VectorDim:  3,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Clear(context.Background())
		s.Close()
	})
	require.NoError(t, s.Clear(context.Background()))
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	records := []store.Record{
		{
			ID:        "pole-1",
			Content:   "Iorek dreams of the north",
			Metadata:  map[string]interface{}{"location": "North Pole", "year": 1995},
			Embedding: []float32{1, 0, 0},
		},
		{
			ID:        "italy-1",
			Content:   "A story set in Italy",
			Metadata:  map[string]interface{}{"location": "Italy"},
			Embedding: []float32{1, 0, 0},
		},
		{
			ID:        "untagged-1",
			Content:   "No location at all",
			Metadata:  nil,
			Embedding: []float32{0, 1, 0},
		},
	}
	require.NoError(t, s.Add(ctx, records))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	results, err := s.Search(ctx, store.SearchRequest{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Equal scores keep insertion order.
	assert.Equal(t, "pole-1", results[0].ID)
	assert.Equal(t, "italy-1", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)

	results, err = s.Search(ctx, store.SearchRequest{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		Filter:    `location == 'North Pole'`,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pole-1", results[0].ID)

	results, err = s.Search(ctx, store.SearchRequest{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		Filter:    `location != 'Italy'`,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pole-1", results[0].ID)

	results, err = s.Search(ctx, store.SearchRequest{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		Threshold: 0.5,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, s.Clear(ctx))
	results, err = s.Search(ctx, store.SearchRequest{Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStoreDimensionMismatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []store.Record{{ID: "bad", Content: "x", Embedding: []float32{1, 0}}})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	_, err = s.Search(ctx, store.SearchRequest{Embedding: []float32{1, 0}})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestStoreMissingTable(t *testing.T) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	s, err := NewWithConfig(context.Background(), Config{
		ConnString: connString,
		TableName:  "test_lore_never_created",
		VectorDim:  3,
		SkipInit:   true,
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Search(context.Background(), store.SearchRequest{Embedding: []float32{1, 0, 0}})
	assert.ErrorIs(t, err, store.ErrIndexUnavailable)
}
