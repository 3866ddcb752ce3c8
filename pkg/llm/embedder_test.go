package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingClient struct {
	dim   int
	err   error
	calls [][]string
}

func (c *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	if c.err != nil {
		return nil, c.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, c.dim)
		vectors[i][0] = float32(i + 1)
	}
	return vectors, nil
}

func TestEmbedDocumentsReturnsOneVectorPerText(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	embedder := newEmbedder(EmbedderConfig{Dimension: 4, Timeout: time.Second}, client)

	vectors, err := embedder.EmbedDocuments(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)
	assert.Equal(t, float32(2), vectors[1][0])
}

func TestEmbedDocumentsChecksDimension(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 3}
	embedder := newEmbedder(EmbedderConfig{Dimension: 768, Timeout: time.Second}, client)

	_, err := embedder.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedDocumentsWrapsBackendFailure(t *testing.T) {
	client := &fakeEmbeddingClient{err: errors.New("connection refused")}
	embedder := newEmbedder(EmbedderConfig{Dimension: 4, Timeout: time.Second}, client)

	_, err := embedder.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	embedder := newEmbedder(EmbedderConfig{Dimension: 4, Timeout: time.Second}, client)

	vectors, err := embedder.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, client.calls)
}

func TestEmbedQueryReturnsSingleVector(t *testing.T) {
	client := &fakeEmbeddingClient{dim: 4}
	embedder := newEmbedder(EmbedderConfig{Dimension: 4, Timeout: time.Second}, client)

	vector, err := embedder.EmbedQuery(context.Background(), "a query")
	require.NoError(t, err)
	assert.Len(t, vector, 4)
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	embedder := newEmbedder(EmbedderConfig{
		BaseURL:   server.URL,
		Dimension: 4,
		Timeout:   time.Second,
	}, &fakeEmbeddingClient{dim: 4})

	assert.NoError(t, embedder.Ping(context.Background()))
}

func TestPingUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	server.Close()

	embedder := newEmbedder(EmbedderConfig{
		BaseURL:   server.URL,
		Dimension: 4,
		Timeout:   time.Second,
	}, &fakeEmbeddingClient{dim: 4})

	err := embedder.Ping(context.Background())
	assert.ErrorIs(t, err, ErrModelUnavailable)
}
