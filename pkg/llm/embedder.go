package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

type EmbedderConfig struct {
	BaseURL string
	Model   string
	// Dimension is enforced on every returned vector; the stores reject
	// anything else anyway, this just fails earlier with a clearer error.
	Dimension int
	Timeout   time.Duration
	// RateLimit caps embedding requests per second. Zero disables
	// client-side limiting.
	RateLimit float64
}

// embeddingClient is the slice of the Ollama client the embedder needs.
// Tests substitute a deterministic implementation.
type embeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder turns text into fixed-dimension vectors via an Ollama
// embedding model.
type Embedder struct {
	config  EmbedderConfig
	client  embeddingClient
	http    *http.Client
	limiter *rate.Limiter
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	client, err := ollama.New(
		ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	return newEmbedder(config, client), nil
}

func newEmbedder(config EmbedderConfig, client embeddingClient) *Embedder {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &Embedder{
		config:  config,
		client:  client,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: limiter,
	}
}

// Dimension returns the vector size every embedding must have.
func (e *Embedder) Dimension() int {
	return e.config.Dimension
}

// EmbedDocuments embeds a batch of texts, one vector per text in input
// order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	vectors, err := e.client.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, wrapModelErr(err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrModelUnavailable, len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != e.config.Dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d: %w",
				i, len(vec), e.config.Dimension, ErrDimensionMismatch)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Ping checks backend reachability against /api/tags without running
// inference.
func (e *Embedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: building ping request: %v", ErrModelUnavailable, err)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrModelUnavailable, resp.StatusCode, body)
	}
	return nil
}

func (e *Embedder) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return wrapModelErr(err)
	}
	return nil
}
