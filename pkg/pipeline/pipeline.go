// Package pipeline runs ingestion: load a source into documents, split
// them into chunks, embed every chunk and store the records. A failure
// at any stage aborts the whole run; there is no partial success.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/lore/internal/models"
	"github.com/xhad/lore/pkg/store"
)

type Loader interface {
	LoadWithMetadata(ctx context.Context, source string, extra map[string]interface{}) ([]models.Document, error)
}

type Chunker interface {
	Split(docs []models.Document) ([]models.Chunk, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	// BatchSize is how many chunks are embedded and stored per batch.
	BatchSize int
	// Concurrency caps parallel embedding calls within a run.
	Concurrency int
}

// Progress is called after each stored batch with the running total.
type Progress func(stored, total int)

type Pipeline struct {
	config   Config
	loader   Loader
	chunker  Chunker
	embedder Embedder
	docs     store.VectorStore
	logger   *zap.Logger
	progress Progress
}

func New(loader Loader, chunker Chunker, embedder Embedder, docs store.VectorStore, config Config, logger *zap.Logger) (*Pipeline, error) {
	if loader == nil || chunker == nil || embedder == nil || docs == nil {
		return nil, errors.New("pipeline requires a loader, a chunker, an embedder and a store")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:   config,
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		docs:     docs,
		logger:   logger,
	}, nil
}

// OnProgress registers a callback for stored-batch updates, e.g. a CLI
// progress bar.
func (p *Pipeline) OnProgress(fn Progress) {
	p.progress = fn
}

// Result reports what one ingestion run produced. Stored always equals
// Chunks on success.
type Result struct {
	Documents int
	Chunks    int
	Stored    int
}

// Ingest loads one source and runs it through the pipeline. Repeating a
// source appends fresh records; deduplication is intentionally out of
// scope.
func (p *Pipeline) Ingest(ctx context.Context, source string, extra map[string]interface{}) (*Result, error) {
	docs, err := p.loader.LoadWithMetadata(ctx, source, extra)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	p.logger.Info("loaded source", zap.String("source", source), zap.Int("documents", len(docs)))
	return p.IngestDocuments(ctx, docs)
}

// IngestDocuments runs already-loaded documents through split, embed
// and store.
func (p *Pipeline) IngestDocuments(ctx context.Context, docs []models.Document) (*Result, error) {
	chunks, err := p.chunker.Split(docs)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	result := &Result{Documents: len(docs), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return result, nil
	}

	for start := 0; start < len(chunks); start += p.config.BatchSize {
		end := min(start+p.config.BatchSize, len(chunks))
		batch := chunks[start:end]

		records, err := p.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}

		if err := p.docs.Add(ctx, records); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}

		result.Stored += len(records)
		if p.progress != nil {
			p.progress(result.Stored, len(chunks))
		}
	}

	p.logger.Info("ingestion complete",
		zap.Int("documents", result.Documents),
		zap.Int("chunks", result.Chunks),
		zap.Int("stored", result.Stored))
	return result, nil
}

// embedBatch embeds the batch in concurrent slices and assembles the
// records in chunk order, so store writes keep insertion order stable.
func (p *Pipeline) embedBatch(ctx context.Context, chunks []models.Chunk) ([]store.Record, error) {
	records := make([]store.Record, len(chunks))

	sliceSize := (len(chunks) + p.config.Concurrency - 1) / p.config.Concurrency

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(chunks); start += sliceSize {
		end := min(start+sliceSize, len(chunks))
		start, end := start, end

		g.Go(func() error {
			texts := make([]string, end-start)
			for i, chunk := range chunks[start:end] {
				texts[i] = chunk.Content
			}
			vectors, err := p.embedder.EmbedDocuments(ctx, texts)
			if err != nil {
				return err
			}
			for i, chunk := range chunks[start:end] {
				records[start+i] = store.Record{
					ID:        chunk.ID,
					Content:   chunk.Content,
					Metadata:  chunk.Metadata,
					Embedding: vectors[i],
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
