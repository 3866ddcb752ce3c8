// Package app assembles the configured components shared by the lore
// CLI and the lored server.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/lore/pkg/books"
	"github.com/xhad/lore/pkg/config"
	"github.com/xhad/lore/pkg/extract"
	"github.com/xhad/lore/pkg/llm"
	"github.com/xhad/lore/pkg/loader"
	"github.com/xhad/lore/pkg/pipeline"
	"github.com/xhad/lore/pkg/rag"
	"github.com/xhad/lore/pkg/splitter"
	"github.com/xhad/lore/pkg/store"
	"github.com/xhad/lore/pkg/store/chromem"
	"github.com/xhad/lore/pkg/store/memory"
	"github.com/xhad/lore/pkg/store/pgvector"
)

// ExtractionSchema is the demo record served by /extract.
var ExtractionSchema = extract.Schema{
	Name: "ArtistInfo",
	Fields: []extract.Field{
		{Name: "name", Type: extract.TypeString, Required: true, Description: "Full name of the musician"},
		{Name: "band", Type: extract.TypeString, Required: true, Description: "Band the musician plays in"},
		{Name: "instrument", Type: extract.TypeString, Description: "Main instrument"},
	},
}

// App holds the wired component graph for one process.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Loader    *loader.Loader
	Splitter  splitter.Splitter
	Embedder  *llm.Embedder
	Engine    *llm.ChatEngine
	Docs      store.VectorStore
	Pipeline  *pipeline.Pipeline
	RAG       *rag.Service
	Extractor *extract.Extractor
	Catalog   *books.Catalog
	Tools     *llm.ToolBelt
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", errs[0].Error())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	docs, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout(),
		RateLimit: cfg.Embedding.RateLimit,
	})
	if err != nil {
		docs.Close()
		return nil, err
	}

	engine, err := llm.NewWithConfig(llm.ChatConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	})
	if err != nil {
		docs.Close()
		return nil, err
	}

	docLoader := loader.NewWithConfig(loader.Config{
		Timeout:       cfg.Loader.Timeout(),
		UserAgent:     cfg.Loader.UserAgent,
		PDFTrimTop:    cfg.Loader.PDFTrimTop,
		PDFTrimBottom: cfg.Loader.PDFTrimBottom,
	})

	chunker := splitter.NewWithConfig(splitter.Config{
		ChunkSize:    cfg.Splitter.ChunkSize,
		ChunkOverlap: cfg.Splitter.ChunkOverlap,
	})

	ingest, err := pipeline.New(docLoader, &chunker, embedder, docs, pipeline.Config{
		BatchSize: cfg.Store.BatchSize,
	}, logger)
	if err != nil {
		docs.Close()
		return nil, err
	}

	answerer, err := rag.New(embedder, engine, docs, rag.Config{
		TopK:          cfg.Retrieval.TopK,
		Threshold:     cfg.Retrieval.Threshold,
		MemoryWindow:  cfg.Retrieval.MemoryWindow,
		BannedPhrases: cfg.LLM.BannedPhrases,
	}, logger)
	if err != nil {
		docs.Close()
		return nil, err
	}

	extractor, err := extract.New(engine, ExtractionSchema)
	if err != nil {
		docs.Close()
		return nil, err
	}

	catalog := books.DefaultCatalog()
	tools, err := llm.NewToolBelt(catalog.Tool())
	if err != nil {
		docs.Close()
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Loader:    docLoader,
		Splitter:  chunker,
		Embedder:  embedder,
		Engine:    engine,
		Docs:      docs,
		Pipeline:  ingest,
		RAG:       answerer,
		Extractor: extractor,
		Catalog:   catalog,
		Tools:     tools,
	}, nil
}

func (a *App) Close() {
	if err := a.Docs.Close(); err != nil {
		a.Logger.Warn("failed to close store", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.VectorStore, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(cfg.Embedding.Dimension), nil
	case "pgvector":
		return pgvector.NewWithConfig(ctx, pgvector.Config{
			ConnString: cfg.Store.URL,
			TableName:  cfg.Store.TableName,
			VectorDim:  cfg.Embedding.Dimension,
			Logger:     logger,
		})
	case "chromem":
		return chromem.NewWithConfig(chromem.Config{
			Path:      cfg.Store.Path,
			VectorDim: cfg.Embedding.Dimension,
			Logger:    logger,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
