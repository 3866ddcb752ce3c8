// Package chromem backs the vector store contract with the embedded
// chromem-go database. It suits single-node deployments that want
// persistence without running PostgreSQL.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/xhad/lore/pkg/store"
	"github.com/xhad/lore/pkg/store/filter"
)

// chromem metadata values are strings, so the typed record metadata is
// carried as JSON under metaKey and the insertion sequence under seqKey.
const (
	metaKey = "_meta"
	seqKey  = "_seq"
)

type Config struct {
	Path       string
	Collection string
	VectorDim  int
	Compress   bool
	Logger     *zap.Logger
}

type Store struct {
	config Config
	db     *chromemgo.DB
	logger *zap.Logger

	mu         sync.Mutex
	collection *chromemgo.Collection
	seq        int64
}

func NewWithConfig(config Config) (*Store, error) {
	if config.Collection == "" {
		config.Collection = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Path == "" {
		return nil, errors.New("chromem store requires a path")
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := chromemgo.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open chromem database: %w", err)
	}

	s := &Store{
		config: config,
		db:     db,
		logger: config.Logger,
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	s.collection = collection
	s.seq = int64(collection.Count())

	s.logger.Info("chromem store ready",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("count", collection.Count()))
	return s, nil
}

// rejectEmbedding guards against text-based chromem operations; every
// embedding is computed upstream and passed in explicitly.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings must be provided by the caller")
}

func (s *Store) Add(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := store.CheckDimension(records, s.config.VectorDim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]chromemgo.Document, 0, len(records))
	for _, rec := range records {
		encoded, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID, err)
		}
		s.seq++
		docs = append(docs, chromemgo.Document{
			ID:      rec.ID,
			Content: rec.Content,
			Metadata: map[string]string{
				metaKey: string(encoded),
				seqKey:  strconv.FormatInt(s.seq, 10),
			},
			Embedding: rec.Embedding,
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	s.logger.Debug("stored records", zap.Int("count", len(records)))
	return nil
}

func (s *Store) Search(ctx context.Context, req store.SearchRequest) ([]store.SearchResult, error) {
	if len(req.Embedding) != s.config.VectorDim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d: %w",
			len(req.Embedding), s.config.VectorDim, store.ErrDimensionMismatch)
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

	s.mu.Lock()
	collection := s.collection
	s.mu.Unlock()

	// chromem rejects nResults above the document count, and the filter
	// has to run over the full candidate set anyway.
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}

	matches, err := collection.QueryEmbedding(ctx, req.Embedding, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	type scored struct {
		result store.SearchResult
		seq    int64
	}
	candidates := make([]scored, 0, len(matches))
	for _, match := range matches {
		meta, seq, err := decodeMetadata(match.Metadata)
		if err != nil {
			return nil, err
		}
		if pred != nil && !pred.Eval(meta) {
			continue
		}
		score := float64(match.Similarity)
		if req.Threshold != 0 && score < req.Threshold {
			continue
		}
		candidates = append(candidates, scored{
			result: store.SearchResult{
				Record: store.Record{
					ID:        match.ID,
					Content:   match.Content,
					Metadata:  meta,
					Embedding: match.Embedding,
				},
				Score: score,
			},
			seq: seq,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].result.Score != candidates[j].result.Score {
			return candidates[i].result.Score > candidates[j].result.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]store.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count(), nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.config.Collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	collection, err := s.db.GetOrCreateCollection(s.config.Collection, nil, rejectEmbedding)
	if err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}
	s.collection = collection
	s.seq = 0
	return nil
}

func (s *Store) Close() error {
	return nil
}

func decodeMetadata(raw map[string]string) (map[string]interface{}, int64, error) {
	var meta map[string]interface{}
	if encoded, ok := raw[metaKey]; ok && encoded != "null" {
		if err := json.Unmarshal([]byte(encoded), &meta); err != nil {
			return nil, 0, fmt.Errorf("failed to decode record metadata: %w", err)
		}
	}
	var seq int64
	if v, ok := raw[seqKey]; ok {
		seq, _ = strconv.ParseInt(v, 10, 64)
	}
	return meta, seq, nil
}
