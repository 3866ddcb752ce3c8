// Package pgvector backs the vector store contract with PostgreSQL and
// the pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/lore/pkg/store"
	"github.com/xhad/lore/pkg/store/filter"
)

// undefined_table: the schema is gone or was never initialized.
const pgUndefinedTable = "42P01"

type Config struct {
	ConnString string
	TableName  string
	VectorDim  int
	// SkipInit leaves schema creation to the operator. Queries against a
	// missing table then surface store.ErrIndexUnavailable.
	SkipInit bool
	Logger   *zap.Logger
}

type Store struct {
	config Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWithConfig(ctx context.Context, config Config) (*Store, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{
		config: config,
		pool:   pool,
		logger: config.Logger,
	}

	if !config.SkipInit {
		if err := s.initialize(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// seq records insertion order; equal-scoring results are returned
	// oldest first.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			seq BIGSERIAL
		)`, s.config.TableName, s.config.VectorDim)

	_, err = s.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		s.config.TableName, s.config.TableName)

	_, err = s.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	s.logger.Info("pgvector schema ready",
		zap.String("table", s.config.TableName),
		zap.Int("dimension", s.config.VectorDim))
	return nil
}

func (s *Store) Add(ctx context.Context, records []store.Record) error {
	if err := store.CheckDimension(records, s.config.VectorDim); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Records are immutable: on an ID collision the first write wins.
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		s.config.TableName)

	for _, rec := range records {
		_, err := tx.Exec(ctx, stmt,
			rec.ID,
			sanitizeUTF8(rec.Content),
			rec.Metadata,
			pgv.NewVector(rec.Embedding),
		)
		if err != nil {
			return mapPgError(err, "failed to insert record")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("stored records", zap.Int("count", len(records)))
	return nil
}

func (s *Store) Search(ctx context.Context, req store.SearchRequest) ([]store.SearchResult, error) {
	if len(req.Embedding) != s.config.VectorDim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d: %w",
			len(req.Embedding), s.config.VectorDim, store.ErrDimensionMismatch)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = store.DefaultTopK
	}

	args := []interface{}{pgv.NewVector(req.Embedding)}
	next := 2
	var conds []string

	if req.Filter != "" {
		expr, err := filter.Parse(req.Filter)
		if err != nil {
			return nil, err
		}
		cond, filterArgs, err := filter.CompileSQL(expr, "metadata", next)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		args = append(args, filterArgs...)
		next += len(filterArgs)
	}

	if req.Threshold != 0 {
		conds = append(conds, fmt.Sprintf("1 - (embedding <=> $1) >= $%d", next))
		args = append(args, req.Threshold)
		next++
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1, seq
		LIMIT $%d`,
		s.config.TableName, where, next)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err, "failed to query records")
	}
	defer rows.Close()

	var results []store.SearchResult
	for rows.Next() {
		var (
			res store.SearchResult
			emb pgv.Vector
		)
		err := rows.Scan(&res.ID, &res.Content, &res.Metadata, &emb, &res.Score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		res.Embedding = emb.Slice()
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError(err, "failed to read rows")
	}

	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.config.TableName)
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, mapPgError(err, "failed to count records")
	}
	return count, nil
}

func (s *Store) Clear(ctx context.Context) error {
	query := fmt.Sprintf("TRUNCATE TABLE %s", s.config.TableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return mapPgError(err, "failed to clear records")
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func mapPgError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable {
		return fmt.Errorf("%s: %w", msg, store.ErrIndexUnavailable)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
