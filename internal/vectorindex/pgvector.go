package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PGVectorIndex is an Index backed by a PostgreSQL table with the pgvector
// extension. Restricts are stored as a JSONB object mapping each namespace
// to its tokens.
type PGVectorIndex struct {
	pool      *pgxpool.Pool
	table     string
	dimension int
}

// PGVectorConfig holds pgvector index configuration.
type PGVectorConfig struct {
	DSN       string
	Table     string
	Dimension int
}

// NewPGVectorIndex connects to PostgreSQL, registers the vector types on every
// connection and creates the table if needed.
func NewPGVectorIndex(ctx context.Context, cfg PGVectorConfig) (*PGVectorIndex, error) {
	if cfg.Table == "" {
		cfg.Table = "product_vectors"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("pgvector index: dimension must be positive")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector index: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector index: ping: %w", err)
	}

	idx := &PGVectorIndex{
		pool:      pool,
		table:     pgx.Identifier{cfg.Table}.Sanitize(),
		dimension: cfg.Dimension,
	}
	if err := idx.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Migrate creates the vector extension, table and indexes. It is idempotent.
func (p *PGVectorIndex) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    embedding   vector(%[2]d) NOT NULL,
    restricts   JSONB        NOT NULL DEFAULT '{}',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[3]s
    ON %[1]s USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS %[4]s
    ON %[1]s USING GIN (restricts);
`, p.table, p.dimension, indexName(p.table, "embedding"), indexName(p.table, "restricts"))

	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("pgvector index: migrate: %w", err)
	}
	return nil
}

// Upsert implements Index.
func (p *PGVectorIndex) Upsert(ctx context.Context, dp Datapoint) error {
	if len(dp.Vector) != p.dimension {
		return fmt.Errorf("%w: expected %d, got %d for id %s", ErrDimensionMismatch, p.dimension, len(dp.Vector), dp.ID)
	}

	restricts, err := json.Marshal(restrictMap(dp.Restricts))
	if err != nil {
		return fmt.Errorf("pgvector index: marshal restricts: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, restricts, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    restricts  = EXCLUDED.restricts,
		    updated_at = EXCLUDED.updated_at`, p.table)

	if _, err := p.pool.Exec(ctx, q, dp.ID, pgvector.NewVector(dp.Vector), string(restricts)); err != nil {
		return fmt.Errorf("pgvector index: upsert %s: %w", dp.ID, err)
	}
	return nil
}

// Remove implements Index.
func (p *PGVectorIndex) Remove(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, p.table)
	if _, err := p.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("pgvector index: remove %s: %w", id, err)
	}
	return nil
}

// Query implements Index. All vectors are sent in a single batch.
func (p *PGVectorIndex) Query(ctx context.Context, vectors [][]float32, k int, restricts []Restrict) ([][]Neighbor, error) {
	if len(vectors) == 0 {
		return [][]Neighbor{}, nil
	}

	batch := &pgx.Batch{}
	for i, v := range vectors {
		if len(v) != p.dimension {
			return nil, fmt.Errorf("%w: query %d has %d dimensions, index has %d", ErrDimensionMismatch, i, len(v), p.dimension)
		}
		q, args := p.searchQuery(v, k, restricts)
		batch.Queue(q, args...)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	out := make([][]Neighbor, len(vectors))
	for i := range vectors {
		rows, err := br.Query()
		if err != nil {
			return nil, fmt.Errorf("pgvector index: query: %w", err)
		}
		neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
			var n Neighbor
			err := row.Scan(&n.ID, &n.Distance)
			return n, err
		})
		if err != nil {
			return nil, fmt.Errorf("pgvector index: scan rows: %w", err)
		}
		if neighbors == nil {
			neighbors = []Neighbor{}
		}
		out[i] = neighbors
	}
	return out, nil
}

func (p *PGVectorIndex) searchQuery(vector []float32, k int, restricts []Restrict) (string, []any) {
	args := []any{pgvector.NewVector(vector)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	for _, r := range restricts {
		conditions = append(conditions, fmt.Sprintf("(restricts -> %s::text) ?| %s::text[]", next(r.Namespace), next(r.AllowList)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT id, embedding <=> $1 AS distance
		FROM   %s
		%s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, p.table, whereClause, next(k))
	return q, args
}

// Close releases the connection pool.
func (p *PGVectorIndex) Close() error {
	p.pool.Close()
	return nil
}

func restrictMap(restricts []Restrict) map[string][]string {
	m := make(map[string][]string, len(restricts))
	for _, r := range restricts {
		m[r.Namespace] = append(m[r.Namespace], r.AllowList...)
	}
	return m
}

func indexName(table, column string) string {
	base := strings.Trim(table, `"`)
	return pgx.Identifier{"idx_" + base + "_" + column}.Sanitize()
}

var _ Index = (*PGVectorIndex)(nil)
