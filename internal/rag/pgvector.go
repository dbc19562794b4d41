package rag

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var tableNameRE = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PgvectorConfig configures a Postgres-backed index.
type PgvectorConfig struct {
	// DSN is a libpq-style or URL connection string.
	DSN string
	// Table holds every namespace (default: yac_passages).
	Table string
	// Dimensions is the embedding size fixed into the column type.
	Dimensions int
}

// PgvectorIndex implements VectorIndex on a Postgres table with the vector
// extension. Cosine distance is used; scores are 1 - distance.
type PgvectorIndex struct {
	pool  *pgxpool.Pool
	table string
	dim   int
}

// NewPgvectorIndex prepares the extension and table, then opens a pool with
// the vector type registered on every connection.
func NewPgvectorIndex(ctx context.Context, cfg PgvectorConfig) (*PgvectorIndex, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector: dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "yac_passages"
	}
	if !tableNameRE.MatchString(cfg.Table) {
		return nil, fmt.Errorf("pgvector: invalid table name %q", cfg.Table)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be > 0")
	}

	table := pgx.Identifier{cfg.Table}.Sanitize()
	if err := ensureSchema(ctx, cfg.DSN, table, cfg.Dimensions); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}

	return &PgvectorIndex{pool: pool, table: table, dim: cfg.Dimensions}, nil
}

// ensureSchema runs on a one-off connection because type registration on the
// pool requires the extension to exist first.
func ensureSchema(ctx context.Context, dsn, table string, dim int) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgvector: connect: %w", err)
	}
	defer conn.Close(ctx)

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    namespace TEXT NOT NULL,
    id        TEXT NOT NULL,
    source    TEXT NOT NULL,
    text      TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    PRIMARY KEY (namespace, id)
)`, table, dim),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: migrate: %w", err)
		}
	}
	return nil
}

// Pool exposes the connection pool for readiness probes.
func (p *PgvectorIndex) Pool() *pgxpool.Pool { return p.pool }

// Upsert writes records in one transaction.
func (p *PgvectorIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	q := fmt.Sprintf(`
INSERT INTO %s (namespace, id, source, text, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (namespace, id) DO UPDATE
SET source = EXCLUDED.source, text = EXCLUDED.text, embedding = EXCLUDED.embedding`, p.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		if len(r.Vector) != p.dim {
			return fmt.Errorf("pgvector: upsert %s: dimension %d, want %d", r.ID, len(r.Vector), p.dim)
		}
		batch.Queue(q, namespace, r.ID, r.Source, r.Text, pgvector.NewVector(r.Vector))
	}

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("pgvector: upsert into %s failed: %w", namespace, err)
	}
	return nil
}

// DescribeNamespace counts rows in namespace.
func (p *PgvectorIndex) DescribeNamespace(ctx context.Context, namespace string) (NamespaceStats, error) {
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE namespace = $1`, p.table)
	if err := p.pool.QueryRow(ctx, q, namespace).Scan(&n); err != nil {
		return NamespaceStats{}, fmt.Errorf("pgvector: count %s failed: %w", namespace, err)
	}
	return NamespaceStats{VectorCount: uint64(n)}, nil
}

// Query returns the k nearest rows in namespace by cosine distance.
func (p *PgvectorIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]Passage, error) {
	if k <= 0 {
		return []Passage{}, nil
	}
	if len(vector) != p.dim {
		return nil, fmt.Errorf("pgvector: query dimension %d, want %d", len(vector), p.dim)
	}
	q := fmt.Sprintf(`
SELECT id, source, text, 1 - (embedding <=> $1) AS score
FROM %s
WHERE namespace = $2
ORDER BY embedding <=> $1, id
LIMIT $3`, p.table)

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(vector), namespace, k)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search %s failed: %w", namespace, err)
	}
	defer rows.Close()

	passages := []Passage{}
	for rows.Next() {
		var ps Passage
		var score float64
		if err := rows.Scan(&ps.ID, &ps.Source, &ps.Text, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		ps.Score = float32(score)
		passages = append(passages, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: rows: %w", err)
	}
	return passages, nil
}

// Close closes the pool.
func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}
