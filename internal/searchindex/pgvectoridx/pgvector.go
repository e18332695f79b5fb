// Package pgvectoridx is the Tier-2 driver that keeps vectors in Postgres
// through the pgvector extension. One table holds every type; the type
// column partitions it into per-type collections.
package pgvectoridx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
)

const table = "memory_vectors"

// Index is a searchindex.Index over a pgvector table.
type Index struct {
	pool *pgxpool.Pool
	dims int
}

// New connects to dsn and bootstraps the table for vectors of dims.
func New(ctx context.Context, dsn string, dims int) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive, got %d", dims)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	x := &Index{pool: pool, dims: dims}
	if err := x.bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return x, nil
}

func (x *Index) bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    type       TEXT        NOT NULL,
    id         TEXT        NOT NULL,
    namespace  TEXT        NOT NULL,
    owner_id   TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    deleted    BOOLEAN     NOT NULL DEFAULT FALSE,
    embedding  vector(%d),
    PRIMARY KEY (type, id)
)`, table, x.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_ns_idx ON %s (namespace, type, created_at)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, table, table),
	}
	for _, s := range stmts {
		if _, err := x.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("pgvector bootstrap: %w", err)
		}
	}
	return nil
}

func (x *Index) Upsert(ctx context.Context, rec *model.Record) (bool, error) {
	if !rec.Indexable() {
		return false, fmt.Errorf("record %s is not indexable", rec.ID)
	}
	if len(rec.Embedding) != x.dims {
		return false, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(rec.Embedding), x.dims)
	}
	tag, err := x.pool.Exec(ctx, `
INSERT INTO `+table+` (type, id, namespace, owner_id, created_at, updated_at, deleted, embedding)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
ON CONFLICT (type, id) DO UPDATE
SET namespace = EXCLUDED.namespace,
    owner_id = EXCLUDED.owner_id,
    updated_at = EXCLUDED.updated_at,
    deleted = FALSE,
    embedding = EXCLUDED.embedding
WHERE `+table+`.updated_at < EXCLUDED.updated_at`,
		string(rec.Type), rec.ID, rec.Namespace, rec.OwnerID, rec.CreatedAt, rec.UpdatedAt, pgvector.NewVector(rec.Embedding))
	if err != nil {
		return false, fmt.Errorf("pgvector upsert %s: %w", rec.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete keeps the row as a tombstone so older replays stay discarded.
func (x *Index) Delete(ctx context.Context, typ model.MemoryType, id string, at time.Time) error {
	_, err := x.pool.Exec(ctx, `
UPDATE `+table+` SET deleted = TRUE, updated_at = $3
WHERE type = $1 AND id = $2 AND updated_at <= $3`, string(typ), id, at)
	if err != nil {
		return fmt.Errorf("pgvector delete %s: %w", id, err)
	}
	return nil
}

func (x *Index) Purge(ctx context.Context, typ model.MemoryType, id string) error {
	if _, err := x.pool.Exec(ctx, `DELETE FROM `+table+` WHERE type = $1 AND id = $2`, string(typ), id); err != nil {
		return fmt.Errorf("pgvector purge %s: %w", id, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, q model.VectorQuery) ([]model.ScoredID, error) {
	if len(q.Vector) != x.dims {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(q.Vector), x.dims)
	}
	types := searchindex.QueryTypes(q)
	if len(types) == 0 {
		return nil, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	args := []interface{}{pgvector.NewVector(q.Vector), q.Namespace, names, q.Threshold}
	where := []string{"namespace = $2", "type = ANY($3)", "NOT deleted", "1 - (embedding <=> $1) >= $4"}
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if !q.TimeRange.From.IsZero() {
		args = append(args, q.TimeRange.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.TimeRange.To.IsZero() {
		args = append(args, q.TimeRange.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	sqlQuery := fmt.Sprintf(`
SELECT id, type, 1 - (embedding <=> $1) AS score
FROM %s
WHERE %s
ORDER BY embedding <=> $1, id
LIMIT $%d`, table, strings.Join(where, " AND "), len(args))

	rows, err := x.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform semantic search: %w", err)
	}
	defer rows.Close()

	var hits []model.ScoredID
	for rows.Next() {
		var (
			id, typ string
			score   float64
		)
		if err := rows.Scan(&id, &typ, &score); err != nil {
			return nil, err
		}
		hits = append(hits, model.ScoredID{ID: id, Type: model.MemoryType(typ), Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return searchindex.RankAndTrim(hits, q.Limit), nil
}

// HealthPing implements health.HealthPinger.
func (x *Index) HealthPing(ctx context.Context) error { return x.pool.Ping(ctx) }

// Close releases the pool.
func (x *Index) Close() { x.pool.Close() }
