package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

var (
	registerOnce sync.Once
	driverName   string
	registerErr  error
)

// tracedDriver registers the pgx stdlib driver with otelsql once per process.
func tracedDriver() (string, error) {
	registerOnce.Do(func() {
		driverName, registerErr = otelsql.Register(
			"pgx",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.TraceRowsClose(),
			otelsql.TraceRowsAffected(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
		)
	})
	return driverName, registerErr
}

// Open opens a traced PostgreSQL connection pool and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	driver, err := tracedDriver()
	if err != nil {
		return nil, fmt.Errorf("register traced driver: %w", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := otelsql.RecordStats(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record db stats: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS memory_records (
    namespace             TEXT        NOT NULL,
    type                  TEXT        NOT NULL,
    id                    TEXT        NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL,
    owner_role            TEXT        NOT NULL,
    owner_id              TEXT        NOT NULL DEFAULT '',
    content               JSONB       NOT NULL,
    metadata              JSONB,
    embedding             JSONB,
    embedding_placeholder BOOLEAN     NOT NULL DEFAULT FALSE,
    ttl_seconds           INTEGER,
    deleted               BOOLEAN     NOT NULL DEFAULT FALSE,
    deleted_at            TIMESTAMPTZ,
    PRIMARY KEY (namespace, type, id, updated_at)
)`,
	`CREATE INDEX IF NOT EXISTS memory_records_ns_created ON memory_records (namespace, created_at)`,
	`CREATE INDEX IF NOT EXISTS memory_records_id_updated ON memory_records (id, updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
    id              BIGSERIAL   PRIMARY KEY,
    target          TEXT        NOT NULL,
    op              TEXT        NOT NULL,
    payload         JSONB       NOT NULL,
    last_error      TEXT        NOT NULL DEFAULT '',
    attempt_count   INTEGER     NOT NULL DEFAULT 0,
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS dead_letters_next ON dead_letters (next_attempt_at)`,
}

// Bootstrap connects to dsn and applies the schema idempotently.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil // No DSN configured, skip bootstrap
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return ApplySchema(ctx, db)
}

// ApplySchema creates the tables and indexes when missing.
func ApplySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

const recordColumns = `namespace, type, id, updated_at, created_at, owner_role, owner_id,
    content, metadata, embedding, embedding_placeholder, ttl_seconds, deleted, deleted_at`

// Parameters are cast explicitly; INSERT ... SELECT leaves them untyped otherwise.
const appendSQL = `
INSERT INTO memory_records (` + recordColumns + `)
SELECT $1::text, $2::text, $3::text, $4::timestamptz, $5::timestamptz, $6::text, $7::text,
       $8::jsonb, $9::jsonb, $10::jsonb, $11::boolean, $12::integer, $13::boolean, $14::timestamptz
WHERE NOT EXISTS (SELECT 1 FROM memory_records WHERE id = $3::text AND updated_at >= $4::timestamptz)`

const getSQL = `
SELECT ` + recordColumns + `
FROM memory_records WHERE id = $1
ORDER BY updated_at DESC LIMIT 1`

const (
	leaseSQL = `
UPDATE dead_letters SET next_attempt_at = now() + make_interval(secs => $1)
WHERE id IN (
    SELECT id FROM dead_letters
    WHERE next_attempt_at <= now()
    ORDER BY id ASC
    FOR UPDATE SKIP LOCKED
    LIMIT $2)
RETURNING id, target, op, payload, last_error, attempt_count, next_attempt_at, created_at`

	failSQL = `
UPDATE dead_letters
SET attempt_count = attempt_count + 1,
    last_error = $2,
    next_attempt_at = now() + make_interval(secs => LEAST(POWER(2, attempt_count+1), 300))
WHERE id = $1`
)

// NewWithDB constructs a native Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

// Append serializes writers of the same id with a transaction-scoped
// advisory lock so the version check and the insert are atomic.
func (s *pgStore) Append(ctx context.Context, rec *model.Record) (bool, error) {
	row, err := store.EncodeRow(rec)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.ID); err != nil {
		return false, fmt.Errorf("lock %s: %w", rec.ID, err)
	}
	res, err := tx.ExecContext(ctx, appendSQL,
		rec.Namespace, string(rec.Type), rec.ID, rec.UpdatedAt, rec.CreatedAt, string(rec.OwnerRole), rec.OwnerID,
		string(row.Content), string(row.Metadata), nullJSON(row.Embedding), rec.EmbeddingPlaceholder, row.TTLSeconds,
		rec.Deleted, rec.DeletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("append %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *pgStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, getSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

func (s *pgStore) Query(ctx context.Context, q model.StructuralQuery) ([]*model.Record, error) {
	args := []interface{}{q.Namespace}
	where := []string{"namespace = $1"}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		where = append(where, "type = ANY("+next(types)+"::text[])")
	}
	if q.OwnerID != "" {
		where = append(where, "owner_id = "+next(q.OwnerID))
	}
	if !q.TimeRange.From.IsZero() {
		where = append(where, "created_at >= "+next(q.TimeRange.From))
	}
	if !q.TimeRange.To.IsZero() {
		where = append(where, "created_at <= "+next(q.TimeRange.To))
	}
	live := " AND NOT deleted"
	if q.IncludeDeleted {
		live = ""
	}
	query := `
SELECT ` + recordColumns + ` FROM (
    SELECT DISTINCT ON (id) ` + recordColumns + `
    FROM memory_records WHERE ` + strings.Join(where, " AND ") + `
    ORDER BY id, updated_at DESC
) latest WHERE TRUE` + live + `
ORDER BY created_at DESC, id
LIMIT ` + next(store.EffectiveLimit(q.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Namespace, err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *pgStore) Purge(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", id, err)
	}
	return res.RowsAffected()
}

func (s *pgStore) DeadLetters() store.DeadLetters { return &deadLetters{db: s.db} }

// HealthPing implements health.HealthPinger for Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *pgStore) Close() error { return s.db.Close() }

// --- Dead letters ---
type deadLetters struct{ db *sql.DB }

func (d *deadLetters) Put(ctx context.Context, dl *store.DeadLetter) error {
	payload, err := store.EncodeDeadLetter(dl)
	if err != nil {
		return err
	}
	next := dl.NextAttemptAt
	if next.IsZero() {
		next = time.Now()
	}
	row := d.db.QueryRowContext(ctx, `
        INSERT INTO dead_letters (target, op, payload, last_error, attempt_count, next_attempt_at)
        VALUES ($1, $2, $3::jsonb, $4, $5, $6)
        RETURNING id, created_at
    `, dl.Target, dl.Op, string(payload), dl.LastError, dl.AttemptCount, next)
	if err := row.Scan(&dl.ID, &dl.CreatedAt); err != nil {
		return fmt.Errorf("put dead letter: %w", err)
	}
	return nil
}

// Lease locks ready rows with SKIP LOCKED so concurrent replayers never
// share a letter, then pushes them out by the lease.
func (d *deadLetters) Lease(ctx context.Context, limit int, lease time.Duration) ([]*store.DeadLetter, error) {
	rows, err := d.db.QueryContext(ctx, leaseSQL, lease.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("lease dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*store.DeadLetter
	for rows.Next() {
		var dl store.DeadLetter
		var payload []byte
		if err := rows.Scan(&dl.ID, &dl.Target, &dl.Op, &payload, &dl.LastError, &dl.AttemptCount, &dl.NextAttemptAt, &dl.CreatedAt); err != nil {
			return nil, err
		}
		if err := store.DecodeDeadLetter(&dl, payload); err != nil {
			return nil, err
		}
		out = append(out, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *deadLetters) Ack(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id)
	return err
}

func (d *deadLetters) Fail(ctx context.Context, id int64, cause string) error {
	_, err := d.db.ExecContext(ctx, failSQL, id, cause)
	return err
}

func (d *deadLetters) Count(ctx context.Context) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(sc scanner) (*model.Record, error) {
	var (
		rec                          model.Record
		typ, role                    string
		content, metadata, embedding []byte
		ttl                          sql.NullInt64
		deletedAt                    sql.NullTime
	)
	if err := sc.Scan(&rec.Namespace, &typ, &rec.ID, &rec.UpdatedAt, &rec.CreatedAt, &role, &rec.OwnerID,
		&content, &metadata, &embedding, &rec.EmbeddingPlaceholder, &ttl, &rec.Deleted, &deletedAt); err != nil {
		return nil, err
	}
	rec.Type = model.MemoryType(typ)
	rec.OwnerRole = model.Role(role)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		rec.DeletedAt = &t
	}
	var ttlPtr *int64
	if ttl.Valid {
		ttlPtr = &ttl.Int64
	}
	if err := store.DecodeRow(&rec, content, metadata, embedding, ttlPtr); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
