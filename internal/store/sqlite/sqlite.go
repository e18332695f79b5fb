// Package sqlite is the embedded Tier-3 driver used by local builds and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Timestamps are stored as unix nanoseconds so ordering is numeric.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS memory_records (
    namespace             TEXT    NOT NULL,
    type                  TEXT    NOT NULL,
    id                    TEXT    NOT NULL,
    updated_at            INTEGER NOT NULL,
    created_at            INTEGER NOT NULL,
    owner_role            TEXT    NOT NULL,
    owner_id              TEXT    NOT NULL DEFAULT '',
    content               TEXT    NOT NULL,
    metadata              TEXT,
    embedding             TEXT,
    embedding_placeholder INTEGER NOT NULL DEFAULT 0,
    ttl_seconds           INTEGER,
    deleted               INTEGER NOT NULL DEFAULT 0,
    deleted_at            INTEGER,
    PRIMARY KEY (namespace, type, id, updated_at)
)`,
	`CREATE INDEX IF NOT EXISTS memory_records_ns_created ON memory_records (namespace, created_at)`,
	`CREATE INDEX IF NOT EXISTS memory_records_id_updated ON memory_records (id, updated_at)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    target          TEXT    NOT NULL,
    op              TEXT    NOT NULL,
    payload         TEXT    NOT NULL,
    last_error      TEXT    NOT NULL DEFAULT '',
    attempt_count   INTEGER NOT NULL DEFAULT 0,
    next_attempt_at INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS dead_letters_next ON dead_letters (next_attempt_at)`,
}

const recordColumns = `namespace, type, id, updated_at, created_at, owner_role, owner_id,
    content, metadata, embedding, embedding_placeholder, ttl_seconds, deleted, deleted_at`

const appendSQL = `
INSERT INTO memory_records (` + recordColumns + `)
SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (SELECT 1 FROM memory_records WHERE id = ? AND updated_at >= ?)`

const getSQL = `
SELECT ` + recordColumns + `
FROM memory_records WHERE id = ?
ORDER BY updated_at DESC LIMIT 1`

const (
	leaseSQL = `
UPDATE dead_letters SET next_attempt_at = ?
WHERE id IN (SELECT id FROM dead_letters WHERE next_attempt_at <= ? ORDER BY id LIMIT ?)
RETURNING id, target, op, payload, last_error, attempt_count, next_attempt_at, created_at`

	failSQL = `
UPDATE dead_letters
SET attempt_count = attempt_count + 1,
    last_error = ?,
    next_attempt_at = ? + MIN(1 << (attempt_count + 1), 300) * 1000000000
WHERE id = ?`
)

// Open opens (or creates) a SQLite database and applies the schema.
// dsn is either a filesystem path or a full "file:" URI.
func Open(dsn string) (*sql.DB, error) {
	if !strings.HasPrefix(dsn, "file:") {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dsn)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; SQLite would otherwise answer SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Bootstrap(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap applies the schema idempotently.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

// NewWithDB constructs a SQLite store on an opened database.
func NewWithDB(db *sql.DB) store.Store { return &sqliteStore{db: db} }

type sqliteStore struct{ db *sql.DB }

func (s *sqliteStore) Append(ctx context.Context, rec *model.Record) (bool, error) {
	row, err := store.EncodeRow(rec)
	if err != nil {
		return false, err
	}
	var deletedAt *int64
	if rec.DeletedAt != nil {
		v := rec.DeletedAt.UnixNano()
		deletedAt = &v
	}
	res, err := s.db.ExecContext(ctx, appendSQL,
		rec.Namespace, string(rec.Type), rec.ID, rec.UpdatedAt.UnixNano(), rec.CreatedAt.UnixNano(),
		string(rec.OwnerRole), rec.OwnerID, string(row.Content), string(row.Metadata), nullString(row.Embedding),
		boolInt(rec.EmbeddingPlaceholder), row.TTLSeconds, boolInt(rec.Deleted), deletedAt,
		rec.ID, rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("append %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, getSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) Query(ctx context.Context, q model.StructuralQuery) ([]*model.Record, error) {
	where := []string{"namespace = ?"}
	args := []interface{}{q.Namespace}
	if len(q.Types) > 0 {
		marks := make([]string, len(q.Types))
		for i, t := range q.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if q.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if !q.TimeRange.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.TimeRange.From.UnixNano())
	}
	if !q.TimeRange.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.TimeRange.To.UnixNano())
	}
	live := " AND deleted = 0"
	if q.IncludeDeleted {
		live = ""
	}
	query := `
SELECT ` + recordColumns + ` FROM (
    SELECT ` + recordColumns + `,
           ROW_NUMBER() OVER (PARTITION BY id ORDER BY updated_at DESC) AS rn
    FROM memory_records WHERE ` + strings.Join(where, " AND ") + `
) WHERE rn = 1` + live + `
ORDER BY created_at DESC, id
LIMIT ?`
	args = append(args, store.EffectiveLimit(q.Limit))

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

func (s *sqliteStore) Purge(ctx context.Context, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", id, err)
	}
	return res.RowsAffected()
}

func (s *sqliteStore) DeadLetters() store.DeadLetters { return &deadLetters{db: s.db} }

// HealthPing implements health.HealthPinger.
func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error { return s.db.Close() }

type deadLetters struct{ db *sql.DB }

func (d *deadLetters) Put(ctx context.Context, dl *store.DeadLetter) error {
	payload, err := store.EncodeDeadLetter(dl)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	next := now
	if !dl.NextAttemptAt.IsZero() {
		next = dl.NextAttemptAt.UnixNano()
	}
	row := d.db.QueryRowContext(ctx, `
INSERT INTO dead_letters (target, op, payload, last_error, attempt_count, next_attempt_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		dl.Target, dl.Op, string(payload), dl.LastError, dl.AttemptCount, next, now)
	if err := row.Scan(&dl.ID); err != nil {
		return fmt.Errorf("put dead letter: %w", err)
	}
	return nil
}

func (d *deadLetters) Lease(ctx context.Context, limit int, lease time.Duration) ([]*store.DeadLetter, error) {
	now := time.Now()
	rows, err := d.db.QueryContext(ctx, leaseSQL, now.Add(lease).UnixNano(), now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("lease dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*store.DeadLetter
	for rows.Next() {
		var dl store.DeadLetter
		var payload string
		var next, created int64
		if err := rows.Scan(&dl.ID, &dl.Target, &dl.Op, &payload, &dl.LastError, &dl.AttemptCount, &next, &created); err != nil {
			return nil, err
		}
		if err := store.DecodeDeadLetter(&dl, []byte(payload)); err != nil {
			return nil, err
		}
		dl.NextAttemptAt = time.Unix(0, next).UTC()
		dl.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *deadLetters) Ack(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return err
}

func (d *deadLetters) Fail(ctx context.Context, id int64, cause string) error {
	_, err := d.db.ExecContext(ctx, failSQL, cause, time.Now().UnixNano(), id)
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
		rec                  model.Record
		typ, role            string
		updated, created     int64
		content              string
		metadata, embedding  sql.NullString
		placeholder, deleted int64
		ttl, deletedAt       sql.NullInt64
	)
	if err := sc.Scan(&rec.Namespace, &typ, &rec.ID, &updated, &created, &role, &rec.OwnerID,
		&content, &metadata, &embedding, &placeholder, &ttl, &deleted, &deletedAt); err != nil {
		return nil, err
	}
	rec.Type = model.MemoryType(typ)
	rec.OwnerRole = model.Role(role)
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.EmbeddingPlaceholder = placeholder != 0
	rec.Deleted = deleted != 0
	if deletedAt.Valid {
		t := time.Unix(0, deletedAt.Int64).UTC()
		rec.DeletedAt = &t
	}
	var ttlPtr *int64
	if ttl.Valid {
		ttlPtr = &ttl.Int64
	}
	if err := store.DecodeRow(&rec, []byte(content), []byte(metadata.String), []byte(embedding.String), ttlPtr); err != nil {
		return nil, err
	}
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
