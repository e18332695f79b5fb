package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Store is the Tier-3 durable client and the source of truth.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
//
// Records are append-only: every write adds a version keyed by
// (namespace, type, id, updated_at). Reads observe the latest version.
type Store interface {
	// Append writes rec as a new version. It returns false without error when
	// a version with updated_at >= rec.UpdatedAt already exists.
	Append(ctx context.Context, rec *model.Record) (bool, error)
	// Get returns the latest version of id, tombstones included.
	// A missing id yields model.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Record, error)
	// Query returns the latest live version of every id matching q, newest
	// created_at first.
	Query(ctx context.Context, q model.StructuralQuery) ([]*model.Record, error)
	// Purge removes every version of id and returns how many rows went away.
	Purge(ctx context.Context, id string) (int64, error)

	DeadLetters() DeadLetters

	HealthPing(ctx context.Context) error
	Close() error
}

// Propagation targets and operations recorded with a dead letter.
const (
	TargetIndex = "index"
	TargetStore = "store"

	OpUpsert = "upsert"
	OpDelete = "delete"
)

// DeadLetter is a propagation job that exhausted its retries.
type DeadLetter struct {
	ID            int64         `json:"id"`
	Target        string        `json:"target"`
	Op            string        `json:"op"`
	Record        *model.Record `json:"record"`
	LastError     string        `json:"last_error"`
	AttemptCount  int           `json:"attempt_count"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DeadLetters persists failed propagation jobs for later replay.
type DeadLetters interface {
	Put(ctx context.Context, dl *DeadLetter) error
	// Lease claims up to limit letters whose next attempt is due and pushes
	// their next attempt past the lease so concurrent replayers skip them.
	Lease(ctx context.Context, limit int, lease time.Duration) ([]*DeadLetter, error)
	Ack(ctx context.Context, id int64) error
	// Fail bumps the attempt count and backs the letter off for
	// 2^(attempts+1) seconds, capped at five minutes.
	Fail(ctx context.Context, id int64, cause string) error
	Count(ctx context.Context) (int64, error)
}

// Row is the column-level encoding shared by the SQL drivers.
type Row struct {
	Content    []byte
	Metadata   []byte
	Embedding  []byte
	TTLSeconds *int64
}

// EncodeRow serializes the JSON columns of rec.
func EncodeRow(rec *model.Record) (Row, error) {
	var r Row
	var err error
	if r.Content, err = json.Marshal(nonNilMap(rec.Content)); err != nil {
		return r, fmt.Errorf("encode content: %w", err)
	}
	if r.Metadata, err = json.Marshal(nonNilMap(rec.Metadata)); err != nil {
		return r, fmt.Errorf("encode metadata: %w", err)
	}
	if len(rec.Embedding) > 0 {
		if r.Embedding, err = json.Marshal(rec.Embedding); err != nil {
			return r, fmt.Errorf("encode embedding: %w", err)
		}
	}
	if rec.TTLSeconds != nil {
		v := int64(*rec.TTLSeconds)
		r.TTLSeconds = &v
	}
	return r, nil
}

// DecodeRow fills the JSON-backed fields of rec.
func DecodeRow(rec *model.Record, content, metadata, embedding []byte, ttl *int64) error {
	if len(content) > 0 {
		if err := json.Unmarshal(content, &rec.Content); err != nil {
			return fmt.Errorf("decode content of %s: %w", rec.ID, err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
		if len(rec.Metadata) == 0 {
			rec.Metadata = nil
		}
	}
	if len(embedding) > 0 && string(embedding) != "null" {
		if err := json.Unmarshal(embedding, &rec.Embedding); err != nil {
			return fmt.Errorf("decode embedding of %s: %w", rec.ID, err)
		}
	}
	if ttl != nil {
		v := int(*ttl)
		rec.TTLSeconds = &v
	}
	return nil
}

// EncodeDeadLetter serializes the record carried by a dead letter.
func EncodeDeadLetter(dl *DeadLetter) ([]byte, error) {
	b, err := json.Marshal(dl.Record)
	if err != nil {
		return nil, fmt.Errorf("encode dead letter payload: %w", err)
	}
	return b, nil
}

// DecodeDeadLetter restores the record carried by a dead letter.
func DecodeDeadLetter(dl *DeadLetter, payload []byte) error {
	var rec model.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode dead letter %d: %w", dl.ID, err)
	}
	dl.Record = &rec
	return nil
}

// EffectiveLimit clamps a query limit.
func EffectiveLimit(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > 1000:
		return 1000
	default:
		return n
	}
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
