package mediator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// StoreResult is returned once the record is readable from Tier-1.
type StoreResult struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	// Warnings note what the record was stored without, e.g. an embedding.
	Warnings []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

// Store accepts a new record. An empty namespace defaults to the principal's.
// The record is written through to the cache and queued for the durable
// store and the index; it is not durable yet when Store returns, but it will
// become durable or land in the dead-letter table.
func (m *Mediator) Store(ctx context.Context, in *model.Record, p model.Principal, opts ...StoreOption) (StoreResult, error) {
	var o storeOptions
	for _, fn := range opts {
		fn(&o)
	}
	if err := p.Validate(); err != nil {
		return StoreResult{}, m.finish("store", err)
	}
	if in == nil {
		return StoreResult{}, m.finish("store", model.NewValidationError("record", "must not be empty"))
	}
	rec := in.Clone()
	if rec.Namespace == "" {
		rec.Namespace = p.Namespace
	}
	if err := m.validateNew(rec); err != nil {
		return StoreResult{}, m.finish("store", err)
	}
	if err := m.authorize(p, rec.Type, model.OpWrite, p.Relation(rec.Namespace, p.ID)); err != nil {
		return StoreResult{}, m.finish("store", err)
	}
	if !m.storeUp() {
		return StoreResult{}, m.finish("store", model.NewDurabilityError("store", errors.New("durable store unavailable")))
	}

	var res StoreResult
	if w, ok := m.ensureEmbedding(ctx, rec, o.allowPlaceholder); !ok {
		res.Warnings = append(res.Warnings, w)
	}

	now := m.now()
	rec.ID = uuid.NewString()
	rec.OwnerRole = p.Role
	rec.OwnerID = p.ID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Deleted = false
	rec.DeletedAt = nil

	if err := ctx.Err(); err != nil {
		return StoreResult{}, m.finish("store", model.ClassifyContextError("store", err))
	}

	// The Tier-1 write ignores the caller deadline so it is never left half-applied.
	cached := m.cacheSet(rec)

	err := m.pipeline.Submit(ctx, propagation.Change{
		Op:      store.OpUpsert,
		Record:  rec,
		Targets: []string{store.TargetStore, store.TargetIndex},
	})
	if err != nil {
		if cached {
			m.cacheInvalidate(rec.Namespace, rec.ID)
		}
		m.log.Error().Err(err).Str("id", rec.ID).Msg("failed to enqueue record")
		return StoreResult{}, m.finish("store", durabilityFailure("store", err))
	}

	res.ID = rec.ID
	res.CreatedAt = rec.CreatedAt
	m.log.Debug().Str("id", rec.ID).Str("type", string(rec.Type)).Str("namespace", rec.Namespace).Msg("record accepted")
	return res, m.finish("store", nil)
}

// Update applies patch to the newest version of id and appends the result to
// the durable store before returning. The cache entry is invalidated rather
// than rewritten; the next read refills it.
func (m *Mediator) Update(ctx context.Context, id string, patch model.Patch, p model.Principal) (*model.Record, error) {
	if err := p.Validate(); err != nil {
		return nil, m.finish("update", err)
	}
	if err := m.validatePatch(patch); err != nil {
		return nil, m.finish("update", err)
	}
	if !grantedAny(p.Role, model.OpWrite) {
		return nil, m.finish("update", m.authorize(p, model.AnyType, model.OpWrite, model.ScopeOwn))
	}
	if !m.storeUp() {
		return nil, m.finish("update", model.NewDurabilityError("update", errors.New("durable store unavailable")))
	}
	cur, err := m.current(ctx, "update", id)
	if err != nil {
		return nil, m.finish("update", err)
	}
	if err := m.authorize(p, cur.Type, model.OpWrite, p.Relation(cur.Namespace, cur.OwnerID)); err != nil {
		return nil, m.finish("update", err)
	}

	next := patch.Apply(cur)
	if err := requireContent(next); err != nil {
		return nil, m.finish("update", err)
	}
	if patch.Embedding == nil && next.Text() != cur.Text() {
		// The old vector describes text that no longer exists.
		next.Embedding = nil
		next.EmbeddingPlaceholder = false
		m.ensureEmbedding(ctx, next, false)
	}
	next.UpdatedAt = m.nextVersion(cur.UpdatedAt)

	if err := m.appendDurable(ctx, "update", next); err != nil {
		return nil, m.finish("update", err)
	}
	m.cacheInvalidate(next.Namespace, next.ID)
	if err := m.propagateIndex(ctx, store.OpUpsert, next); err != nil {
		return nil, m.finish("update", err)
	}
	return next.Clone(), m.finish("update", nil)
}

// Delete writes a tombstone to the durable store, drops the cache entry and
// queues the tombstone for the index. Deleting a tombstoned record succeeds
// without writing anything.
func (m *Mediator) Delete(ctx context.Context, id string, p model.Principal) error {
	if err := p.Validate(); err != nil {
		return m.finish("delete", err)
	}
	if !grantedAny(p.Role, model.OpDelete) {
		return m.finish("delete", m.authorize(p, model.AnyType, model.OpDelete, model.ScopeOwn))
	}
	if !m.storeUp() {
		return m.finish("delete", model.NewDurabilityError("delete", errors.New("durable store unavailable")))
	}
	cur, err := m.latest(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return m.finish("delete", model.NotFoundError{ID: id})
	}
	if err != nil {
		return m.finish("delete", durabilityFailure("delete", err))
	}
	if err := m.authorize(p, cur.Type, model.OpDelete, p.Relation(cur.Namespace, cur.OwnerID)); err != nil {
		return m.finish("delete", err)
	}
	if cur.Deleted {
		m.cacheInvalidate(cur.Namespace, cur.ID)
		return m.finish("delete", nil)
	}

	tomb := cur.Clone()
	tomb.Deleted = true
	tomb.UpdatedAt = m.nextVersion(cur.UpdatedAt)
	at := tomb.UpdatedAt
	tomb.DeletedAt = &at

	if err := m.appendDurable(ctx, "delete", tomb); err != nil {
		return m.finish("delete", err)
	}
	m.cacheInvalidate(tomb.Namespace, tomb.ID)
	return m.finish("delete", m.propagateIndex(ctx, store.OpDelete, tomb))
}

// Purge removes every trace of id from every tier. It is an administrative
// operation outside the soft-delete lifecycle.
func (m *Mediator) Purge(ctx context.Context, id string, p model.Principal) error {
	if err := p.Validate(); err != nil {
		return m.finish("purge", err)
	}
	if err := m.authorize(p, model.AnyType, model.OpPurge, model.ScopeGlobal); err != nil {
		return m.finish("purge", err)
	}
	if !m.storeUp() {
		return m.finish("purge", model.NewDurabilityError("purge", errors.New("durable store unavailable")))
	}
	// Let queued changes for id land first so none of them resurrects it.
	if err := m.pipeline.Barrier(ctx, id); err != nil {
		return m.finish("purge", durabilityFailure("purge", err))
	}
	cur, err := m.latest(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return m.finish("purge", model.NotFoundError{ID: id})
	}
	if err != nil {
		return m.finish("purge", durabilityFailure("purge", err))
	}

	if m.index != nil {
		start := time.Now()
		err := m.index.Purge(ctx, cur.Type, id)
		m.metrics.observe(TierIndex, start)
		if err != nil {
			return m.finish("purge", durabilityFailure("purge", err))
		}
	}
	start := time.Now()
	n, err := m.store.Purge(ctx, id)
	m.metrics.observe(TierStore, start)
	if err != nil {
		return m.finish("purge", durabilityFailure("purge", err))
	}
	m.cacheInvalidate(cur.Namespace, id)
	m.log.Info().Str("id", id).Str("principal", p.ID).Int64("versions", n).Msg("record purged")
	return m.finish("purge", nil)
}

// current loads the live version of id or reports NotFound.
func (m *Mediator) current(ctx context.Context, op, id string) (*model.Record, error) {
	cur, err := m.latest(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, durabilityFailure(op, err)
	}
	if cur.Deleted {
		return nil, model.NotFoundError{ID: id}
	}
	return cur, nil
}

func (m *Mediator) appendDurable(ctx context.Context, op string, rec *model.Record) error {
	if err := ctx.Err(); err != nil {
		return model.ClassifyContextError(op, err)
	}
	start := time.Now()
	_, err := m.store.Append(ctx, rec)
	m.metrics.observe(TierStore, start)
	if err != nil {
		m.log.Error().Err(err).Str("id", rec.ID).Str("op", op).Msg("durable append failed")
		return durabilityFailure(op, err)
	}
	return nil
}

// propagateIndex queues rec for the index. When the queue refuses it, the
// change goes straight to the dead-letter table so replay picks it up; only
// if that fails too does the caller see an error.
func (m *Mediator) propagateIndex(ctx context.Context, op string, rec *model.Record) error {
	if m.index == nil {
		return nil
	}
	err := m.pipeline.Submit(ctx, propagation.Change{Op: op, Record: rec, Targets: []string{store.TargetIndex}})
	if err == nil {
		return nil
	}
	m.log.Warn().Err(err).Str("id", rec.ID).Msg("index propagation not queued, dead-lettering")
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	derr := m.store.DeadLetters().Put(dctx, &store.DeadLetter{
		Target:    store.TargetIndex,
		Op:        op,
		Record:    rec,
		LastError: err.Error(),
	})
	if derr != nil {
		return durabilityFailure(op, errors.Join(err, derr))
	}
	return nil
}

func (m *Mediator) cacheSet(rec *model.Record) bool {
	if m.cache == nil {
		return false
	}
	start := time.Now()
	err := m.cache.Set(context.Background(), rec)
	m.metrics.observe(TierCache, start)
	if err != nil {
		m.log.Warn().Err(err).Str("id", rec.ID).Msg("cache write rejected")
		return false
	}
	return true
}

func (m *Mediator) cacheInvalidate(namespace, id string) {
	if m.cache == nil {
		return
	}
	start := time.Now()
	err := m.cache.Invalidate(context.Background(), namespace, id)
	m.metrics.observe(TierCache, start)
	if err != nil {
		m.log.Warn().Err(err).Str("id", id).Msg("cache invalidate failed")
	}
}
