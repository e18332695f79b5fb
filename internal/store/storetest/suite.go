package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// makeStore must return a reachable store; every case works in its own
// namespace so stores may be shared.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("AppendGetLatest", func(t *testing.T) { testAppendGetLatest(t, makeStore(t)) })
	t.Run("AppendIdempotent", func(t *testing.T) { testAppendIdempotent(t, makeStore(t)) })
	t.Run("TombstoneFinality", func(t *testing.T) { testTombstone(t, makeStore(t)) })
	t.Run("QueryFilters", func(t *testing.T) { testQueryFilters(t, makeStore(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, makeStore(t)) })
	t.Run("DeadLetters", func(t *testing.T) { testDeadLetters(t, makeStore(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(ns string, typ model.MemoryType, at time.Time) *model.Record {
	return &model.Record{
		ID:        uuid.NewString(),
		Type:      typ,
		Namespace: ns,
		OwnerRole: model.RoleContributor,
		OwnerID:   "alice",
		Content:   map[string]interface{}{"text": "hello"},
		Metadata:  map[string]interface{}{"source": "test"},
		Embedding: []float32{0.1, 0.2, 0.3, 0.4},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func namespace() string { return "ns-" + uuid.NewString() }

func testAppendGetLatest(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord(namespace(), model.TypeInsight, base)
	ttl := 60
	rec.TTLSeconds = &ttl

	ok, err := s.Append(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Namespace, got.Namespace)
	assert.Equal(t, model.TypeInsight, got.Type)
	assert.Equal(t, model.RoleContributor, got.OwnerRole)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "hello", got.Content["text"])
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, rec.Embedding, got.Embedding)
	require.NotNil(t, got.TTLSeconds)
	assert.Equal(t, 60, *got.TTLSeconds)
	assert.True(t, got.CreatedAt.Equal(base))

	v2 := rec.Clone()
	v2.Content["text"] = "updated"
	v2.UpdatedAt = base.Add(time.Second)
	ok, err = s.Append(ctx, v2)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content["text"])
	assert.True(t, got.UpdatedAt.Equal(v2.UpdatedAt))
	assert.True(t, got.CreatedAt.Equal(base), "created_at is stable across versions")

	_, err = s.Get(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, model.ErrNotFound), "missing id: %v", err)
}

func testAppendIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord(namespace(), model.TypeEvent, base)
	rec.UpdatedAt = base.Add(2 * time.Second)

	ok, err := s.Append(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	// same version again is discarded
	ok, err = s.Append(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	// an older version is discarded
	old := rec.Clone()
	old.UpdatedAt = base.Add(time.Second)
	old.Content["text"] = "stale"
	ok, err = s.Append(ctx, old)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content["text"])

	res, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: rec.Namespace}})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func testTombstone(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord(namespace(), model.TypeDecision, base)
	rec.Content = map[string]interface{}{"decision": "ship it"}
	_, err := s.Append(ctx, rec)
	require.NoError(t, err)

	at := base.Add(time.Minute)
	tomb := rec.Clone()
	tomb.Deleted = true
	tomb.DeletedAt = &at
	tomb.UpdatedAt = at
	ok, err := s.Append(ctx, tomb)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(at))

	live, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: rec.Namespace}})
	require.NoError(t, err)
	assert.Empty(t, live)

	all, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: rec.Namespace}, IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Deleted)
}

func testQueryFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	ns := namespace()

	e1 := newRecord(ns, model.TypeEvent, base)
	e2 := newRecord(ns, model.TypeEvent, base.Add(time.Hour))
	in := newRecord(ns, model.TypeInsight, base.Add(2*time.Hour))
	in.OwnerID = "bob"
	other := newRecord(namespace(), model.TypeEvent, base.Add(time.Hour))
	for _, r := range []*model.Record{e1, e2, in, other} {
		_, err := s.Append(ctx, r)
		require.NoError(t, err)
	}

	all, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: ns}})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{in.ID, e2.ID, e1.ID}, ids(all), "newest created_at first")

	events, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: ns, Types: []model.MemoryType{model.TypeEvent}}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{e1.ID, e2.ID}, ids(events))

	bobs, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: ns, OwnerID: "bob"}})
	require.NoError(t, err)
	assert.Equal(t, []string{in.ID}, ids(bobs))

	window, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{
		Namespace: ns,
		TimeRange: model.TimeRange{From: base.Add(30 * time.Minute), To: base.Add(90 * time.Minute)},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{e2.ID}, ids(window))

	limited, err := s.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: ns}, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec := newRecord(namespace(), model.TypeContext, base)
	_, err := s.Append(ctx, rec)
	require.NoError(t, err)
	v2 := rec.Clone()
	v2.UpdatedAt = base.Add(time.Second)
	_, err = s.Append(ctx, v2)
	require.NoError(t, err)

	n, err := s.Purge(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	n, err = s.Purge(ctx, rec.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testDeadLetters(t *testing.T, s store.Store) {
	ctx := context.Background()
	dls := s.DeadLetters()

	before, err := dls.Count(ctx)
	require.NoError(t, err)

	rec := newRecord(namespace(), model.TypeInsight, base)
	dl := &store.DeadLetter{Target: store.TargetIndex, Op: store.OpUpsert, Record: rec, LastError: "index down", AttemptCount: 8}
	require.NoError(t, dls.Put(ctx, dl))
	assert.NotZero(t, dl.ID)

	n, err := dls.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, n)

	leased, err := dls.Lease(ctx, 1000, time.Minute)
	require.NoError(t, err)
	var mine *store.DeadLetter
	for _, l := range leased {
		if l.ID == dl.ID {
			mine = l
		}
	}
	require.NotNil(t, mine, "due letter must be leased")
	assert.Equal(t, store.TargetIndex, mine.Target)
	assert.Equal(t, store.OpUpsert, mine.Op)
	assert.Equal(t, rec.ID, mine.Record.ID)
	assert.Equal(t, "index down", mine.LastError)

	// leased letters are invisible until the lease runs out
	again, err := dls.Lease(ctx, 1000, time.Minute)
	require.NoError(t, err)
	for _, l := range again {
		assert.NotEqual(t, dl.ID, l.ID)
	}

	require.NoError(t, dls.Fail(ctx, dl.ID, "still down"))
	require.NoError(t, dls.Ack(ctx, dl.ID))
	n, err = dls.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, n)
}

func ids(recs []*model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
