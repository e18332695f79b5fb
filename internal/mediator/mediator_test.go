package mediator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// The team-a walkthrough: store, search, denied delete, delete, not found.
func TestMediator_TeamAScenario(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("churn risk high", 0.12, 0.8, 0.1, 0.05), alice)
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	e.settle(t, res.ID)

	found, err := e.m.Search(ctx, SearchQuery{
		QueryVector: []float32{0.1, 0.82, 0.12, 0.04},
		Filters:     model.Filters{Namespace: "team-a", Types: []model.MemoryType{model.TypeInsight}},
	}, alice)
	require.NoError(t, err)
	assert.Equal(t, ModeSimilarity, found.Mode)
	assert.False(t, found.Degraded)
	require.Len(t, found.Records, 1)
	assert.Equal(t, res.ID, found.Records[0].Record.ID)
	assert.GreaterOrEqual(t, found.Records[0].Score, float32(0.7))

	err = e.m.Delete(ctx, res.ID, reader)
	require.Error(t, err)
	assert.True(t, model.IsAuthorizationError(err))

	lk, err := e.m.Retrieve(ctx, res.ID, reader)
	require.NoError(t, err)
	require.True(t, lk.Found, "record survives the denied delete")

	require.NoError(t, e.m.Delete(ctx, res.ID, alice))
	lk, err = e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	assert.False(t, lk.Found)
	assert.Nil(t, lk.Record)

	require.NoError(t, e.m.Delete(ctx, res.ID, alice), "second delete is a no-op")

	e.settle(t, res.ID)
	found, err = e.m.Search(ctx, SearchQuery{QueryVector: []float32{0.1, 0.82, 0.12, 0.04}}, alice)
	require.NoError(t, err)
	assert.Empty(t, found.Records, "tombstone reached the index")
}

func TestMediator_WriteVisibility(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	in := insight("renewal likely", 1, 0, 0, 0)
	res, err := e.m.Store(ctx, in, alice)
	require.NoError(t, err)

	// immediately, before propagation is awaited
	lk, err := e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	require.True(t, lk.Found)
	got := lk.Record
	assert.Equal(t, in.Content, got.Content)
	assert.Equal(t, in.Metadata, got.Metadata)
	assert.Equal(t, in.Embedding, got.Embedding)
	assert.Equal(t, in.Type, got.Type)
	assert.Equal(t, model.RoleContributor, got.OwnerRole)
	assert.Equal(t, "alice", got.OwnerID)
	assert.True(t, res.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	assert.Empty(t, in.ID, "caller's record is not mutated")

	e.settle(t, res.ID)
	durable, err := e.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Content, durable.Content)
	assert.True(t, durable.UpdatedAt.Equal(got.UpdatedAt))
}

func TestMediator_StoreRejectsWrongDimensionsWithoutWriting(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	_, err := e.m.Store(ctx, insight("too short", 1, 0), alice)
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))

	assert.Equal(t, 0, e.pipeline.Depth())
	assert.Zero(t, e.cache.Stats().Hits+e.cache.Stats().Misses)
	recs, err := e.store.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: "team-a"}})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMediator_StoreValidation(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	cases := map[string]*model.Record{
		"nil record":       nil,
		"unknown type":     {Type: "Memo", Content: map[string]interface{}{"text": "x"}},
		"caller id":        {ID: "mine", Type: model.TypeEvent},
		"missing text":     {Type: model.TypeInsight, Content: map[string]interface{}{}},
		"blank decision":   {Type: model.TypeDecision, Content: map[string]interface{}{"decision": "  "}},
		"negative ttl":     {Type: model.TypeEvent, TTLSeconds: intPtr(-1)},
		"invalid embedded": {Type: model.TypeEvent, Embedding: []float32{1}},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.m.Store(ctx, rec, alice)
			require.Error(t, err)
			assert.True(t, model.IsValidationError(err), "%v", err)
		})
	}

	_, err := e.m.Store(ctx, insight("x", 1, 0, 0, 0), model.Principal{ID: "anon"})
	assert.True(t, model.IsValidationError(err), "incomplete principal")
}

func TestMediator_StoreDeniedPerformsNoIO(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	_, err := e.m.Store(ctx, insight("read only users cannot write", 1, 0, 0, 0), reader)
	require.Error(t, err)
	assert.True(t, model.IsAuthorizationError(err))
	assert.False(t, model.Retryable(err))

	// Contributors may not write decisions or into another team's namespace.
	_, err = e.m.Store(ctx, &model.Record{Type: model.TypeDecision, Content: map[string]interface{}{"decision": "ship"}}, alice)
	assert.True(t, model.IsAuthorizationError(err))
	foreign := insight("elsewhere", 1, 0, 0, 0)
	foreign.Namespace = "team-b"
	_, err = e.m.Store(ctx, foreign, alice)
	assert.True(t, model.IsAuthorizationError(err))

	assert.Equal(t, 0, e.pipeline.Depth())
	recs, err := e.store.Query(ctx, model.StructuralQuery{Filters: model.Filters{Namespace: "team-a"}})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMediator_StoreFailsFastWhenStoreIsDown(t *testing.T) {
	e := newEnv(t, envOptions{storeHealth: staticHealth(false)})

	_, err := e.m.Store(context.Background(), insight("x", 1, 0, 0, 0), alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err))
	assert.True(t, model.Retryable(err))
	assert.Equal(t, 0, e.pipeline.Depth())
}

func TestMediator_StoreRejectedByClosedPipeline(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.pipeline.Close()

	_, err := e.m.Store(context.Background(), insight("x", 1, 0, 0, 0), alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err), "%v", err)
}

func TestMediator_StoreHonoursDeadline(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.m.Store(ctx, insight("x", 1, 0, 0, 0), alice)
	require.Error(t, err)
	assert.True(t, model.IsTimeoutError(err))
	assert.True(t, model.Retryable(err))
}

func TestMediator_EmbeddingGeneration(t *testing.T) {
	ctx := context.Background()

	t.Run("generated", func(t *testing.T) {
		e := newEnv(t, envOptions{embedder: fakeEmbedder{vec: []float32{0, 0, 1, 0}}})
		res, err := e.m.Store(ctx, insight("needs a vector"), alice)
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)
		lk, err := e.m.Retrieve(ctx, res.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1, 0}, lk.Record.Embedding)
	})

	t.Run("embedder down stores without vector", func(t *testing.T) {
		e := newEnv(t, envOptions{embedder: fakeEmbedder{err: errors.New("model offline")}})
		res, err := e.m.Store(ctx, insight("no vector today"), alice)
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, TierEmbedder, res.Warnings[0].Tier)
		lk, err := e.m.Retrieve(ctx, res.ID, alice)
		require.NoError(t, err)
		assert.Empty(t, lk.Record.Embedding)
		assert.False(t, lk.Record.EmbeddingPlaceholder)
	})

	t.Run("placeholder only on opt-in and never searchable", func(t *testing.T) {
		e := newEnv(t, envOptions{})
		res, err := e.m.Store(ctx, insight("placeholder"), alice, AllowPlaceholderEmbedding())
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		e.settle(t, res.ID)

		lk, err := e.m.Retrieve(ctx, res.ID, alice)
		require.NoError(t, err)
		assert.True(t, lk.Record.EmbeddingPlaceholder)
		assert.Equal(t, make([]float32, dims), lk.Record.Embedding)

		found, err := e.m.Search(ctx, SearchQuery{QueryVector: []float32{0.5, 0.5, 0.5, 0.5}, Threshold: -1}, alice)
		require.NoError(t, err)
		assert.Empty(t, found.Records)
	})

	t.Run("wrong embedder dimension is an embedder failure", func(t *testing.T) {
		e := newEnv(t, envOptions{embedder: fakeEmbedder{vec: []float32{1, 2}}})
		res, err := e.m.Store(ctx, insight("odd model"), alice)
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
	})
}

func TestMediator_RetrieveCoalescesConcurrentMisses(t *testing.T) {
	var cs *countingStore
	e := newEnv(t, envOptions{wrapStore: func(s store.Store) store.Store {
		cs = &countingStore{Store: s, delay: 50 * time.Millisecond}
		return cs
	}})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := &model.Record{ID: "cold", Type: model.TypeEvent, Namespace: "team-a", OwnerID: "alice",
		Content: map[string]interface{}{"text": "from the warehouse"}, CreatedAt: now, UpdatedAt: now}
	_, err := e.store.Append(ctx, rec)
	require.NoError(t, err)

	const n = 20
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		found = make(chan bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			lk, err := e.m.Retrieve(ctx, "cold", alice)
			found <- err == nil && lk.Found
		}()
	}
	close(start)
	wg.Wait()
	close(found)

	for ok := range found {
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), cs.gets.Load(), "one durable fetch for %d concurrent misses", n)

	// backfilled: the next read is a cache hit
	hits := e.cache.Stats().Hits
	_, err = e.m.Retrieve(ctx, "cold", alice)
	require.NoError(t, err)
	assert.Equal(t, hits+1, e.cache.Stats().Hits)
	assert.Equal(t, int32(1), cs.gets.Load())
}

func TestMediator_RetrieveAuthorizesAgainstTheRecord(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("team-a only", 1, 0, 0, 0), alice)
	require.NoError(t, err)

	outsider := model.Principal{ID: "oscar", Role: model.RoleContributor, Namespace: "team-b"}
	_, err = e.m.Retrieve(ctx, res.ID, outsider)
	assert.True(t, model.IsAuthorizationError(err), "contributors read team scope only")

	lk, err := e.m.Retrieve(ctx, res.ID, executive)
	require.NoError(t, err)
	assert.True(t, lk.Found, "executives read globally")

	lk, err = e.m.Retrieve(ctx, "never-stored", alice)
	require.NoError(t, err)
	assert.False(t, lk.Found)
}

func TestMediator_UpdateAppendsDurablyAndInvalidatesCache(t *testing.T) {
	e := newEnv(t, envOptions{embedder: fakeEmbedder{vec: []float32{0, 1, 0, 0}}})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("first draft", 1, 0, 0, 0), alice)
	require.NoError(t, err)

	// before the pipeline lands the first version
	updated, err := e.m.Update(ctx, res.ID, model.Patch{
		Content:  map[string]interface{}{"text": "second draft"},
		Metadata: map[string]interface{}{"source": nil, "reviewed": true},
	}, alice)
	require.NoError(t, err)
	assert.Equal(t, "second draft", updated.Content["text"])
	assert.Equal(t, map[string]interface{}{"reviewed": true}, updated.Metadata)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
	assert.Equal(t, []float32{0, 1, 0, 0}, updated.Embedding, "changed text is re-embedded")

	durable, err := e.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "second draft", durable.Content["text"])

	e.settle(t, res.ID)
	durable, err = e.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "second draft", durable.Content["text"], "late first version was discarded")

	lk, err := e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, "second draft", lk.Record.Content["text"])

	found, err := e.m.Search(ctx, SearchQuery{QueryVector: []float32{0, 1, 0, 0}}, alice)
	require.NoError(t, err)
	require.Len(t, found.Records, 1)
	assert.Equal(t, "second draft", found.Records[0].Record.Content["text"])
}

func TestMediator_UpdateRules(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	res, err := e.m.Store(ctx, insight("mine", 1, 0, 0, 0), alice)
	require.NoError(t, err)

	_, err = e.m.Update(ctx, res.ID, model.Patch{}, alice)
	assert.True(t, model.IsValidationError(err), "empty patch")

	_, err = e.m.Update(ctx, res.ID, model.Patch{Embedding: []float32{1}}, alice)
	assert.True(t, model.IsValidationError(err), "wrong dimension")

	_, err = e.m.Update(ctx, res.ID, model.Patch{Content: map[string]interface{}{"text": nil}}, alice)
	assert.True(t, model.IsValidationError(err), "required content removed")

	_, err = e.m.Update(ctx, res.ID, model.Patch{Metadata: map[string]interface{}{"k": "v"}}, bob)
	assert.True(t, model.IsAuthorizationError(err), "contributors write their own records only")

	_, err = e.m.Update(ctx, res.ID, model.Patch{Metadata: map[string]interface{}{"k": "v"}}, manager)
	assert.NoError(t, err, "managers write team records")

	_, err = e.m.Update(ctx, "missing", model.Patch{Metadata: map[string]interface{}{"k": "v"}}, alice)
	assert.True(t, model.IsNotFoundError(err))

	require.NoError(t, e.m.Delete(ctx, res.ID, alice))
	_, err = e.m.Update(ctx, res.ID, model.Patch{Metadata: map[string]interface{}{"k": "v"}}, alice)
	assert.True(t, model.IsNotFoundError(err), "tombstones cannot be updated")
}

func TestMediator_DeleteDuringCacheMissIsNotBackfilled(t *testing.T) {
	var gs *gatedStore
	e := newEnv(t, envOptions{wrapStore: func(s store.Store) store.Store {
		gs = newGatedStore(s)
		return gs
	}})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := e.store.Append(ctx, &model.Record{ID: "contended", Type: model.TypeInsight, Namespace: "team-a", OwnerID: "alice",
		Content: map[string]interface{}{"text": "churn risk high"}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	gs.armed.Store(true)

	done := make(chan Lookup, 1)
	go func() {
		lk, err := e.m.Retrieve(ctx, "contended", alice)
		assert.NoError(t, err)
		done <- lk
	}()

	// the miss has read the live version; delete it before the backfill
	<-gs.read
	require.NoError(t, e.m.Delete(ctx, "contended", alice))
	close(gs.release)
	assert.True(t, (<-done).Found, "the racing read returns what it saw")

	lk, err := e.m.Retrieve(ctx, "contended", alice)
	require.NoError(t, err)
	assert.False(t, lk.Found, "deleted record served from cache")
	assert.Nil(t, lk.Record)
}

func TestMediator_UpdateDuringCacheMissIsNotBackfilled(t *testing.T) {
	var gs *gatedStore
	e := newEnv(t, envOptions{wrapStore: func(s store.Store) store.Store {
		gs = newGatedStore(s)
		return gs
	}})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := e.store.Append(ctx, &model.Record{ID: "contended", Type: model.TypeDecision, Namespace: "team-a", OwnerID: "mia",
		Content: map[string]interface{}{"decision": "hold pricing"}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	gs.armed.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.m.Retrieve(ctx, "contended", manager)
		assert.NoError(t, err)
	}()

	<-gs.read
	_, err = e.m.Update(ctx, "contended", model.Patch{Content: map[string]interface{}{"decision": "raise pricing"}}, manager)
	require.NoError(t, err)
	close(gs.release)
	<-done

	lk, err := e.m.Retrieve(ctx, "contended", manager)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "raise pricing", lk.Record.Content["decision"])
}

func TestMediator_WriteDeniedByRoleReadsNothing(t *testing.T) {
	var cs *countingStore
	e := newEnv(t, envOptions{wrapStore: func(s store.Store) store.Store {
		cs = &countingStore{Store: s}
		return cs
	}})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("visible to readers", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	e.settle(t, res.ID)
	gets := cs.gets.Load()

	for _, id := range []string{res.ID, "never-stored"} {
		_, err = e.m.Update(ctx, id, model.Patch{Metadata: map[string]interface{}{"k": "v"}}, reader)
		assert.True(t, model.IsAuthorizationError(err), "update %s: %v", id, err)
		err = e.m.Delete(ctx, id, reader)
		assert.True(t, model.IsAuthorizationError(err), "delete %s: %v", id, err)
	}
	assert.Equal(t, gets, cs.gets.Load(), "denied by role before any durable read")

	lk, err := e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	assert.True(t, lk.Found)
}

func TestMediator_UpdateAndDeleteFailFastWhenStoreIsDown(t *testing.T) {
	var cs *countingStore
	e := newEnv(t, envOptions{
		storeHealth: staticHealth(false),
		wrapStore: func(s store.Store) store.Store {
			cs = &countingStore{Store: s}
			return cs
		},
	})
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := e.store.Append(ctx, &model.Record{ID: "warm", Type: model.TypeInsight, Namespace: "team-a", OwnerID: "alice",
		Content: map[string]interface{}{"text": "cached copy"}, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	lk, err := e.m.Retrieve(ctx, "warm", alice)
	require.NoError(t, err)
	require.True(t, lk.Found)
	gets := cs.gets.Load()

	_, err = e.m.Update(ctx, "warm", model.Patch{Content: map[string]interface{}{"text": "lost"}}, alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err), "%v", err)
	assert.True(t, model.Retryable(err))

	err = e.m.Delete(ctx, "warm", alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err), "%v", err)
	assert.Equal(t, gets, cs.gets.Load(), "nothing read from an unavailable store")

	hits := e.cache.Stats().Hits
	lk, err = e.m.Retrieve(ctx, "warm", alice)
	require.NoError(t, err)
	require.True(t, lk.Found)
	assert.Equal(t, "cached copy", lk.Record.Content["text"])
	assert.Equal(t, hits+1, e.cache.Stats().Hits, "cache entry left in place")
}

func TestMediator_UpdateAndDeleteSurfaceAppendFailures(t *testing.T) {
	var bs *brokenAppendStore
	e := newEnv(t, envOptions{wrapStore: func(s store.Store) store.Store {
		bs = &brokenAppendStore{Store: s}
		return bs
	}})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("durable before the outage", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	e.settle(t, res.ID)
	bs.broken.Store(true)

	_, err = e.m.Update(ctx, res.ID, model.Patch{Content: map[string]interface{}{"text": "never lands"}}, alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err), "%v", err)
	assert.True(t, model.Retryable(err))

	err = e.m.Delete(ctx, res.ID, alice)
	require.Error(t, err)
	assert.True(t, model.IsDurabilityError(err), "%v", err)

	hits := e.cache.Stats().Hits
	lk, err := e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	require.True(t, lk.Found, "failed delete leaves the record live")
	assert.Equal(t, "durable before the outage", lk.Record.Content["text"])
	assert.Equal(t, hits+1, e.cache.Stats().Hits, "served from the untouched cache entry")

	durable, err := e.store.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, durable.Deleted)
	assert.Equal(t, "durable before the outage", durable.Content["text"])
}

func TestMediator_RejectsDegenerateVectors(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("indexed", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	e.settle(t, res.ID)

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for name, vec := range map[string][]float32{
		"zero":     {0, 0, 0, 0},
		"nan":      {nan, 1, 0, 0},
		"infinite": {inf, 0, 0, 0},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := e.m.Search(ctx, SearchQuery{QueryVector: vec}, alice)
			assert.True(t, model.IsValidationError(err), "query: %v", err)

			_, err = e.m.Store(ctx, insight("bad vector", vec...), alice)
			assert.True(t, model.IsValidationError(err), "store: %v", err)

			_, err = e.m.Update(ctx, res.ID, model.Patch{Embedding: vec}, alice)
			assert.True(t, model.IsValidationError(err), "update: %v", err)
		})
	}

	t.Run("embedder returning zero vector is an embedder failure", func(t *testing.T) {
		e := newEnv(t, envOptions{embedder: fakeEmbedder{vec: make([]float32, dims)}})
		res, err := e.m.Store(ctx, insight("no usable vector"), alice)
		require.NoError(t, err)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, TierEmbedder, res.Warnings[0].Tier)
	})
}

func TestMediator_DeleteUnknownIsNotFound(t *testing.T) {
	e := newEnv(t, envOptions{})
	err := e.m.Delete(context.Background(), "nope", alice)
	assert.True(t, model.IsNotFoundError(err))
}

func TestMediator_SearchFallsBackWhenIndexFails(t *testing.T) {
	e := newEnv(t, envOptions{wrapIndex: func(x searchindex.Index) searchindex.Index { return failingIndex{x} }})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("still findable", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	e.settle(t, res.ID)

	found, err := e.m.Search(ctx, SearchQuery{QueryVector: []float32{1, 0, 0, 0}}, alice)
	require.NoError(t, err)
	assert.Equal(t, ModeStructural, found.Mode)
	assert.True(t, found.Degraded)
	require.Len(t, found.Warnings, 1)
	assert.Equal(t, TierIndex, found.Warnings[0].Tier)
	require.Len(t, found.Records, 1)
	assert.Equal(t, res.ID, found.Records[0].Record.ID)
}

func TestMediator_SearchWithoutIndexReportsCapability(t *testing.T) {
	e := newEnv(t, envOptions{noIndex: true})
	assert.False(t, e.m.Capabilities().Index)
	assert.Empty(t, e.m.Capabilities().IndexDriver)

	found, err := e.m.Search(context.Background(), SearchQuery{QueryVector: []float32{1, 0, 0, 0}}, alice)
	require.NoError(t, err)
	assert.True(t, found.Degraded)
	assert.Equal(t, "not configured", found.Warnings[0].Reason)
}

func TestMediator_StructuralSearch(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	ev, err := e.m.Store(ctx, &model.Record{Type: model.TypeEvent, Content: map[string]interface{}{"text": "call ended"}}, alice)
	require.NoError(t, err)
	in, err := e.m.Store(ctx, insight("pattern", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	e.settle(t, ev.ID)
	e.settle(t, in.ID)

	found, err := e.m.Search(ctx, SearchQuery{Filters: model.Filters{Types: []model.MemoryType{model.TypeEvent}}}, alice)
	require.NoError(t, err)
	assert.Equal(t, ModeStructural, found.Mode)
	assert.False(t, found.Degraded)
	require.Len(t, found.Records, 1)
	assert.Equal(t, ev.ID, found.Records[0].Record.ID)

	found, err = e.m.Search(ctx, SearchQuery{Limit: 1}, alice)
	require.NoError(t, err)
	assert.Len(t, found.Records, 1)

	_, err = e.m.Search(ctx, SearchQuery{Filters: model.Filters{Types: []model.MemoryType{"Memo"}}}, alice)
	assert.True(t, model.IsValidationError(err))

	_, err = e.m.Search(ctx, SearchQuery{QueryVector: []float32{1}}, alice)
	assert.True(t, model.IsValidationError(err))
}

func TestMediator_SearchTextUsesEmbedder(t *testing.T) {
	e := newEnv(t, envOptions{embedder: fakeEmbedder{vec: []float32{0, 0, 0, 1}}})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("embedded on write"), alice)
	require.NoError(t, err)
	e.settle(t, res.ID)

	found, err := e.m.Search(ctx, SearchQuery{QueryText: "anything"}, alice)
	require.NoError(t, err)
	assert.Equal(t, ModeSimilarity, found.Mode)
	require.Len(t, found.Records, 1)
	assert.Equal(t, res.ID, found.Records[0].Record.ID)
}

func TestMediator_StatsIsAdminOnly(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("observed", 1, 0, 0, 0), alice)
	require.NoError(t, err)
	_, err = e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	e.settle(t, res.ID)

	_, err = e.m.Stats(ctx, alice)
	assert.True(t, model.IsAuthorizationError(err))

	st, err := e.m.Stats(ctx, manager)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Cache.Hits)
	assert.Contains(t, st.Latency, TierCache)
	assert.Positive(t, st.Latency[TierCache].Count)
	assert.GreaterOrEqual(t, st.Latency[TierCache].P99Ms, st.Latency[TierCache].P50Ms)
	assert.Equal(t, 0, st.QueueDepth)
	assert.Zero(t, st.DeadLetters)
	assert.Equal(t, Capabilities{Cache: true, Index: true, StoreDriver: "sqlite", IndexDriver: "chromem"}, st.Capabilities)
}

func TestMediator_PurgeIsExecutiveOnly(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	res, err := e.m.Store(ctx, insight("to be purged", 1, 0, 0, 0), alice)
	require.NoError(t, err)

	assert.True(t, model.IsAuthorizationError(e.m.Purge(ctx, res.ID, manager)))
	require.NoError(t, e.m.Purge(ctx, res.ID, executive))

	_, err = e.store.Get(ctx, res.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	lk, err := e.m.Retrieve(ctx, res.ID, alice)
	require.NoError(t, err)
	assert.False(t, lk.Found)
	assert.True(t, model.IsNotFoundError(e.m.Purge(ctx, res.ID, executive)))
}

func intPtr(v int) *int { return &v }
