package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(Config{MaxItems: 1000}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCache_SetGetInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	rec := &model.Record{ID: "r1", Type: model.TypeInsight, Namespace: "team-a", Content: map[string]interface{}{"text": "hi"}}

	require.NoError(t, c.Set(ctx, rec))

	got, ok, err := c.Get(ctx, "team-a", "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content["text"])

	ns, ok := c.Locate("r1")
	require.True(t, ok)
	assert.Equal(t, "team-a", ns)

	_, ok, _ = c.Get(ctx, "team-b", "r1")
	assert.False(t, ok, "keys are namespaced")

	require.NoError(t, c.Invalidate(ctx, "team-a", "r1"))
	_, ok, _ = c.Get(ctx, "team-a", "r1")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.InDelta(t, 1.0/3.0, s.HitRate, 0.001)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	ttl := 1
	rec := &model.Record{ID: "r1", Type: model.TypeConversationTurn, Namespace: "n", TTLSeconds: &ttl}
	require.NoError(t, c.Set(ctx, rec))

	_, ok, _ := c.Get(ctx, "n", "r1")
	require.True(t, ok)

	time.Sleep(1200 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "n", "r1")
	assert.False(t, ok, "entry should expire after its ttl")
}

func TestCache_LoadCoalescesConcurrentMisses(t *testing.T) {
	c := newTestCache(t)
	const callers = 25

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (*model.Record, error) {
		fetches.Add(1)
		<-release
		return &model.Record{ID: "x", Namespace: "n"}, nil
	}

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	results := make([]*model.Record, callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			rec, err := c.Load(context.Background(), "n", "x", fetch)
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	assert.Equal(t, int32(1), fetches.Load())
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "x", r.ID)
	}
	// waiters get independent copies
	results[0].Namespace = "mutated"
	assert.Equal(t, "n", results[1].Namespace)
}

func TestCache_LoadReleasesOnError(t *testing.T) {
	c := newTestCache(t)
	boom := errors.New("tier-3 down")

	_, err := c.Load(context.Background(), "n", "x", func(context.Context) (*model.Record, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	// the slot is free again: a second load runs a fresh fetch
	rec, err := c.Load(context.Background(), "n", "x", func(context.Context) (*model.Record, error) {
		return &model.Record{ID: "x"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "x", rec.ID)
}

func TestCache_LoadBackfillsUnlessInvalidated(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	v1 := &model.Record{ID: "r1", Type: model.TypeInsight, Namespace: "team-a", Content: map[string]interface{}{"text": "v1"}}

	_, err := c.Load(ctx, "", "r1", func(context.Context) (*model.Record, error) { return v1, nil })
	require.NoError(t, err)
	got, ok, err := c.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok, "a clean miss is backfilled")
	assert.Equal(t, "v1", got.Content["text"])

	// a write lands between the read and the backfill
	require.NoError(t, c.Invalidate(ctx, "team-a", "r1"))
	_, err = c.Load(ctx, "", "r1", func(context.Context) (*model.Record, error) {
		require.NoError(t, c.Invalidate(ctx, "team-a", "r1"))
		return v1, nil
	})
	require.NoError(t, err)
	_, ok, err = c.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "superseded read is not cached")

	tomb := v1.Clone()
	tomb.Deleted = true
	rec, err := c.Load(ctx, "", "r1", func(context.Context) (*model.Record, error) { return tomb, nil })
	require.NoError(t, err)
	assert.True(t, rec.Deleted)
	_, ok, err = c.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok, "tombstones are not cached")
}

func TestCache_LoadHonoursCallerContext(t *testing.T) {
	c := newTestCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	_, err := c.Load(ctx, "n", "slow", func(context.Context) (*model.Record, error) {
		<-release
		return nil, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_ClosedReturnsError(t *testing.T) {
	c, err := New(Config{MaxItems: 10}, zerolog.Nop())
	require.NoError(t, err)
	c.Close()
	c.Close()

	_, _, err = c.Get(context.Background(), "n", "x")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set(context.Background(), &model.Record{ID: "x"}), ErrClosed)
	assert.Error(t, c.HealthPing(context.Background()))
}

func TestCache_GetByIDCountsUnknownIDsAsMisses(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &model.Record{ID: "r1", Type: model.TypeEvent, Namespace: "team-a"}))

	got, ok, err := c.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "team-a", got.Namespace)

	_, ok, err = c.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Stats{Hits: 1, Misses: 1, HitRate: 0.5}, c.Stats())
}
