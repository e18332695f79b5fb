package mediator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/embeddings"
	"github.com/ai-cherry/memory-mediator/internal/health"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/chromemidx"
	"github.com/ai-cherry/memory-mediator/internal/store"
	"github.com/ai-cherry/memory-mediator/internal/store/sqlite"
)

const dims = 4

var (
	alice     = model.Principal{ID: "alice", Role: model.RoleContributor, Namespace: "team-a"}
	bob       = model.Principal{ID: "bob", Role: model.RoleContributor, Namespace: "team-a"}
	reader    = model.Principal{ID: "rory", Role: model.RoleReadOnly, Namespace: "team-a"}
	manager   = model.Principal{ID: "mia", Role: model.RoleManager, Namespace: "team-a"}
	executive = model.Principal{ID: "eve", Role: model.RoleExecutive, Namespace: "leadership"}
)

// countingStore counts durable point reads and can slow them down.
type countingStore struct {
	store.Store
	gets  atomic.Int32
	delay time.Duration
}

func (s *countingStore) Get(ctx context.Context, id string) (*model.Record, error) {
	s.gets.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.Store.Get(ctx, id)
}

// gatedStore parks the first durable Get after armed is set, once it has
// read, until release is closed.
type gatedStore struct {
	store.Store
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func newGatedStore(s store.Store) *gatedStore {
	return &gatedStore{Store: s, read: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) Get(ctx context.Context, id string) (*model.Record, error) {
	rec, err := s.Store.Get(ctx, id)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return rec, err
}

// brokenAppendStore fails every Append while broken is set.
type brokenAppendStore struct {
	store.Store
	broken  atomic.Bool
	appends atomic.Int32
}

func (s *brokenAppendStore) Append(ctx context.Context, rec *model.Record) (bool, error) {
	if s.broken.Load() {
		return false, errors.New("disk full")
	}
	s.appends.Add(1)
	return s.Store.Append(ctx, rec)
}

// failingIndex fails every query.
type failingIndex struct{ searchindex.Index }

func (failingIndex) Query(context.Context, model.VectorQuery) ([]model.ScoredID, error) {
	return nil, errors.New("index unreachable")
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vec, f.err }

type staticHealth bool

func (staticHealth) Name() string { return "static" }

func (h staticHealth) IsHealthy() bool { return bool(h) }

func (staticHealth) Start(context.Context, time.Duration) {}

type envOptions struct {
	wrapStore   func(store.Store) store.Store
	wrapIndex   func(searchindex.Index) searchindex.Index
	noIndex     bool
	embedder    embeddings.Provider
	storeHealth health.HealthChecker
}

type env struct {
	m        *Mediator
	store    store.Store
	cache    *cache.Cache
	pipeline *propagation.Pipeline
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	db, err := sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	var st store.Store = sqlite.NewWithDB(db)
	t.Cleanup(func() { _ = st.Close() })
	if opts.wrapStore != nil {
		st = opts.wrapStore(st)
	}

	var idx searchindex.Index
	if !opts.noIndex {
		cx, err := chromemidx.New("")
		require.NoError(t, err)
		idx = cx
		if opts.wrapIndex != nil {
			idx = opts.wrapIndex(idx)
		}
	}

	c, err := cache.New(cache.Config{MaxItems: 1000}, zerolog.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	var ia propagation.Applier
	if idx != nil {
		ia = propagation.NewIndexApplier(idx, 2)
	}
	pl := propagation.New(propagation.Config{Executor: propagation.ExecutorConfig{
		Shards: 2, QueueSize: 64, MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond,
	}}, propagation.NewStoreApplier(st, 2), ia, st.DeadLetters(), reg, zerolog.Nop())

	m, err := New(Config{Dimensions: dims, StoreDriver: "sqlite", IndexDriver: "chromem"}, Deps{
		Cache:       c,
		Store:       st,
		Index:       idx,
		Pipeline:    pl,
		Embedder:    opts.embedder,
		StoreHealth: opts.storeHealth,
		Registry:    reg,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &env{m: m, store: st, cache: c, pipeline: pl}
}

// settle waits until every queued change for id reached the tiers.
func (e *env) settle(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, e.pipeline.Barrier(context.Background(), id))
}

func insight(text string, vec ...float32) *model.Record {
	return &model.Record{
		Type:      model.TypeInsight,
		Namespace: "team-a",
		Content:   map[string]interface{}{"text": text},
		Embedding: vec,
		Metadata:  map[string]interface{}{"source": "call-analytics"},
	}
}
