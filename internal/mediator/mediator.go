// Package mediator is the single entry point to memory. It composes the
// access policy with the three tiers: writes go through the cache and the
// propagation pipeline, reads fall back from the cache to the durable store,
// and similarity search falls back to structural search when the index is
// unavailable.
package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/access"
	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/embeddings"
	"github.com/ai-cherry/memory-mediator/internal/health"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Tier labels used in metrics, warnings and capabilities.
const (
	TierCache    = "cache"
	TierIndex    = "similarity_index"
	TierStore    = "durable_store"
	TierEmbedder = "embedder"
)

// Config holds the knobs that shape mediator behaviour.
type Config struct {
	// Dimensions is the fixed embedding length of every collection.
	Dimensions     int
	ScoreThreshold float32
	SearchLimit    int
	StoreDriver    string
	IndexDriver    string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Deps are the collaborators. Store and Pipeline are required; a nil Cache,
// Index or Embedder means that capability was not configured.
type Deps struct {
	Cache    *cache.Cache
	Store    store.Store
	Index    searchindex.Index
	Pipeline *propagation.Pipeline
	Embedder embeddings.Provider

	// Health gates; nil means the tier is assumed healthy.
	StoreHealth health.HealthChecker
	IndexHealth health.HealthChecker

	// Registry receives the mediator metrics and is read back by Stats.
	Registry *prometheus.Registry
	Log      zerolog.Logger
}

// Capabilities lists the tiers the mediator was configured with at startup.
type Capabilities struct {
	Cache       bool   `json:"cache"`
	Index       bool   `json:"similarity_index"`
	Embedder    bool   `json:"embedder"`
	StoreDriver string `json:"store_driver"`
	IndexDriver string `json:"index_driver,omitempty"`
}

// Mediator orchestrates the memory use cases.
type Mediator struct {
	cfg      Config
	cache    *cache.Cache
	store    store.Store
	index    searchindex.Index
	pipeline *propagation.Pipeline
	embedder embeddings.Provider

	storeHealth health.HealthChecker
	indexHealth health.HealthChecker

	registry *prometheus.Registry
	metrics  *metrics
	log      zerolog.Logger
}

// New wires a Mediator. It owns the cache and the pipeline and releases them
// in Close.
func New(cfg Config, d Deps) (*Mediator, error) {
	if d.Store == nil {
		return nil, errors.New("mediator: durable store is required")
	}
	if d.Pipeline == nil {
		return nil, errors.New("mediator: propagation pipeline is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("mediator: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = searchindex.DefaultThreshold
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	m := &Mediator{
		cfg:         cfg,
		cache:       d.Cache,
		store:       d.Store,
		index:       d.Index,
		pipeline:    d.Pipeline,
		embedder:    d.Embedder,
		storeHealth: d.StoreHealth,
		indexHealth: d.IndexHealth,
		registry:    d.Registry,
		log:         d.Log.With().Str("component", "mediator").Logger(),
	}
	m.metrics = newMetrics(d.Registry, d.Cache)
	return m, nil
}

// Capabilities reports which tiers are configured.
func (m *Mediator) Capabilities() Capabilities {
	c := Capabilities{
		Cache:       m.cache != nil,
		Index:       m.index != nil,
		Embedder:    m.embedder != nil,
		StoreDriver: m.cfg.StoreDriver,
	}
	if c.Index {
		c.IndexDriver = m.cfg.IndexDriver
	}
	return c
}

// Registry exposes the metrics registry for the /metrics endpoint.
func (m *Mediator) Registry() *prometheus.Registry { return m.registry }

// Close drains the pipeline and releases the cache.
func (m *Mediator) Close() {
	m.pipeline.Close()
	if m.cache != nil {
		m.cache.Close()
	}
}

// now returns the mediator clock truncated to what every tier can store.
func (m *Mediator) now() time.Time {
	return m.cfg.Now().UTC().Truncate(time.Microsecond)
}

// nextVersion returns a timestamp strictly after prev.
func (m *Mediator) nextVersion(prev time.Time) time.Time {
	now := m.now()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

func (m *Mediator) storeUp() bool { return m.storeHealth == nil || m.storeHealth.IsHealthy() }

func (m *Mediator) indexUp() bool {
	return m.index != nil && (m.indexHealth == nil || m.indexHealth.IsHealthy())
}

func (m *Mediator) authorize(p model.Principal, typ model.MemoryType, op model.Operation, relation model.Scope) error {
	err := access.Check(access.Request{Role: p.Role, Type: typ, Operation: op, Relation: relation})
	if err != nil {
		m.metrics.denied.WithLabelValues(string(op)).Inc()
		m.log.Info().Str("principal", p.ID).Str("role", string(p.Role)).Str("type", string(typ)).
			Str("op", string(op)).Str("relation", relation.String()).Msg("access denied")
	}
	return err
}

// latest returns the newest known version of id: the durable copy, or a newer
// accepted version still on its way there.
func (m *Mediator) latest(ctx context.Context, id string) (*model.Record, error) {
	start := time.Now()
	rec, err := m.store.Get(ctx, id)
	m.metrics.observe(TierStore, start)
	pending, ok := m.pipeline.Pending(id)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		rec = nil
	case ok:
		m.log.Warn().Err(err).Str("id", id).Msg("durable read failed, serving pending version")
		return pending, nil
	default:
		return nil, err
	}
	if ok && pending.NewerThan(rec) {
		rec = pending
	}
	if rec == nil {
		return nil, model.ErrNotFound
	}
	return rec, nil
}

// durabilityFailure converts a tier error into the caller-facing taxonomy.
func durabilityFailure(op string, err error) error {
	if err = model.ClassifyContextError(op, err); model.IsTimeoutError(err) {
		return err
	}
	return model.NewDurabilityError(op, err)
}

func (m *Mediator) finish(op string, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case model.IsAuthorizationError(err):
		outcome = "denied"
	case model.IsValidationError(err):
		outcome = "invalid"
	case model.IsNotFoundError(err):
		outcome = "not_found"
	case model.IsTimeoutError(err):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	m.metrics.operations.WithLabelValues(op, outcome).Inc()
	return err
}
