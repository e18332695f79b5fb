package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/config"
	emb "github.com/ai-cherry/memory-mediator/internal/embeddings"
	"github.com/ai-cherry/memory-mediator/internal/health"
	"github.com/ai-cherry/memory-mediator/internal/mediator"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Components is a fully wired mediator together with the pieces the
// binaries need to run, replay and shut it down.
type Components struct {
	Mediator *mediator.Mediator
	Store    store.Store
	Index    searchindex.Index
	Pipeline *propagation.Pipeline
	Replayer *propagation.Replayer
	Registry *prometheus.Registry
	Health   *health.ServiceHealthChecker

	checkers []health.HealthChecker
	cfg      *config.Config
	log      zerolog.Logger
}

// Build constructs every tier selected by cfg and wires them into a
// Mediator. Health checkers are created but not started; see StartHealth.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Components, error) {
	st, err := NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}
	idx, err := NewSearchIndex(ctx, cfg, log)
	if err != nil {
		_ = st.Close()
		log.Error().Stack().Err(err).Msg("Search index adapter unavailable")
		return nil, err
	}
	c, err := NewCache(cfg, log)
	if err != nil {
		closeIndex(idx)
		_ = st.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	embedder := NewEmbeddingProvider(ctx, cfg, log)

	reg := prometheus.NewRegistry()
	var indexApplier propagation.Applier
	if idx != nil {
		indexApplier = propagation.NewIndexApplier(idx, int64(cfg.IndexConcurrency))
	}
	pl := propagation.New(propagation.Config{Executor: propagation.ExecutorConfig{
		Shards:         cfg.PipelineShards,
		QueueSize:      cfg.PipelineQueueSize,
		EnqueueTimeout: cfg.EnqueueTimeout(),
		MaxAttempts:    cfg.PipelineMaxAttempts,
		BaseBackoff:    cfg.BaseBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
	}}, propagation.NewStoreApplier(st, int64(cfg.StoreConcurrency)), indexApplier, st.DeadLetters(), reg, log)

	comps := &Components{
		Store:    st,
		Index:    idx,
		Pipeline: pl,
		Registry: reg,
		cfg:      cfg,
		log:      log,
	}
	storeHealth, indexHealth := comps.newCheckers(ctx, c, embedder)

	m, err := mediator.New(mediator.Config{
		Dimensions:     cfg.EmbedDimensions,
		ScoreThreshold: cfg.ScoreThreshold,
		SearchLimit:    cfg.SearchLimit,
		StoreDriver:    cfg.StoreDriver,
		IndexDriver:    cfg.IndexDriver,
	}, mediator.Deps{
		Cache:       c,
		Store:       st,
		Index:       idx,
		Pipeline:    pl,
		Embedder:    embedder,
		StoreHealth: storeHealth,
		IndexHealth: indexHealth,
		Registry:    reg,
		Log:         log,
	})
	if err != nil {
		pl.Close()
		if c != nil {
			c.Close()
		}
		closeIndex(idx)
		_ = st.Close()
		return nil, err
	}
	comps.Mediator = m
	comps.Replayer = propagation.NewReplayer(pl, st.DeadLetters(), propagation.ReplayConfig{
		BatchSize: cfg.ReplayBatchSize,
		Interval:  time.Duration(cfg.ReplayIntervalSeconds) * time.Second,
	}, log)
	return comps, nil
}

// newCheckers builds one checker per configured tier. The store gates service
// health; the other tiers only degrade results. Store and index are probed
// once up front so the mediator does not start out treating them as down.
func (c *Components) newCheckers(ctx context.Context, cc *cache.Cache, embedder emb.Provider) (storeHealth, indexHealth health.HealthChecker) {
	probeTimeout := time.Duration(c.cfg.HealthProbeTimeoutSeconds) * time.Second

	sh := store.NewStoreHealthChecker(c.Store, c.log, probeTimeout)
	sh.Probe(ctx)
	c.checkers = append(c.checkers, sh)
	svc := health.NewServiceHealthChecker(c.log, sh)

	if c.Index != nil {
		ih := searchindex.NewSearchIndexHealthChecker(c.Index, c.log, probeTimeout)
		ih.Probe(ctx)
		c.checkers = append(c.checkers, ih)
		svc.WithOptional(ih)
		indexHealth = ih
	}
	if cc != nil {
		ch := health.NewPingChecker("cache", cc, c.log, probeTimeout)
		c.checkers = append(c.checkers, ch)
		svc.WithOptional(ch)
	}
	if embedder != nil {
		eh := emb.NewProviderHealthChecker(embedder, c.log, probeTimeout)
		c.checkers = append(c.checkers, eh)
		svc.WithOptional(eh)
	}
	c.Health = svc
	return sh, indexHealth
}

// StartHealth starts every component checker and the service aggregator.
func (c *Components) StartHealth(ctx context.Context) {
	interval := time.Duration(c.cfg.HealthIntervalSeconds) * time.Second
	for _, hc := range c.checkers {
		go hc.Start(ctx, interval)
	}
	go c.Health.Start(ctx, interval)
}

// Close drains the pipeline and releases every tier.
func (c *Components) Close() error {
	if c.Mediator != nil {
		c.Mediator.Close()
	}
	closeIndex(c.Index)
	return c.Store.Close()
}

func closeIndex(idx searchindex.Index) {
	if cl, ok := idx.(interface{ Close() }); ok {
		cl.Close()
	}
}
