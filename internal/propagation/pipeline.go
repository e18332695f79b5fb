// Package propagation carries accepted writes from the mediator to the
// durable store and the similarity index. Changes are sharded by record id so
// every id is applied in order while different ids proceed in parallel.
// Changes that keep failing are dead-lettered in the durable store and can be
// replayed later.
package propagation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Change is one accepted write.
type Change struct {
	Op     string // store.OpUpsert or store.OpDelete
	Record *model.Record
	// Targets lists the tiers still to be written, store.TargetStore and/or
	// store.TargetIndex.
	Targets []string
}

// Config sizes the pipeline. Per-tier concurrency belongs to the appliers.
type Config struct {
	Executor ExecutorConfig
}

// Pipeline fans changes out to the configured appliers.
type Pipeline struct {
	exec        *ShardExecutor
	appliers    map[string]Applier
	deadLetters store.DeadLetters
	metrics     *Metrics
	maxAttempts int
	log         zerolog.Logger

	mu      sync.Mutex
	pending map[string]*model.Record
}

// New builds a pipeline. A nil applier leaves that target unconfigured and
// changes for it are skipped. deadLetters may be nil, in which case
// exhausted changes are logged and counted only.
func New(cfg Config, storeApplier, indexApplier Applier, deadLetters store.DeadLetters, reg prometheus.Registerer, log zerolog.Logger) *Pipeline {
	p := &Pipeline{
		appliers:    make(map[string]Applier, 2),
		deadLetters: deadLetters,
		metrics:     NewMetrics(reg),
		log:         log.With().Str("component", "propagation").Logger(),
		pending:     make(map[string]*model.Record),
	}
	for _, a := range []Applier{storeApplier, indexApplier} {
		if a != nil {
			p.appliers[a.Target()] = a
		}
	}
	ec := cfg.Executor
	ec.GiveUp = p.giveUp
	ec.applyDefaults()
	p.maxAttempts = ec.MaxAttempts
	p.exec = NewShardExecutor(ec, p.metrics, p.log)

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "memory_mediator",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Jobs queued or running across all shards.",
	}, func() float64 { return float64(p.exec.Depth()) })
	return p
}

// Submit enqueues c for every configured target. Jobs for one change are
// queued back to back on the same shard, so the store sees a version before
// the index does. An error means nothing was queued. Once the first target is
// queued, a target the executor refuses is dead-lettered instead, so the
// change is never half accepted.
func (p *Pipeline) Submit(ctx context.Context, c Change) error {
	if c.Record == nil || c.Record.ID == "" {
		return fmt.Errorf("propagation: change without record id")
	}
	rec := c.Record.Clone()
	queued := false
	for _, target := range c.Targets {
		if _, ok := p.appliers[target]; !ok {
			continue
		}
		if target == store.TargetStore {
			p.remember(rec)
		}
		err := p.exec.Submit(ctx, &applyJob{p: p, target: target, op: c.Op, rec: rec})
		if err == nil {
			queued = true
			continue
		}
		if target == store.TargetStore {
			p.settle(rec)
		}
		if !queued {
			return err
		}
		p.deadLetter(target, c.Op, rec, err, 0)
	}
	return nil
}

// Pending returns the newest version of id accepted but not yet settled in
// the durable store.
func (p *Pipeline) Pending(id string) (*model.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.pending[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Barrier waits until every change submitted for id so far has been handled.
func (p *Pipeline) Barrier(ctx context.Context, id string) error {
	return p.exec.Barrier(ctx, id)
}

// Depth is the number of jobs queued or running.
func (p *Pipeline) Depth() int { return p.exec.Depth() }

// HasTarget reports whether an applier is configured for target.
func (p *Pipeline) HasTarget(target string) bool {
	_, ok := p.appliers[target]
	return ok
}

// Close drains the queues. Jobs still failing after the drain are dead-lettered.
func (p *Pipeline) Close() { p.exec.Stop() }

// apply runs one change against one target and records the outcome.
func (p *Pipeline) apply(ctx context.Context, target, op string, rec *model.Record) error {
	a, ok := p.appliers[target]
	if !ok {
		return Permanent(fmt.Errorf("propagation: no applier for target %q", target))
	}
	start := time.Now()
	applied, err := a.Apply(ctx, op, rec)
	p.metrics.applyDuration.WithLabelValues(target).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.applied.WithLabelValues(target, "error").Inc()
		return err
	}
	outcome := "applied"
	if !applied {
		outcome = "discarded"
	}
	p.metrics.applied.WithLabelValues(target, outcome).Inc()
	return nil
}

func (p *Pipeline) giveUp(job Job, err error) {
	j, ok := job.(*applyJob)
	if !ok {
		p.log.Error().Err(err).Str("key", job.Key()).Msg("unknown job abandoned")
		return
	}
	if j.target == store.TargetStore {
		defer p.settle(j.rec)
	}
	p.deadLetter(j.target, j.op, j.rec, err, p.maxAttempts)
}

// deadLetter persists a change for target that will not be applied now.
// attempts is zero for changes the executor never accepted.
func (p *Pipeline) deadLetter(target, op string, rec *model.Record, err error, attempts int) {
	p.metrics.deadLetters.WithLabelValues(target).Inc()

	lg := p.log.With().Str("id", rec.ID).Str("target", target).Str("op", op).Logger()
	if p.deadLetters == nil {
		p.metrics.deadLetterLost.Inc()
		lg.Error().Err(err).Msg("change abandoned without a dead-letter sink")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dl := &store.DeadLetter{
		Target:       target,
		Op:           op,
		Record:       rec,
		LastError:    err.Error(),
		AttemptCount: attempts,
	}
	if perr := p.deadLetters.Put(ctx, dl); perr != nil {
		p.metrics.deadLetterLost.Inc()
		lg.Error().Err(perr).AnErr("cause", err).Msg("failed to persist dead letter")
		return
	}
	lg.Warn().Err(err).Int("attempts", attempts).Msg("change dead-lettered")
}

func (p *Pipeline) remember(rec *model.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pending[rec.ID]; ok && !rec.NewerThan(cur) {
		return
	}
	p.pending[rec.ID] = rec
}

// settle forgets rec once its store job is done, unless a newer version is
// already waiting behind it.
func (p *Pipeline) settle(rec *model.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pending[rec.ID]; ok && cur.UpdatedAt.Equal(rec.UpdatedAt) {
		delete(p.pending, rec.ID)
	}
}

type applyJob struct {
	p      *Pipeline
	target string
	op     string
	rec    *model.Record
}

func (j *applyJob) Key() string { return j.rec.ID }

func (j *applyJob) Run(ctx context.Context) error {
	if err := j.p.apply(ctx, j.target, j.op, j.rec); err != nil {
		return err
	}
	if j.target == store.TargetStore {
		j.p.settle(j.rec)
	}
	return nil
}
