package propagation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/store"
)

// ReplayConfig controls batch size and polling cadence.
type ReplayConfig struct {
	BatchSize int           // letters leased per cycle
	Interval  time.Duration // poll interval for Run
	Lease     time.Duration // how long a leased letter stays hidden from other replayers
	Timeout   time.Duration // per-letter apply timeout
}

// ReplayReport summarizes one replay cycle.
type ReplayReport struct {
	Leased   int `json:"leased"`
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// Replayer re-applies dead letters through the pipeline's appliers.
type Replayer struct {
	p   *Pipeline
	dl  store.DeadLetters
	cfg ReplayConfig
	log zerolog.Logger
}

// NewReplayer constructs a Replayer from dependencies.
func NewReplayer(p *Pipeline, dl store.DeadLetters, cfg ReplayConfig, log zerolog.Logger) *Replayer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Replayer{p: p, dl: dl, cfg: cfg, log: log.With().Str("component", "replayer").Logger()}
}

// Run replays on every tick until ctx is canceled.
func (r *Replayer) Run(ctx context.Context) error {
	r.log.Info().Int("batch", r.cfg.BatchSize).Dur("interval", r.cfg.Interval).Msg("dead-letter replayer starting")
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("dead-letter replayer stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReplayOnce(ctx); err != nil {
				// per-letter backoff prevents hot-looping
				r.log.Error().Err(err).Msg("replay cycle")
			}
		}
	}
}

// ReplayOnce leases one batch and applies it. Successful letters are acked;
// failures are backed off in the store.
func (r *Replayer) ReplayOnce(ctx context.Context) (ReplayReport, error) {
	var rep ReplayReport
	letters, err := r.dl.Lease(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return rep, err
	}
	rep.Leased = len(letters)

	for _, d := range letters {
		if err := r.replay(ctx, d); err != nil {
			rep.Failed++
			r.p.metrics.replayed.WithLabelValues("failed").Inc()
			if e := r.dl.Fail(ctx, d.ID, err.Error()); e != nil {
				r.log.Error().Err(e).Int64("dead_letter", d.ID).Msg("mark failed")
			}
			continue
		}
		rep.Replayed++
		r.p.metrics.replayed.WithLabelValues("replayed").Inc()
		if e := r.dl.Ack(ctx, d.ID); e != nil {
			r.log.Error().Err(e).Int64("dead_letter", d.ID).Msg("ack")
		}
	}
	if rep.Leased > 0 {
		r.log.Info().Int("leased", rep.Leased).Int("replayed", rep.Replayed).Int("failed", rep.Failed).Msg("replay cycle done")
	}
	return rep, nil
}

func (r *Replayer) replay(ctx context.Context, d *store.DeadLetter) error {
	if d.Record == nil {
		return Permanent(errMissingRecord)
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return r.p.apply(actx, d.Target, d.Op, d.Record)
}
