package propagation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Job is a unit of work executed by a ShardExecutor.
type Job interface {
	Key() string
	Run(ctx context.Context) error
}

// ExecutorConfig tunes a ShardExecutor. Zero values take defaults.
type ExecutorConfig struct {
	Shards         int
	QueueSize      int
	EnqueueTimeout time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds a single Run call.
	AttemptTimeout time.Duration
	// GiveUp receives every job that exhausted its attempts or failed permanently.
	GiveUp func(job Job, err error)
}

func (c *ExecutorConfig) applyDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 100 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 20 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
}

// ShardExecutor runs jobs on workers partitioned by a stable hash of the job
// key. Jobs with the same key run one at a time in submission order; jobs
// with different keys may run in parallel.
type ShardExecutor struct {
	cfg     ExecutorConfig
	queues  []chan Job
	done    chan struct{}
	closed  atomic.Bool
	running atomic.Int64
	metrics *Metrics
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewShardExecutor constructs the executor and starts its shard workers.
func NewShardExecutor(cfg ExecutorConfig, m *Metrics, log zerolog.Logger) *ShardExecutor {
	cfg.applyDefaults()
	p := &ShardExecutor{
		cfg:     cfg,
		queues:  make([]chan Job, cfg.Shards),
		done:    make(chan struct{}),
		metrics: m,
		log:     log,
	}
	for i := 0; i < cfg.Shards; i++ {
		ch := make(chan Job, cfg.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.runWorker(i, ch)
	}
	return p
}

// Submit enqueues job on the shard derived from its key.
//
//   - ErrExecutorClosed after Stop.
//   - *QueueFullError when the shard stays full for EnqueueTimeout.
//   - ctx.Err() when the caller gives up first.
func (p *ShardExecutor) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	select {
	case <-p.done:
		return ErrExecutorClosed
	default:
	}

	shard := p.shardFor(job.Key())
	ch := p.queues[shard]

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case ch <- job:
		p.metrics.submissions.WithLabelValues(strconv.Itoa(shard)).Inc()
		return nil
	case <-p.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		p.metrics.queueFull.WithLabelValues(strconv.Itoa(shard)).Inc()
		return &QueueFullError{Shard: shard, Length: len(ch), Capacity: cap(ch)}
	}
}

// Barrier waits until every job submitted for key before the call has finished.
func (p *ShardExecutor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	if err := p.Submit(ctx, barrierJob{key: key, done: done}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Depth is the number of queued plus running jobs.
func (p *ShardExecutor) Depth() int {
	n := int(p.running.Load())
	for _, ch := range p.queues {
		n += len(ch)
	}
	return n
}

// Stop rejects new work, drains every queue and waits for the workers. It is
// idempotent and safe for concurrent use.
func (p *ShardExecutor) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.log.Info().Int("shards", p.cfg.Shards).Int("depth", p.Depth()).Msg("stopping executor, draining shards")
	close(p.done)
	p.wg.Wait()
	p.log.Info().Msg("executor stopped, all queues drained")
}

func (p *ShardExecutor) runWorker(idx int, ch <-chan Job) {
	defer p.wg.Done()
	for {
		select {
		case job := <-ch:
			p.execute(job, true)
		case <-p.done:
			// Drain remaining jobs in FIFO order with a single attempt each;
			// failures still reach GiveUp.
			drained := 0
			for {
				select {
				case job := <-ch:
					p.execute(job, false)
					drained++
				default:
					if drained > 0 {
						p.log.Info().Int("shard", idx).Int("drained", drained).Msg("shard drained")
					}
					return
				}
			}
		}
	}
}

func (p *ShardExecutor) execute(job Job, retry bool) {
	if job == nil {
		return
	}
	p.running.Add(1)
	defer p.running.Add(-1)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = p.cfg.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := p.runOnce(job)
		if err == nil {
			return
		}
		if isPermanent(err) || !retry || attempt >= p.cfg.MaxAttempts {
			p.giveUp(job, err)
			return
		}
		p.metrics.retries.Inc()
		p.log.Debug().Err(err).Str("key", job.Key()).Int("attempt", attempt).Msg("job failed, retrying")
		select {
		case <-time.After(exp.NextBackOff()):
		case <-p.done:
			// One last try during shutdown, then hand the job over.
			retry = false
		}
	}
}

func (p *ShardExecutor) runOnce(job Job) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("key", job.Key()).Msg("job panicked")
			err = Permanent(panicError{value: r})
		}
	}()
	return job.Run(ctx)
}

func (p *ShardExecutor) giveUp(job Job, err error) {
	if p.cfg.GiveUp == nil {
		p.log.Error().Err(err).Str("key", job.Key()).Msg("job abandoned")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("give-up handler panic")
		}
	}()
	p.cfg.GiveUp(job, err)
}

func (p *ShardExecutor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.cfg.Shards))
}

type barrierJob struct {
	key  string
	done chan struct{}
}

func (b barrierJob) Key() string { return b.key }

func (b barrierJob) Run(context.Context) error {
	close(b.done)
	return nil
}

type panicError struct{ value interface{} }

func (e panicError) Error() string { return fmt.Sprintf("job panicked: %v", e.value) }
