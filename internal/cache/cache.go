// Package cache is the Tier-1 client: an in-process ristretto cache holding
// JSON-serialized records keyed by (namespace, id), with per-id coalescing of
// concurrent misses and version-fenced backfills.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// ErrRejected is returned when the cache declines to admit an entry.
var ErrRejected = errors.New("cache: entry rejected")

// Config sizes the cache.
type Config struct {
	MaxItems int64
	// FetchTimeout bounds a coalesced miss fetch independently of the caller
	// that happened to start it.
	FetchTimeout time.Duration
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// genStripes is the number of invalidation generations ids hash onto.
const genStripes = 256

// generation counts invalidations for the ids hashed onto one stripe.
type generation struct {
	mu sync.Mutex
	n  uint64
}

// Cache owns one ristretto instance. It is created per mediator and closed
// with it.
type Cache struct {
	rc    *ristretto.Cache
	group singleflight.Group
	cfg   Config
	log   zerolog.Logger
	gens  [genStripes]generation

	hits   atomic.Uint64
	misses atomic.Uint64
	closed atomic.Bool
}

// New constructs a Cache.
func New(cfg Config, log zerolog.Logger) (*Cache, error) {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 100_000
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.MaxItems * 10,
		MaxCost:            cfg.MaxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{rc: rc, cfg: cfg, log: log}, nil
}

func recordKey(namespace, id string) string { return "r/" + namespace + "/" + id }
func aliasKey(id string) string             { return "a/" + id }

// Get returns the cached record for (namespace, id).
func (c *Cache) Get(_ context.Context, namespace, id string) (*model.Record, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	v, ok := c.rc.Get(recordKey(namespace, id))
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	raw, ok := v.([]byte)
	if !ok {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("cache: unexpected value type %T", v)
	}
	var rec model.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("cache: decode %s: %w", id, err)
	}
	c.hits.Add(1)
	return &rec, true, nil
}

// Locate returns the namespace an id was last cached under.
func (c *Cache) Locate(id string) (string, bool) {
	if c.closed.Load() {
		return "", false
	}
	v, ok := c.rc.Get(aliasKey(id))
	if !ok {
		return "", false
	}
	ns, ok := v.(string)
	return ns, ok
}

// GetByID resolves the namespace id was cached under and returns the entry.
// An unknown id counts as a miss.
func (c *Cache) GetByID(ctx context.Context, id string) (*model.Record, bool, error) {
	ns, ok := c.Locate(id)
	if !ok {
		if c.closed.Load() {
			return nil, false, ErrClosed
		}
		c.misses.Add(1)
		return nil, false, nil
	}
	return c.Get(ctx, ns, id)
}

func (c *Cache) stripe(id string) *generation {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &c.gens[h.Sum32()%genStripes]
}

// Set writes rec through to the cache and waits until it is readable.
// The TTL comes from the record or its type default.
func (c *Cache) Set(_ context.Context, rec *model.Record) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.set(rec)
}

func (c *Cache) set(rec *model.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", rec.ID, err)
	}
	ttl := rec.TTL()
	okRec := c.rc.SetWithTTL(recordKey(rec.Namespace, rec.ID), raw, 1, ttl)
	okAlias := c.rc.SetWithTTL(aliasKey(rec.ID), rec.Namespace, 1, ttl)
	c.rc.Wait()
	if !okRec || !okAlias {
		return ErrRejected
	}
	return nil
}

// Invalidate drops (namespace, id) and fences off backfills of versions read
// before the call.
func (c *Cache) Invalidate(_ context.Context, namespace, id string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	g := c.stripe(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	c.rc.Del(recordKey(namespace, id))
	c.rc.Del(aliasKey(id))
	c.rc.Wait()
	return nil
}

// backfill caches rec unless its id was invalidated since gen was taken.
func (c *Cache) backfill(rec *model.Record, gen uint64) bool {
	if c.closed.Load() {
		return false
	}
	g := c.stripe(rec.ID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n != gen {
		return false
	}
	if err := c.set(rec); err != nil {
		c.log.Debug().Err(err).Str("id", rec.ID).Msg("backfill rejected")
		return false
	}
	return true
}

func (c *Cache) generation(id string) uint64 {
	g := c.stripe(id)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Load coalesces concurrent misses for the same (namespace, id): only one
// fetch runs, every waiter receives its result. Each waiter still honours its
// own context. The per-key slot is released as soon as fetch returns.
//
// A live record returned by fetch is written back to the cache, unless the id
// was invalidated while the fetch ran: the fetched version may predate the
// write that invalidated it. Tombstones are not cached.
func (c *Cache) Load(ctx context.Context, namespace, id string, fetch func(context.Context) (*model.Record, error)) (*model.Record, error) {
	key := recordKey(namespace, id)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		gen := c.generation(id)
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
		defer cancel()
		rec, err := fetch(fctx)
		if err != nil || rec == nil {
			return rec, err
		}
		if !rec.Deleted && !c.backfill(rec, gen) {
			c.log.Debug().Str("id", id).Msg("skipped backfill of a superseded read")
		}
		return rec, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*model.Record)
		if rec == nil {
			return nil, nil
		}
		if res.Shared {
			c.log.Debug().Str("id", id).Msg("coalesced cache miss")
		}
		return rec.Clone(), nil
	}
}

// Stats reports hit and miss counters since construction.
func (c *Cache) Stats() Stats {
	h, m := c.hits.Load(), c.misses.Load()
	s := Stats{Hits: h, Misses: m}
	if total := h + m; total > 0 {
		s.HitRate = float64(h) / float64(total)
	}
	return s
}

// HealthPing implements health.HealthPinger.
func (c *Cache) HealthPing(context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cache: closed")

// Close releases the ristretto goroutines. Safe to call more than once.
func (c *Cache) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.rc.Close()
	}
}
