// Package client is a thin retrying client for the memory mediator's REST
// API. Synchronous calls retry transient failures with exponential backoff.
// Async writes are queued per key (record id, or namespace for new records)
// and applied in submission order.
package client

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/client/internal/api"
	"github.com/ai-cherry/memory-mediator/client/internal/job"
	"github.com/ai-cherry/memory-mediator/internal/auth"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// executor is the async job runner behind the *Async methods.
type executor interface {
	Submit(ctx context.Context, job propagation.Job) error
	Barrier(ctx context.Context, key string) error
	Stop()
}

type Client struct {
	baseURL   string
	http      *http.Client
	exec      executor
	principal model.Principal
	token     string
	debug     bool
	log       zerolog.Logger
	reg       prometheus.Registerer
	metrics   *metrics
	execCfg   propagation.ExecutorConfig
	onFailure func(key string, err error)
	retry     RetryPolicy

	closed atomic.Bool
}

// New constructs a Client acting as principal against the mediator at baseURL.
// It panics on an empty baseURL, an incomplete principal or a failing option.
func New(baseURL string, principal model.Principal, opts ...Option) *Client {
	if baseURL == "" {
		panic("baseURL cannot be empty")
	}
	if err := principal.Validate(); err != nil {
		panic(err)
	}

	c := &Client{
		baseURL:   baseURL,
		principal: principal,
		http:      &http.Client{Timeout: 30 * time.Second},
		log:       zerolog.Nop(),
		retry:     DefaultRetryPolicy(),
		execCfg:   propagation.ExecutorConfig{Shards: 4, QueueSize: 1000},
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			panic(err)
		}
	}
	if c.reg == nil {
		c.reg = prometheus.NewRegistry()
	}
	c.metrics = newMetrics(c.reg)

	if c.exec == nil {
		cfg := c.execCfg
		cfg.GiveUp = c.giveUp
		c.exec = propagation.NewShardExecutor(cfg, propagation.NewMetrics(c.reg), c.log.With().Str("component", "client_executor").Logger())
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if c.debug {
		base = &debugTransport{base: base}
	}
	c.http.Transport = &principalTransport{base: base, principal: principal, token: c.token}
	return c
}

// principalTransport stamps the caller identity on every request.
type principalTransport struct {
	base      http.RoundTripper
	principal model.Principal
	token     string
}

func (t *principalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	auth.SetHeaders(cloned.Header, t.principal)
	if t.token != "" {
		cloned.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(cloned)
}

// giveUp runs for async writes that exhausted their attempts or failed permanently.
func (c *Client) giveUp(j propagation.Job, err error) {
	c.metrics.asyncFailed.WithLabelValues(job.ShardLabel(j.Key())).Inc()
	if c.onFailure != nil {
		c.onFailure(j.Key(), err)
		return
	}
	c.log.Error().Err(err).Str("key", j.Key()).Msg("async write abandoned")
}

// Close drains queued async writes and stops the executor. Safe to call
// multiple times.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.exec.Stop()
	return nil
}

// AwaitConsistency blocks until every async write queued for key before the
// call has been sent and answered.
func (c *Client) AwaitConsistency(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.exec.Barrier(ctx, key)
}

// Store submits a new record. Only failures the mediator reports it did not
// act on are retried.
func (c *Client) Store(ctx context.Context, req StoreRequest) (*StoreResponse, error) {
	var out *StoreResponse
	err := c.withRetry(ctx, "store", false, func() (err error) {
		out, err = api.Store(ctx, c.http, c.baseURL, req)
		return err
	})
	return out, err
}

// StoreAsync queues a new record behind earlier async stores to the same
// namespace. The mediator-assigned id is not reported.
func (c *Client) StoreAsync(ctx context.Context, req StoreRequest) (*EnqueueAck, error) {
	key := req.Namespace
	if key == "" {
		key = c.principal.Namespace
	}
	ack, err := api.StoreAsync(ctx, c.exec, c.http, c.baseURL, key, req)
	if err != nil {
		return nil, err
	}
	c.metrics.asyncEnqueued.WithLabelValues(job.ShardLabel(key)).Inc()
	return ack, nil
}

// Retrieve fetches a record. A missing or deleted id is reported through
// Lookup.Found, not as an error.
func (c *Client) Retrieve(ctx context.Context, id string) (*Lookup, error) {
	var out *Lookup
	err := c.withRetry(ctx, "retrieve", true, func() (err error) {
		out, err = api.Get(ctx, c.http, c.baseURL, id)
		return err
	})
	return out, err
}

// Update applies patch after any queued async writes for id.
func (c *Client) Update(ctx context.Context, id string, patch Patch) (*Record, error) {
	var out *Record
	err := c.withRetry(ctx, "update", true, func() (err error) {
		out, err = api.Update(ctx, c.exec, c.http, c.baseURL, id, patch)
		return err
	})
	return out, err
}

// UpdateAsync queues patch behind earlier async writes for id.
func (c *Client) UpdateAsync(ctx context.Context, id string, patch Patch) (*EnqueueAck, error) {
	ack, err := api.UpdateAsync(ctx, c.exec, c.http, c.baseURL, id, patch)
	if err != nil {
		return nil, err
	}
	c.metrics.asyncEnqueued.WithLabelValues(job.ShardLabel(id)).Inc()
	return ack, nil
}

// Delete soft-deletes id after any queued async writes for it. Deleting an
// already deleted record succeeds.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.withRetry(ctx, "delete", true, func() error {
		return api.Delete(ctx, c.exec, c.http, c.baseURL, id)
	})
}

// DeleteAsync queues a soft delete behind earlier async writes for id.
func (c *Client) DeleteAsync(ctx context.Context, id string) (*EnqueueAck, error) {
	ack, err := api.DeleteAsync(ctx, c.exec, c.http, c.baseURL, id)
	if err != nil {
		return nil, err
	}
	c.metrics.asyncEnqueued.WithLabelValues(job.ShardLabel(id)).Inc()
	return ack, nil
}

// Search runs a similarity query when QueryText or QueryVector is set and a
// structural query otherwise.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out *SearchResponse
	err := c.withRetry(ctx, "search", true, func() (err error) {
		out, err = api.Search(ctx, c.http, c.baseURL, req)
		return err
	})
	return out, err
}

// Stats returns cache and propagation statistics. Admin only.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out *Stats
	err := c.withRetry(ctx, "stats", true, func() (err error) {
		out, err = api.Stats(ctx, c.http, c.baseURL)
		return err
	})
	return out, err
}

// Purge permanently removes id from every tier. Executive only.
func (c *Client) Purge(ctx context.Context, id string) error {
	return c.withRetry(ctx, "purge", true, func() error {
		return api.Purge(ctx, c.exec, c.http, c.baseURL, id)
	})
}
