package client

// This file defines functional options that configure the Client during
// construction.

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithHTTPTimeout sets the underlying http.Client Timeout.
//
// Prefer per-request context deadlines where possible; this timeout is a
// coarse bound on a single HTTP exchange. The value must be greater than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithDebugLogging logs every request and response through the global
// zerolog logger. Bodies are included; do not enable it in production.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		c.debug = enabled
		return nil
	}
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithLogger sets the logger used for retries and abandoned async writes.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) error {
		c.log = log.With().Str("component", "memory_client").Logger()
		return nil
	}
}

// WithRegisterer registers the client's collectors on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) error {
		if reg == nil {
			return fmt.Errorf("registerer cannot be nil")
		}
		c.reg = reg
		return nil
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy for synchronous calls.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) error {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("max attempts must be >= 1")
		}
		if p.MaxAttempts > 1 && p.InitialInterval <= 0 {
			return fmt.Errorf("initial interval must be > 0")
		}
		c.retry = p
		return nil
	}
}

// WithAsyncQueue tunes the executor behind the async methods.
func WithAsyncQueue(cfg AsyncQueueConfig) Option {
	return func(c *Client) error {
		if cfg.Shards < 0 || cfg.QueueSize < 0 || cfg.MaxAttempts < 0 {
			return fmt.Errorf("async queue settings must not be negative")
		}
		c.execCfg = cfg
		return nil
	}
}

// WithFailureHandler receives every async write that was abandoned, keyed as
// it was queued. The default logs it.
func WithFailureHandler(fn func(key string, err error)) Option {
	return func(c *Client) error {
		c.onFailure = fn
		return nil
	}
}
