// Package mediatorservice runs the memory mediator HTTP server.
package mediatorservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/api"
	"github.com/ai-cherry/memory-mediator/internal/auth"
	"github.com/ai-cherry/memory-mediator/internal/config"
	"github.com/ai-cherry/memory-mediator/internal/factory"
	"github.com/ai-cherry/memory-mediator/internal/health"
)

// Run starts the mediator HTTP server and the dead-letter replayer and
// blocks until shutdown or error.
func Run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("store_driver", cfg.StoreDriver).
		Str("index_driver", cfg.IndexDriver).
		Str("cache_driver", cfg.CacheDriver).
		Int("http_port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Msg("Memory mediator starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	comps, err := factory.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		// Drains the pipeline; anything still failing is dead-lettered.
		if err := comps.Close(); err != nil {
			log.Error().Err(err).Msg("close components")
		}
	}()

	router := api.NewRouter(api.RouterDeps{
		Mediator: comps.Mediator,
		Resolver: auth.NewHeaderResolver(cfg.FrontendToken),
		Health:   comps.Health,
		Metrics:  comps.Registry,
		Log:      log,
	})

	comps.StartHealth(ctx)

	// Block startup until dependencies report healthy; fail fast otherwise
	if err := waitUntilHealthy(ctx, cfg, comps.Health); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	go func() {
		if err := comps.Replayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("dead-letter replayer stopped")
		}
	}()

	// HTTP server and serve
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of the bootstrap timeout.
func calculateStartupHealthTimeout(healthIntervalSeconds, bootstrapTimeoutSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < bootstrapTimeoutSeconds {
		return bootstrapTimeoutSeconds
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
// Only the durable store gates startup; the other tiers degrade instead.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds, cfg.BootstrapTimeoutSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds: %v", timeoutSeconds, svcHealth.Statuses())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
