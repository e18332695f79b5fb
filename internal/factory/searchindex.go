package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/config"
	"github.com/ai-cherry/memory-mediator/internal/localstate"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/chromemidx"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/pgvectoridx"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/weaviateidx"
)

// NewSearchIndex creates the Tier-2 index selected by cfg.IndexDriver. A nil
// index with a nil error means similarity search is not configured.
// Weaviate bootstraps its classes asynchronously; returns index immediately for fast startup.
func NewSearchIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	switch cfg.IndexDriver {
	case "none", "":
		log.Info().Msg("similarity index not configured; searches will be structural")
		return nil, nil
	case "chromem":
		path := cfg.ChromemPath
		if path == "" && !cfg.IsTesting() {
			p, err := localstate.IndexDir()
			if err != nil {
				return nil, fmt.Errorf("resolve chromem path: %w", err)
			}
			path = p
		}
		return chromemidx.New(path)
	case "pgvector":
		bctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
		defer cancel()
		return pgvectoridx.New(bctx, cfg.PgvectorDSN, cfg.EmbedDimensions)
	case "weaviate":
		return newWeaviateIndex(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown INDEX_DRIVER: %s", cfg.IndexDriver)
	}
}

func newWeaviateIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	if cfg.WeaviateURL == "" {
		return nil, fmt.Errorf("MEMORY_MEDIATOR_WEAVIATE_URL is required when INDEX_DRIVER=weaviate")
	}

	idx, err := weaviateidx.New(cfg.WeaviateURL, log)
	if err != nil {
		return nil, err
	}

	// Async bootstrap with configurable timeout; don't block startup
	go func() {
		bootstrapTimeout := time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
		bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()

		if err := weaviateidx.Bootstrap(bootstrapCtx, cfg.WeaviateURL); err != nil {
			log.Warn().Err(err).Str("url", cfg.WeaviateURL).Msg("search index bootstrap failed")
		} else {
			log.Debug().Str("url", cfg.WeaviateURL).Msg("search index bootstrap completed")
		}
	}()

	return idx, nil
}
