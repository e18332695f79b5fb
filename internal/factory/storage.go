package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/config"
	"github.com/ai-cherry/memory-mediator/internal/localstate"
	storepkg "github.com/ai-cherry/memory-mediator/internal/store"
	storepg "github.com/ai-cherry/memory-mediator/internal/store/postgres"
	storesqlite "github.com/ai-cherry/memory-mediator/internal/store/sqlite"
)

// NewStore returns the Tier-3 store selected by cfg.StoreDriver.
// Postgres launches an async bootstrap check; returns store immediately for fast startup.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			p, err := localstate.DBPath()
			if err != nil {
				return nil, fmt.Errorf("resolve sqlite path: %w", err)
			}
			path = p
		}
		// Open applies the schema synchronously; the file is local.
		db, err := storesqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("sqlite store opened")
		return storesqlite.NewWithDB(db), nil
	case "postgres":
		return newPostgresStore(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER: %s", cfg.StoreDriver)
	}
}

func newPostgresStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	dsn := cfg.PostgresDSN
	if dsn == "" {
		return nil, fmt.Errorf("MEMORY_MEDIATOR_POSTGRES_DSN is required when STORE_DRIVER=postgres")
	}

	// Open connection synchronously since health checks need it immediately
	db, err := storepg.Open(dsn)
	if err != nil {
		return nil, err
	}

	// Async bootstrap check with configurable timeout; don't block startup
	go func() {
		bootstrapTimeout := time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
		bootstrapCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
		defer cancel()

		if err := storepg.ApplySchema(bootstrapCtx, db); err != nil {
			log.Warn().Err(err).Str("driver", cfg.StoreDriver).Msg("store bootstrap check failed")
		} else {
			log.Debug().Str("driver", cfg.StoreDriver).Msg("store bootstrap check completed")
		}
	}()

	return storepg.NewWithDB(db), nil
}
