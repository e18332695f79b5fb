package factory

import (
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/config"
)

// NewCache creates the Tier-1 cache, or nil when CACHE_DRIVER=none.
func NewCache(cfg *config.Config, log zerolog.Logger) (*cache.Cache, error) {
	if cfg.CacheDriver == "none" {
		log.Info().Msg("cache disabled; reads go to the durable store")
		return nil, nil
	}
	return cache.New(cache.Config{MaxItems: cfg.CacheMaxItems}, log)
}
