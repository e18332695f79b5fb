package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/config"
	emb "github.com/ai-cherry/memory-mediator/internal/embeddings"
	"github.com/ai-cherry/memory-mediator/internal/embeddings/ollama"
	"github.com/ai-cherry/memory-mediator/internal/embeddings/openai"
)

// NewEmbeddingProvider creates an embedding provider based on config; nil
// when the provider is "none".
// Launches optional async warmup; returns provider immediately for fast startup.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) emb.Provider {
	var provider emb.Provider

	switch cfg.EmbedProvider {
	case "none":
		return nil
	case "openai":
		provider = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.EmbedDimensions)
	case "", "ollama":
		provider = ollama.New(cfg.OllamaURL, cfg.EmbedModel, log)
	default:
		log.Warn().Str("provider", cfg.EmbedProvider).Msg("unknown embedding provider; using ollama")
		provider = ollama.New(cfg.OllamaURL, cfg.EmbedModel, log)
	}

	// Optional async warmup with configurable timeout; don't block startup
	go func() {
		warmupTimeout := time.Duration(cfg.BootstrapTimeoutSeconds) * time.Second
		warmupCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
		defer cancel()

		if vec, err := provider.Embed(warmupCtx, "factory-warmup-check"); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Int("vec_len", len(vec)).
				Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Msg("embedding provider warmup failed")
		} else {
			log.Debug().Str("provider", cfg.EmbedProvider).Str("model", cfg.EmbedModel).
				Int("vec_len", len(vec)).
				Msg("embedding provider warmup completed")
		}
	}()

	return provider
}
