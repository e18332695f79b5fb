package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/health"
)

// NewProviderHealthChecker monitors an embeddings provider. Providers with a
// specialized HealthPing use it; others are probed with a tiny embedding.
func NewProviderHealthChecker(p Provider, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	pinger, ok := p.(health.HealthPinger)
	if !ok {
		pinger = health.PingFunc(func(ctx context.Context) error {
			vec, err := p.Embed(ctx, "health-check")
			if err != nil {
				return err
			}
			if len(vec) == 0 {
				return fmt.Errorf("embedder returned an empty vector")
			}
			return nil
		})
	}
	return health.NewPingChecker("embedder", pinger, log, probeTimeout)
}
