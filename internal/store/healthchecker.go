package store

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/health"
)

// NewStoreHealthChecker monitors Tier-3 reachability via the driver's HealthPing.
// The mediator consults it before accepting writes.
func NewStoreHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", s, log, probeTimeout)
}
