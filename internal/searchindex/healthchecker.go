package searchindex

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/health"
)

// NewSearchIndexHealthChecker monitors Tier-2 availability. An unhealthy index
// downgrades vector search to structural search with a warning.
func NewSearchIndexHealthChecker(idx Index, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("search_index", idx, log, probeTimeout)
}
