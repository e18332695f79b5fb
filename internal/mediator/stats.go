package mediator

import (
	"context"

	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/model"
)

// CacheStats is the operational snapshot returned to administrators.
type CacheStats struct {
	Cache        cache.Stats            `json:"cache"`
	Latency      map[string]TierLatency `json:"latency"`
	QueueDepth   int                    `json:"queue_depth"`
	DeadLetters  int64                  `json:"dead_letters"`
	Capabilities Capabilities           `json:"capabilities"`
	Warnings     []string               `json:"warnings,omitempty"`
}

// Stats reports cache effectiveness, per-tier latency and propagation
// backlog. It requires the stats grant and is not scoped to a namespace.
func (m *Mediator) Stats(ctx context.Context, p model.Principal) (CacheStats, error) {
	if err := p.Validate(); err != nil {
		return CacheStats{}, m.finish("stats", err)
	}
	if err := m.authorize(p, model.AnyType, model.OpStats, model.ScopeGlobal); err != nil {
		return CacheStats{}, m.finish("stats", err)
	}

	st := CacheStats{
		QueueDepth:   m.pipeline.Depth(),
		Capabilities: m.Capabilities(),
	}
	if m.cache != nil {
		st.Cache = m.cache.Stats()
	}
	lat, err := readLatencies(m.registry)
	if err != nil {
		m.log.Warn().Err(err).Msg("gather latency metrics")
		st.Warnings = append(st.Warnings, "latency unavailable: "+err.Error())
	}
	st.Latency = lat

	n, err := m.store.DeadLetters().Count(ctx)
	if err != nil {
		st.Warnings = append(st.Warnings, "dead-letter count unavailable: "+err.Error())
	}
	st.DeadLetters = n
	return st, m.finish("stats", nil)
}
