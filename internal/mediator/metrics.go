package mediator

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/ai-cherry/memory-mediator/internal/cache"
)

const latencyMetric = "memory_mediator_tier_latency_seconds"

type metrics struct {
	latency    *prometheus.SummaryVec
	operations *prometheus.CounterVec
	denied     *prometheus.CounterVec
	degraded   *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry, c *cache.Cache) *metrics {
	f := promauto.With(reg)
	m := &metrics{
		latency: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  "memory_mediator",
			Name:       "tier_latency_seconds",
			Help:       "Latency of calls from the mediator into each tier.",
			Objectives: map[float64]float64{0.5: 0.05, 0.99: 0.001},
			MaxAge:     10 * time.Minute,
		}, []string{"tier"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Name:      "operations_total",
			Help:      "Mediator operations by outcome.",
		}, []string{"op", "outcome"}),
		denied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Name:      "access_denied_total",
			Help:      "Requests denied by the access policy.",
		}, []string{"op"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Name:      "degraded_results_total",
			Help:      "Responses served without one of the tiers.",
		}, []string{"tier"}),
	}
	if c != nil {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Tier-1 lookups answered from the cache.",
		}, func() float64 { return float64(c.Stats().Hits) })
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Tier-1 lookups that fell through.",
		}, func() float64 { return float64(c.Stats().Misses) })
	}
	return m
}

func (m *metrics) observe(tier string, start time.Time) {
	m.latency.WithLabelValues(tier).Observe(time.Since(start).Seconds())
}

// TierLatency summarizes one tier's call latency in milliseconds.
type TierLatency struct {
	P50Ms float64 `json:"p50_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count uint64  `json:"count"`
}

// readLatencies reads the latency summaries back from the registry.
func readLatencies(reg prometheus.Gatherer) (map[string]TierLatency, error) {
	mfs, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]TierLatency)
	for _, mf := range mfs {
		if mf.GetName() != latencyMetric {
			continue
		}
		for _, metric := range mf.GetMetric() {
			s := metric.GetSummary()
			if s == nil {
				continue
			}
			out[labelValue(metric, "tier")] = TierLatency{
				P50Ms: quantileMs(s, 0.5),
				P99Ms: quantileMs(s, 0.99),
				Count: s.GetSampleCount(),
			}
		}
	}
	return out, nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// quantileMs returns quantile q in milliseconds; an empty window reads as 0.
func quantileMs(s *dto.Summary, q float64) float64 {
	for _, qv := range s.GetQuantile() {
		if qv.GetQuantile() == q {
			v := qv.GetValue()
			if math.IsNaN(v) {
				return 0
			}
			return v * 1000
		}
	}
	return 0
}
