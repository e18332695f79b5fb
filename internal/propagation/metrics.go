package propagation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's collectors, registered on a caller-owned registry.
type Metrics struct {
	submissions    *prometheus.CounterVec
	queueFull      *prometheus.CounterVec
	retries        prometheus.Counter
	applied        *prometheus.CounterVec
	applyDuration  *prometheus.SummaryVec
	deadLetters    *prometheus.CounterVec
	deadLetterLost prometheus.Counter
	replayed       *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "submissions_total",
			Help:      "Jobs accepted into a shard queue.",
		}, []string{"shard"}),
		queueFull: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "queue_full_total",
			Help:      "Submissions rejected because the shard stayed full.",
		}, []string{"shard"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Failed attempts that were scheduled for another try.",
		}),
		applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "applied_total",
			Help:      "Changes applied to a tier, by outcome.",
		}, []string{"target", "outcome"}),
		applyDuration: f.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  "memory_mediator",
			Subsystem:  "pipeline",
			Name:       "apply_duration_seconds",
			Help:       "Time spent applying one change to a tier.",
			Objectives: map[float64]float64{0.5: 0.05, 0.99: 0.001},
		}, []string{"target"}),
		deadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "dead_letters_total",
			Help:      "Changes that exhausted their attempts.",
		}, []string{"target"}),
		deadLetterLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "dead_letter_sink_failures_total",
			Help:      "Dead letters that could not be persisted.",
		}),
		replayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memory_mediator",
			Subsystem: "pipeline",
			Name:      "replayed_total",
			Help:      "Dead letters replayed, by outcome.",
		}, []string{"outcome"}),
	}
}
