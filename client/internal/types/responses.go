package types

import (
	"time"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// StoreResponse acknowledges an accepted record.
type StoreResponse struct {
	ID        string                         `json:"id"`
	CreatedAt time.Time                      `json:"created_at"`
	Warnings  []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

// Lookup is the result of a retrieve. Found is false for unknown and
// deleted ids; that is not an error.
type Lookup struct {
	Record   *model.Record                  `json:"record,omitempty"`
	Found    bool                           `json:"found"`
	Warnings []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

// SearchResponse carries ranked records and whether any tier was skipped.
type SearchResponse struct {
	Records  []model.ScoredRecord           `json:"records"`
	Mode     string                         `json:"mode"`
	Degraded bool                           `json:"degraded"`
	Warnings []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type TierLatency struct {
	P50Ms float64 `json:"p50_ms"`
	P99Ms float64 `json:"p99_ms"`
	Count uint64  `json:"count"`
}

type Capabilities struct {
	Cache       bool   `json:"cache"`
	Index       bool   `json:"similarity_index"`
	Embedder    bool   `json:"embedder"`
	StoreDriver string `json:"store_driver"`
	IndexDriver string `json:"index_driver,omitempty"`
}

// Stats is the admin view of cache effectiveness and propagation backlog.
type Stats struct {
	Cache        CacheStats             `json:"cache"`
	Latency      map[string]TierLatency `json:"latency"`
	QueueDepth   int                    `json:"queue_depth"`
	DeadLetters  int64                  `json:"dead_letters"`
	Capabilities Capabilities           `json:"capabilities"`
	Warnings     []string               `json:"warnings,omitempty"`
}

// EnqueueAck reports that an async write was queued behind earlier writes
// for the same key.
type EnqueueAck struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}
