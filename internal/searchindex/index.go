// Package searchindex is the Tier-2 similarity index client. Drivers keep one
// collection per record type and rank by cosine similarity after applying the
// namespace, type, owner and time pre-filters.
package searchindex

import (
	"context"
	"sort"
	"time"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Index provides vector search and index maintenance.
//
// Writes are idempotent by (id, updated_at): a version older than or equal
// to the one already indexed is discarded. Delete leaves a tombstone at the
// given version so a late, older upsert cannot resurrect the document.
type Index interface {
	// Upsert indexes rec and reports whether it replaced the stored version.
	Upsert(ctx context.Context, rec *model.Record) (bool, error)
	Delete(ctx context.Context, typ model.MemoryType, id string, at time.Time) error
	// Purge hard-deletes every trace of id, tombstone included.
	Purge(ctx context.Context, typ model.MemoryType, id string) error
	// Query returns hits scored at or above q.Threshold, best first.
	Query(ctx context.Context, q model.VectorQuery) ([]model.ScoredID, error)

	HealthPing(ctx context.Context) error
}

// DefaultThreshold is the minimum cosine similarity of a search hit.
const DefaultThreshold float32 = 0.7

// QueryTypes expands an empty type filter to every searchable type.
func QueryTypes(q model.VectorQuery) []model.MemoryType {
	src := q.Types
	if len(src) == 0 {
		src = model.AllTypes
	}
	out := make([]model.MemoryType, 0, len(src))
	for _, t := range src {
		if spec, ok := model.SpecFor(t); ok && spec.Searchable {
			out = append(out, t)
		}
	}
	return out
}

// RankAndTrim sorts hits best first (id breaks ties) and keeps at most limit.
func RankAndTrim(hits []model.ScoredID, limit int) []model.ScoredID {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
