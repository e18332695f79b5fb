package propagation

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
	"github.com/ai-cherry/memory-mediator/internal/store"
)

// Applier writes one change to one tier. Applying the same (id, updated_at)
// twice must leave the tier unchanged.
type Applier interface {
	Target() string
	// Apply reports whether the tier changed.
	Apply(ctx context.Context, op string, rec *model.Record) (bool, error)
}

// StoreApplier appends versions to Tier-3 with bounded concurrency.
type StoreApplier struct {
	store store.Store
	sem   *semaphore.Weighted
}

func NewStoreApplier(s store.Store, concurrency int64) *StoreApplier {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &StoreApplier{store: s, sem: semaphore.NewWeighted(concurrency)}
}

func (a *StoreApplier) Target() string { return store.TargetStore }

// Apply appends rec. Tombstones are versions too, so both ops append.
func (a *StoreApplier) Apply(ctx context.Context, op string, rec *model.Record) (bool, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer a.sem.Release(1)
	if op == store.OpDelete && !rec.Deleted {
		return false, Permanent(fmt.Errorf("delete of %s carries a live record", rec.ID))
	}
	return a.store.Append(ctx, rec)
}

// IndexApplier mirrors searchable records into Tier-2 with bounded concurrency.
type IndexApplier struct {
	index searchindex.Index
	sem   *semaphore.Weighted
}

func NewIndexApplier(x searchindex.Index, concurrency int64) *IndexApplier {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &IndexApplier{index: x, sem: semaphore.NewWeighted(concurrency)}
}

func (a *IndexApplier) Target() string { return store.TargetIndex }

// Apply upserts indexable records and tombstones deleted ones. A searchable
// record without a usable vector retires whatever older vector the index
// holds for it; unsearchable types are skipped.
func (a *IndexApplier) Apply(ctx context.Context, op string, rec *model.Record) (bool, error) {
	if spec, _ := model.SpecFor(rec.Type); !spec.Searchable {
		return false, nil
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer a.sem.Release(1)
	switch {
	case op == store.OpDelete || rec.Deleted:
		if err := a.index.Delete(ctx, rec.Type, rec.ID, rec.UpdatedAt); err != nil {
			return false, err
		}
		return true, nil
	case rec.Indexable():
		return a.index.Upsert(ctx, rec)
	default:
		return false, a.index.Delete(ctx, rec.Type, rec.ID, rec.UpdatedAt)
	}
}
