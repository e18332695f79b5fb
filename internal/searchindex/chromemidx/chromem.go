// Package chromemidx is the embedded Tier-2 driver built on chromem-go.
// It is the default index for local builds and tests.
package chromemidx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
)

// Metadata keys stored with every document.
const (
	metaNamespace = "namespace"
	metaOwner     = "owner_id"
	metaCreated   = "created_at"
	metaUpdated   = "updated_at"
	metaDeleted   = "deleted"
)

// Index keeps one chromem collection per record type.
type Index struct {
	db *chromem.DB

	// chromem refuses a query for more results than the collection holds, so
	// counting and querying must not interleave with deletes.
	mu sync.RWMutex
}

// New creates an in-memory index, or a persistent one when path is set.
func New(path string) (*Index, error) {
	db := chromem.NewDB()
	if path != "" {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db %s: %w", path, err)
		}
	}
	return &Index{db: db}, nil
}

func collectionName(t model.MemoryType) string { return "memory_" + string(t) }

func (x *Index) collection(t model.MemoryType) (*chromem.Collection, error) {
	// Embeddings are always supplied by the mediator; no embedding func.
	col, err := x.db.GetOrCreateCollection(collectionName(t), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", collectionName(t), err)
	}
	return col, nil
}

func (x *Index) existing(t model.MemoryType) *chromem.Collection {
	return x.db.GetCollection(collectionName(t), nil)
}

func (x *Index) Upsert(ctx context.Context, rec *model.Record) (bool, error) {
	if !rec.Indexable() {
		return false, fmt.Errorf("record %s is not indexable", rec.ID)
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	col, err := x.collection(rec.Type)
	if err != nil {
		return false, err
	}
	if prev, ok := lookup(ctx, col, rec.ID); ok && !versionOf(prev).Before(rec.UpdatedAt) {
		return false, nil
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Embedding: append([]float32(nil), rec.Embedding...),
		Content:   rec.Text(),
		Metadata: map[string]string{
			metaNamespace: rec.Namespace,
			metaOwner:     rec.OwnerID,
			metaCreated:   formatTime(rec.CreatedAt),
			metaUpdated:   formatTime(rec.UpdatedAt),
			metaDeleted:   "false",
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("add document %s: %w", rec.ID, err)
	}
	return true, nil
}

// Delete rewrites the stored document as a tombstone at version at. An id
// that was never indexed has nothing to hide and is left alone.
func (x *Index) Delete(ctx context.Context, typ model.MemoryType, id string, at time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	col := x.existing(typ)
	if col == nil {
		return nil
	}
	prev, ok := lookup(ctx, col, id)
	if !ok || versionOf(prev).After(at) {
		return nil
	}
	prev.Metadata[metaDeleted] = "true"
	prev.Metadata[metaUpdated] = formatTime(at)
	if err := col.AddDocument(ctx, prev); err != nil {
		return fmt.Errorf("tombstone %s: %w", id, err)
	}
	return nil
}

func (x *Index) Purge(ctx context.Context, typ model.MemoryType, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	col := x.existing(typ)
	if col == nil {
		return nil
	}
	if _, ok := lookup(ctx, col, id); !ok {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("purge %s: %w", id, err)
	}
	return nil
}

func (x *Index) Query(ctx context.Context, q model.VectorQuery) ([]model.ScoredID, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	where := map[string]string{metaNamespace: q.Namespace, metaDeleted: "false"}
	if q.OwnerID != "" {
		where[metaOwner] = q.OwnerID
	}
	var hits []model.ScoredID
	for _, t := range searchindex.QueryTypes(q) {
		col := x.existing(t)
		if col == nil {
			continue
		}
		n := col.Count()
		if n == 0 {
			continue
		}
		// chromem's where clause only matches exact values: rank every
		// candidate, then apply the time window and threshold here.
		res, err := col.QueryEmbedding(ctx, q.Vector, n, where, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collectionName(t), err)
		}
		for _, r := range res {
			// NaN similarities fail this test too.
			if !(r.Similarity >= q.Threshold) {
				continue
			}
			created, err := parseTime(r.Metadata[metaCreated])
			if err != nil || !q.TimeRange.Contains(created) {
				continue
			}
			hits = append(hits, model.ScoredID{ID: r.ID, Type: t, Score: r.Similarity})
		}
	}
	return searchindex.RankAndTrim(hits, q.Limit), nil
}

// HealthPing implements health.HealthPinger; the embedded index is up while
// its process is.
func (x *Index) HealthPing(ctx context.Context) error { return ctx.Err() }

func lookup(ctx context.Context, col *chromem.Collection, id string) (chromem.Document, bool) {
	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return chromem.Document{}, false
	}
	return doc, true
}

func versionOf(doc chromem.Document) time.Time {
	t, _ := parseTime(doc.Metadata[metaUpdated])
	return t
}

func formatTime(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

func parseTime(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
