package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Lookup is the result of Retrieve. Found is false for unknown ids and for
// tombstones; Record is nil then.
type Lookup struct {
	Record   *model.Record                  `json:"record,omitempty"`
	Found    bool                           `json:"found"`
	Warnings []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

// Retrieve returns the newest version of id. It reads the cache first; on a
// miss it reads the durable store, coalescing concurrent misses for the same
// id into one fetch, and backfills the cache.
func (m *Mediator) Retrieve(ctx context.Context, id string, p model.Principal) (Lookup, error) {
	if err := p.Validate(); err != nil {
		return Lookup{}, m.finish("retrieve", err)
	}
	if id == "" {
		return Lookup{}, m.finish("retrieve", model.NewValidationError("id", "must not be empty"))
	}
	if !grantedAny(p.Role, model.OpRead) {
		return Lookup{}, m.finish("retrieve", m.authorize(p, model.AnyType, model.OpRead, model.ScopeOwn))
	}

	var warnings []model.DegradedResultsWarning
	if m.cache != nil {
		start := time.Now()
		rec, hit, err := m.cache.GetByID(ctx, id)
		m.metrics.observe(TierCache, start)
		switch {
		case err != nil:
			m.log.Warn().Err(err).Str("id", id).Msg("cache read failed, falling back to durable store")
			warnings = append(warnings, m.degrade(TierCache, err.Error()))
		case hit:
			return m.found(p, rec, warnings)
		}
	}

	rec, err := m.loadThrough(ctx, id)
	if err != nil {
		return Lookup{}, m.finish("retrieve", durabilityFailure("retrieve", err))
	}
	if rec == nil {
		return Lookup{Warnings: warnings}, m.finish("retrieve", nil)
	}
	return m.found(p, rec, warnings)
}

// loadThrough reads id below the cache. With a cache configured, concurrent
// callers for the same id share one fetch and the cache backfills itself,
// skipping versions that an Update or Delete invalidated mid-fetch.
func (m *Mediator) loadThrough(ctx context.Context, id string) (*model.Record, error) {
	fetch := func(fctx context.Context) (*model.Record, error) {
		rec, err := m.latest(fctx, id)
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return rec, err
	}
	if m.cache == nil {
		return fetch(ctx)
	}
	// The namespace is unknown until the record is read, so misses coalesce by id.
	return m.cache.Load(ctx, "", id, fetch)
}

func (m *Mediator) found(p model.Principal, rec *model.Record, warnings []model.DegradedResultsWarning) (Lookup, error) {
	if err := m.authorize(p, rec.Type, model.OpRead, p.Relation(rec.Namespace, rec.OwnerID)); err != nil {
		return Lookup{}, m.finish("retrieve", err)
	}
	if rec.Deleted {
		return Lookup{Warnings: warnings}, m.finish("retrieve", nil)
	}
	return Lookup{Record: rec, Found: true, Warnings: warnings}, m.finish("retrieve", nil)
}

// SearchQuery selects records by similarity or structure. A query with a
// vector, or with text the embedder can turn into one, goes to the index;
// anything else is answered from the durable store.
type SearchQuery struct {
	QueryText   string        `json:"query_text,omitempty"`
	QueryVector []float32     `json:"query_vector,omitempty"`
	Filters     model.Filters `json:"filters"`
	Limit       int           `json:"limit,omitempty"`
	// Threshold overrides the configured minimum cosine similarity.
	Threshold float32 `json:"threshold,omitempty"`
}

// Search modes reported in SearchResult.
const (
	ModeSimilarity = "similarity"
	ModeStructural = "structural"
)

// SearchResult carries ranked records and any tier the answer was served without.
type SearchResult struct {
	Records  []model.ScoredRecord           `json:"records"`
	Mode     string                         `json:"mode"`
	Degraded bool                           `json:"degraded"`
	Warnings []model.DegradedResultsWarning `json:"warnings,omitempty"`
}

// Search runs a similarity or structural query. The namespace defaults to
// the principal's; types the principal may not read are filtered out before
// any tier is queried, and asking for one explicitly is denied.
func (m *Mediator) Search(ctx context.Context, q SearchQuery, p model.Principal) (SearchResult, error) {
	if err := p.Validate(); err != nil {
		return SearchResult{}, m.finish("search", err)
	}
	f := q.Filters
	if f.Namespace == "" {
		f.Namespace = p.Namespace
	}
	relation := p.Relation(f.Namespace, f.OwnerID)
	types, err := m.readableTypes(p, f.Types, relation)
	if err != nil {
		return SearchResult{}, m.finish("search", err)
	}
	f.Types = types
	if err := m.validateEmbedding("query_vector", q.QueryVector); err != nil {
		return SearchResult{}, m.finish("search", err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = m.cfg.SearchLimit
	}
	threshold := q.Threshold
	if threshold == 0 {
		threshold = m.cfg.ScoreThreshold
	}

	var res SearchResult
	vector := q.QueryVector
	if len(vector) == 0 && q.QueryText != "" {
		vec, err := m.embed(ctx, q.QueryText)
		if err != nil {
			m.log.Warn().Err(err).Msg("query embedding failed, falling back to structural search")
			res.Warnings = append(res.Warnings, m.degrade(TierEmbedder, err.Error()))
		} else {
			vector = vec
		}
	}

	if len(vector) > 0 {
		switch {
		case m.index == nil:
			res.Warnings = append(res.Warnings, m.degrade(TierIndex, "not configured"))
		case !m.indexUp():
			res.Warnings = append(res.Warnings, m.degrade(TierIndex, "unhealthy"))
		default:
			recs, warns, err := m.similar(ctx, model.VectorQuery{Filters: f, Vector: vector, Threshold: threshold, Limit: limit})
			if err == nil {
				res.Records, res.Mode = recs, ModeSimilarity
				res.Warnings = append(res.Warnings, warns...)
				res.Degraded = len(res.Warnings) > 0
				return res, m.finish("search", nil)
			}
			if cerr := model.ClassifyContextError("search", err); model.IsTimeoutError(cerr) {
				return SearchResult{}, m.finish("search", cerr)
			}
			m.log.Warn().Err(err).Msg("similarity search failed, falling back to structural search")
			res.Warnings = append(res.Warnings, m.degrade(TierIndex, err.Error()))
		}
	}

	start := time.Now()
	recs, err := m.store.Query(ctx, model.StructuralQuery{Filters: f, Limit: limit})
	m.metrics.observe(TierStore, start)
	if err != nil {
		return SearchResult{}, m.finish("search", durabilityFailure("search", err))
	}
	res.Mode = ModeStructural
	res.Records = make([]model.ScoredRecord, 0, len(recs))
	for _, r := range recs {
		res.Records = append(res.Records, model.ScoredRecord{Record: r})
	}
	res.Degraded = len(res.Warnings) > 0
	return res, m.finish("search", nil)
}

// readableTypes narrows requested to the types p may read at relation. An
// empty request means every readable type.
func (m *Mediator) readableTypes(p model.Principal, requested []model.MemoryType, relation model.Scope) ([]model.MemoryType, error) {
	if len(requested) == 0 {
		var out []model.MemoryType
		for _, t := range model.AllTypes {
			if accessAllowed(p.Role, t, model.OpRead, relation) {
				out = append(out, t)
			}
		}
		if len(out) == 0 {
			return nil, m.authorize(p, model.AnyType, model.OpRead, relation)
		}
		return out, nil
	}
	for _, t := range requested {
		if !t.Valid() {
			return nil, model.NewValidationError("filters.type", fmt.Sprintf("unknown type %q", t))
		}
		if err := m.authorize(p, t, model.OpRead, relation); err != nil {
			return nil, err
		}
	}
	return requested, nil
}

// similar queries the index and hydrates hits from the cache or the durable
// store. Hits that vanished or were deleted since indexing are dropped.
func (m *Mediator) similar(ctx context.Context, q model.VectorQuery) ([]model.ScoredRecord, []model.DegradedResultsWarning, error) {
	start := time.Now()
	hits, err := m.index.Query(ctx, q)
	m.metrics.observe(TierIndex, start)
	if err != nil {
		return nil, nil, err
	}

	slots := make([]*model.Record, len(hits))
	errs := make([]error, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, h := range hits {
		g.Go(func() error {
			slots[i], errs[i] = m.hydrate(gctx, q.Namespace, h.ID)
			return nil
		})
	}
	_ = g.Wait()

	var (
		out      = make([]model.ScoredRecord, 0, len(hits))
		warnings []model.DegradedResultsWarning
	)
	for i, h := range hits {
		if errs[i] != nil {
			if len(warnings) == 0 {
				warnings = append(warnings, m.degrade(TierStore, errs[i].Error()))
			}
			continue
		}
		rec := slots[i]
		if rec == nil || rec.Deleted || !q.Filters.Match(rec) {
			continue
		}
		out = append(out, model.ScoredRecord{Record: rec, Score: h.Score})
	}
	return out, warnings, nil
}

func (m *Mediator) hydrate(ctx context.Context, namespace, id string) (*model.Record, error) {
	if m.cache != nil {
		if rec, ok, err := m.cache.Get(ctx, namespace, id); err == nil && ok {
			return rec, nil
		}
	}
	rec, err := m.latest(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (m *Mediator) degrade(tier, reason string) model.DegradedResultsWarning {
	m.metrics.degraded.WithLabelValues(tier).Inc()
	return model.DegradedResultsWarning{Tier: tier, Reason: reason}
}
