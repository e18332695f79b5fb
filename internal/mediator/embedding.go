package mediator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

var errNoEmbedder = errors.New("no embedder configured")

// ensureEmbedding fills rec.Embedding for searchable records that arrive
// without one. When the embedder cannot help, the record keeps no vector (or
// a flagged zero vector when allowPlaceholder is set) and the returned
// warning explains why; ok is false in that case.
func (m *Mediator) ensureEmbedding(ctx context.Context, rec *model.Record, allowPlaceholder bool) (model.DegradedResultsWarning, bool) {
	spec, _ := model.SpecFor(rec.Type)
	if !spec.Searchable || len(rec.Embedding) > 0 {
		return model.DegradedResultsWarning{}, true
	}
	vec, err := m.embed(ctx, rec.Text())
	if err == nil {
		rec.Embedding = vec
		rec.EmbeddingPlaceholder = false
		return model.DegradedResultsWarning{}, true
	}

	m.log.Warn().Err(err).Str("type", string(rec.Type)).Bool("placeholder", allowPlaceholder).Msg("storing record without a generated embedding")
	m.metrics.degraded.WithLabelValues(TierEmbedder).Inc()
	w := model.DegradedResultsWarning{Tier: TierEmbedder, Reason: err.Error()}
	if allowPlaceholder {
		rec.Embedding = make([]float32, m.cfg.Dimensions)
		rec.EmbeddingPlaceholder = true
		w.Reason += "; zero placeholder stored, excluded from similarity search"
	} else {
		w.Reason += "; stored without embedding, excluded from similarity search"
	}
	return w, false
}

// embed calls the embedder and checks the vector against the collection.
func (m *Mediator) embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedder == nil {
		return nil, errNoEmbedder
	}
	start := time.Now()
	vec, err := m.embedder.Embed(ctx, text)
	m.metrics.observe(TierEmbedder, start)
	if err != nil {
		return nil, err
	}
	if len(vec) != m.cfg.Dimensions {
		return nil, fmt.Errorf("embedder returned %d dimensions, collection expects %d", len(vec), m.cfg.Dimensions)
	}
	if reason := vectorDefect(vec); reason != "" {
		return nil, fmt.Errorf("embedder returned a vector that %s", reason)
	}
	return vec, nil
}
