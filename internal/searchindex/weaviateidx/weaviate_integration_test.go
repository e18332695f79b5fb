package weaviateidx_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/weaviateidx"
)

// TestWeaviateIndex_Lifecycle requires a running Weaviate instance
// (MEMORY_MEDIATOR_WEAVIATE_URL=host:port). Skipped otherwise.
func TestWeaviateIndex_Lifecycle(t *testing.T) {
	host := os.Getenv("MEMORY_MEDIATOR_WEAVIATE_URL")
	if host == "" {
		t.Skip("MEMORY_MEDIATOR_WEAVIATE_URL not set; skipping weaviate index suite")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, weaviateidx.Bootstrap(ctx, host))
	idx, err := weaviateidx.New(host, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, idx.HealthPing(ctx))

	ns := "ns-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec := &model.Record{
		ID:        uuid.NewString(),
		Type:      model.TypeInsight,
		Namespace: ns,
		OwnerID:   "alice",
		Content:   map[string]interface{}{"text": "weaviate lifecycle"},
		Embedding: []float32{1, 0, 0, 0},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ok, err := idx.Upsert(ctx, rec)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = idx.Upsert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok, "same version is discarded")

	q := model.VectorQuery{Filters: model.Filters{Namespace: ns}, Vector: []float32{1, 0, 0, 0}, Threshold: 0.7, Limit: 5}
	hits, err := idx.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)

	require.NoError(t, idx.Delete(ctx, model.TypeInsight, rec.ID, now.Add(time.Second)))
	hits, err = idx.Query(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Purge(ctx, model.TypeInsight, rec.ID))
	require.NoError(t, idx.Purge(ctx, model.TypeInsight, rec.ID))
}
