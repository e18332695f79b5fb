package weaviateidx

import (
	"context"
	"fmt"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

// ClassName maps a record type to its Weaviate class.
func ClassName(t model.MemoryType) string { return "Memory" + string(t) }

func classFor(t model.MemoryType) *models.Class {
	return &models.Class{
		Class:      ClassName(t),
		Vectorizer: "none",
		VectorIndexConfig: map[string]interface{}{
			"distance": "cosine",
		},
		Properties: []*models.Property{
			{Name: propRecordID, DataType: []string{"text"}},
			{Name: propNamespace, DataType: []string{"text"}},
			{Name: propOwnerID, DataType: []string{"text"}},
			{Name: propText, DataType: []string{"text"}},
			{Name: propCreatedAt, DataType: []string{"date"}},
			{Name: propUpdatedAt, DataType: []string{"date"}},
			{Name: propDeleted, DataType: []string{"boolean"}},
		},
	}
}

// Bootstrap ensures one class per searchable record type exists.
func Bootstrap(ctx context.Context, baseURL string) error {
	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: baseURL})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	for _, t := range model.AllTypes {
		if spec, _ := model.SpecFor(t); !spec.Searchable {
			continue
		}
		if err := ensureClass(cctx, cl, classFor(t)); err != nil {
			return fmt.Errorf("bootstrap %s: %w", ClassName(t), err)
		}
	}
	return nil
}

func ensureClass(ctx context.Context, cl *weaviate.Client, desired *models.Class) error {
	// A failed lookup means the class is missing; creation reports real errors.
	ex, err := cl.Schema().ClassGetter().WithClassName(desired.Class).Do(ctx)
	if err == nil && ex != nil {
		return nil
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", desired.Class, err)
	}
	return nil
}
