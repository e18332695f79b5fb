// Package weaviateidx is the Tier-2 driver backed by a Weaviate cluster.
package weaviateidx

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	filters "github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	gql "github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/searchindex"
)

const (
	propRecordID  = "recordId"
	propNamespace = "namespace"
	propOwnerID   = "ownerId"
	propText      = "text"
	propCreatedAt = "createdAt"
	propUpdatedAt = "updatedAt"
	propDeleted   = "deleted"
)

// objectSpace derives stable Weaviate object ids from record ids.
var objectSpace = uuid.MustParse("5b0c1f3e-8d0a-4f5e-9a52-6d3c1a7e2b90")

func objectID(id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(objectSpace, []byte(id)).String())
}

// Index is a searchindex.Index backed by Weaviate.
type Index struct {
	client *weaviate.Client
	log    zerolog.Logger
}

// New constructs an Index for the cluster at baseURL (host:port, no scheme).
func New(baseURL string, log zerolog.Logger) (*Index, error) {
	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: strings.TrimPrefix(baseURL, "http://")})
	if err != nil {
		return nil, err
	}
	return &Index{client: cl, log: log}, nil
}

func (w *Index) Upsert(ctx context.Context, rec *model.Record) (bool, error) {
	if !rec.Indexable() {
		return false, fmt.Errorf("record %s is not indexable", rec.ID)
	}
	cls := ClassName(rec.Type)
	prev, found, err := w.version(ctx, cls, rec.ID)
	if err != nil {
		return false, err
	}
	if found && !prev.Before(rec.UpdatedAt) {
		return false, nil
	}

	obj := &models.Object{
		Class: cls,
		ID:    objectID(rec.ID),
		Properties: map[string]interface{}{
			propRecordID:  rec.ID,
			propNamespace: rec.Namespace,
			propOwnerID:   rec.OwnerID,
			propText:      rec.Text(),
			propCreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
			propUpdatedAt: rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
			propDeleted:   false,
		},
		Vector: models.C11yVector(rec.Embedding),
	}
	// Batch import replaces an object with the same id.
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return false, fmt.Errorf("weaviate upsert %s: %w", rec.ID, err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return false, fmt.Errorf("weaviate upsert %s: %s", rec.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return true, nil
}

func (w *Index) Delete(ctx context.Context, typ model.MemoryType, id string, at time.Time) error {
	cls := ClassName(typ)
	prev, found, err := w.version(ctx, cls, id)
	if err != nil {
		return err
	}
	if !found || prev.After(at) {
		return nil
	}
	err = w.client.Data().Updater().
		WithMerge().
		WithClassName(cls).
		WithID(objectID(id).String()).
		WithProperties(map[string]interface{}{
			propDeleted:   true,
			propUpdatedAt: at.UTC().Format(time.RFC3339Nano),
		}).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate tombstone %s: %w", id, err)
	}
	return nil
}

func (w *Index) Purge(ctx context.Context, typ model.MemoryType, id string) error {
	cls := ClassName(typ)
	_, found, err := w.version(ctx, cls, id)
	if err != nil || !found {
		return err
	}
	if err := w.client.Data().Deleter().WithClassName(cls).WithID(objectID(id).String()).Do(ctx); err != nil {
		return fmt.Errorf("weaviate purge %s: %w", id, err)
	}
	return nil
}

func (w *Index) Query(ctx context.Context, q model.VectorQuery) ([]model.ScoredID, error) {
	operands := []*filters.WhereBuilder{
		filters.Where().WithPath([]string{propNamespace}).WithOperator(filters.Equal).WithValueText(q.Namespace),
		filters.Where().WithPath([]string{propDeleted}).WithOperator(filters.Equal).WithValueBoolean(false),
	}
	if q.OwnerID != "" {
		operands = append(operands, filters.Where().WithPath([]string{propOwnerID}).WithOperator(filters.Equal).WithValueText(q.OwnerID))
	}
	if !q.TimeRange.From.IsZero() {
		operands = append(operands, filters.Where().WithPath([]string{propCreatedAt}).WithOperator(filters.GreaterThanEqual).WithValueDate(q.TimeRange.From))
	}
	if !q.TimeRange.To.IsZero() {
		operands = append(operands, filters.Where().WithPath([]string{propCreatedAt}).WithOperator(filters.LessThanEqual).WithValueDate(q.TimeRange.To))
	}
	where := filters.Where().WithOperator(filters.And).WithOperands(operands)

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	var hits []model.ScoredID
	for _, t := range searchindex.QueryTypes(q) {
		cls := ClassName(t)
		// cosine distance is 1 - similarity
		nv := w.client.GraphQL().NearVectorArgBuilder().
			WithVector(q.Vector).
			WithDistance(1 - q.Threshold)
		resp, err := w.client.GraphQL().Get().
			WithClassName(cls).
			WithNearVector(nv).
			WithWhere(where).
			WithLimit(limit).
			WithFields(
				gql.Field{Name: propRecordID},
				gql.Field{Name: "_additional", Fields: []gql.Field{{Name: "distance"}}},
			).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("weaviate query %s: %w", cls, err)
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
		}
		for _, item := range classItems(resp.Data, cls) {
			id, _ := item[propRecordID].(string)
			if id == "" {
				continue
			}
			score := float32(1 - additionalFloat(item, "distance"))
			if !(score >= q.Threshold) {
				continue
			}
			hits = append(hits, model.ScoredID{ID: id, Type: t, Score: score})
		}
	}
	w.log.Debug().Str("namespace", q.Namespace).Int("hits", len(hits)).Msg("weaviate search completed")
	return searchindex.RankAndTrim(hits, q.Limit), nil
}

// HealthPing implements health.HealthPinger via the readiness endpoint.
func (w *Index) HealthPing(ctx context.Context) error {
	ready, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("weaviate not ready")
	}
	return nil
}

// version returns the updatedAt of the indexed object for id, tombstones included.
func (w *Index) version(ctx context.Context, cls, id string) (time.Time, bool, error) {
	where := filters.Where().WithPath([]string{propRecordID}).WithOperator(filters.Equal).WithValueText(id)
	resp, err := w.client.GraphQL().Get().
		WithClassName(cls).
		WithWhere(where).
		WithLimit(1).
		WithFields(gql.Field{Name: propUpdatedAt}).
		Do(ctx)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("weaviate lookup %s: %w", id, err)
	}
	if len(resp.Errors) > 0 {
		return time.Time{}, false, fmt.Errorf("weaviate graphql: %s", formatGraphQLErrors(resp.Errors))
	}
	items := classItems(resp.Data, cls)
	if len(items) == 0 {
		return time.Time{}, false, nil
	}
	s, _ := items[0][propUpdatedAt].(string)
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("weaviate %s: bad %s %q", id, propUpdatedAt, s)
	}
	return ts, true, nil
}

func classItems(data map[string]models.JSONObject, cls string) []map[string]interface{} {
	getData, ok := data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	arr, ok := getData[cls].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func additionalFloat(item map[string]interface{}, key string) float64 {
	add, ok := item["_additional"].(map[string]interface{})
	if !ok {
		return 0
	}
	switch v := add[key].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// formatGraphQLErrors returns compact string with messages extracted for logging.
func formatGraphQLErrors(errs interface{}) string {
	if b, err := json.Marshal(errs); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", errs)
}
