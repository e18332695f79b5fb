package mediator

import (
	"fmt"
	"math"
	"strings"

	"github.com/ai-cherry/memory-mediator/internal/model"
)

func (m *Mediator) validateNew(rec *model.Record) error {
	if rec == nil {
		return model.NewValidationError("record", "must not be empty")
	}
	if rec.ID != "" {
		return model.NewValidationError("id", "is assigned by the mediator")
	}
	if !rec.Type.Valid() {
		return model.NewValidationError("type", fmt.Sprintf("unknown type %q", rec.Type))
	}
	if strings.TrimSpace(rec.Namespace) == "" {
		return model.NewValidationError("namespace", "must not be empty")
	}
	if rec.TTLSeconds != nil && *rec.TTLSeconds < 0 {
		return model.NewValidationError("ttl_seconds", "must not be negative")
	}
	if err := requireContent(rec); err != nil {
		return err
	}
	return m.validateEmbedding("embedding", rec.Embedding)
}

func (m *Mediator) validatePatch(p model.Patch) error {
	if p.Empty() {
		return model.NewValidationError("patch", "changes nothing")
	}
	if p.TTLSeconds != nil && *p.TTLSeconds < 0 {
		return model.NewValidationError("ttl_seconds", "must not be negative")
	}
	if p.Embedding != nil && len(p.Embedding) == 0 {
		return model.NewValidationError("embedding", "must not be empty")
	}
	return m.validateEmbedding("embedding", p.Embedding)
}

// validateEmbedding rejects vectors whose length differs from the collection
// dimension, and vectors cosine similarity is undefined for. Vectors are
// never padded or truncated.
func (m *Mediator) validateEmbedding(field string, v []float32) error {
	if len(v) == 0 {
		return nil
	}
	if len(v) != m.cfg.Dimensions {
		return model.NewValidationError(field, fmt.Sprintf("has %d dimensions, collection expects %d", len(v), m.cfg.Dimensions))
	}
	if reason := vectorDefect(v); reason != "" {
		return model.NewValidationError(field, reason)
	}
	return nil
}

// vectorDefect returns why v cannot be compared by cosine similarity, or "".
func vectorDefect(v []float32) string {
	var norm float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "contains a non-finite component"
		}
		norm += f * f
	}
	if norm == 0 {
		return "has zero magnitude"
	}
	return ""
}

func requireContent(rec *model.Record) error {
	spec, _ := model.SpecFor(rec.Type)
	for _, key := range spec.RequiredContent {
		v, ok := rec.Content[key]
		if !ok || v == nil {
			return model.NewValidationError("content."+key, fmt.Sprintf("is required for %s", rec.Type))
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return model.NewValidationError("content."+key, "must not be blank")
		}
	}
	return nil
}
