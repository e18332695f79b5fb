package model

import "time"

// MemoryType classifies a record and selects its schema, default TTL and
// similarity collection.
type MemoryType string

const (
	TypeEvent            MemoryType = "Event"
	TypeInsight          MemoryType = "Insight"
	TypeDecision         MemoryType = "Decision"
	TypeContext          MemoryType = "Context"
	TypeConversationTurn MemoryType = "ConversationTurn"

	// AnyType keys policy entries for operations that are not scoped to a
	// single record type (stats, purge).
	AnyType MemoryType = "*"
)

// AllTypes lists every record type in a stable order.
var AllTypes = []MemoryType{TypeEvent, TypeInsight, TypeDecision, TypeContext, TypeConversationTurn}

// Valid reports whether t is one of the known record types.
func (t MemoryType) Valid() bool {
	_, ok := typeSpecs[t]
	return ok
}

// TypeSpec describes per-type defaults.
type TypeSpec struct {
	// DefaultTTL is the Tier-1 eviction window; zero means no expiry.
	DefaultTTL time.Duration
	// RequiredContent lists content keys that must be present and non-empty.
	RequiredContent []string
	// Searchable types are upserted into the similarity index.
	Searchable bool
	// TextKey names the content field used to generate an embedding.
	TextKey string
}

var typeSpecs = map[MemoryType]TypeSpec{
	TypeConversationTurn: {DefaultTTL: time.Hour, RequiredContent: []string{"text"}, Searchable: true, TextKey: "text"},
	TypeEvent:            {DefaultTTL: 24 * time.Hour, TextKey: "text"},
	TypeContext:          {DefaultTTL: 24 * time.Hour, TextKey: "text"},
	TypeInsight:          {RequiredContent: []string{"text"}, Searchable: true, TextKey: "text"},
	TypeDecision:         {RequiredContent: []string{"decision"}, Searchable: true, TextKey: "decision"},
}

// SpecFor returns the TypeSpec for t and whether t is known.
func SpecFor(t MemoryType) (TypeSpec, bool) {
	s, ok := typeSpecs[t]
	return s, ok
}

// Record is the atomic unit of memory shared by every tier.
type Record struct {
	ID        string                 `json:"id"`
	Type      MemoryType             `json:"type"`
	Namespace string                 `json:"namespace"`
	OwnerRole Role                   `json:"owner_role"`
	OwnerID   string                 `json:"owner_id"`
	Content   map[string]interface{} `json:"content"`
	Embedding []float32              `json:"embedding,omitempty"`
	// EmbeddingPlaceholder marks a zero vector written on explicit opt-in;
	// such records never take part in similarity search.
	EmbeddingPlaceholder bool                   `json:"embedding_placeholder,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	TTLSeconds           *int                   `json:"ttl_seconds,omitempty"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	Deleted              bool                   `json:"deleted,omitempty"`
	DeletedAt            *time.Time             `json:"deleted_at,omitempty"`
}

// TTL resolves the Tier-1 expiry for the record.
func (r *Record) TTL() time.Duration {
	if r.TTLSeconds != nil {
		if *r.TTLSeconds <= 0 {
			return 0
		}
		return time.Duration(*r.TTLSeconds) * time.Second
	}
	spec, _ := SpecFor(r.Type)
	return spec.DefaultTTL
}

// Indexable reports whether the record belongs in the similarity index.
func (r *Record) Indexable() bool {
	spec, _ := SpecFor(r.Type)
	return spec.Searchable && !r.Deleted && !r.EmbeddingPlaceholder && len(r.Embedding) > 0
}

// Text returns the content field used for embedding generation.
func (r *Record) Text() string {
	spec, ok := SpecFor(r.Type)
	if !ok || r.Content == nil {
		return ""
	}
	s, _ := r.Content[spec.TextKey].(string)
	return s
}

// NewerThan reports whether r supersedes other for the same id.
func (r *Record) NewerThan(other *Record) bool {
	if other == nil {
		return true
	}
	return r.UpdatedAt.After(other.UpdatedAt)
}

// Clone returns a copy that shares no mutable state with r. Content and
// Metadata are copied as far as their JSON shapes go; see cloneMap.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Content = cloneMap(r.Content)
	out.Metadata = cloneMap(r.Metadata)
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.TTLSeconds != nil {
		v := *r.TTLSeconds
		out.TTLSeconds = &v
	}
	if r.DeletedAt != nil {
		v := *r.DeletedAt
		out.DeletedAt = &v
	}
	return &out
}

// cloneMap copies m down through the JSON shapes: nested maps and
// []interface{} are copied, other values are shared.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return cloneMap(x)
	case []interface{}:
		if x == nil {
			return x
		}
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Patch carries the caller-mutable fields of an update. Nil fields are left
// unchanged; Content and Metadata keys are merged, a nil value removes a key.
type Patch struct {
	Content    map[string]interface{} `json:"content,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	TTLSeconds *int                   `json:"ttl_seconds,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Content) == 0 && len(p.Metadata) == 0 && p.Embedding == nil && p.TTLSeconds == nil
}

// Apply returns a copy of r with p merged in. Timestamps are left to the caller.
func (p Patch) Apply(r *Record) *Record {
	out := r.Clone()
	out.Content = mergeMap(out.Content, p.Content)
	out.Metadata = mergeMap(out.Metadata, p.Metadata)
	if p.Embedding != nil {
		out.Embedding = append([]float32(nil), p.Embedding...)
		out.EmbeddingPlaceholder = false
	}
	if p.TTLSeconds != nil {
		v := *p.TTLSeconds
		out.TTLSeconds = &v
	}
	return out
}

func mergeMap(dst, src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		if v == nil {
			delete(dst, k)
			continue
		}
		dst[k] = cloneValue(v)
	}
	return dst
}
