// Package types holds the wire shapes shared by the client and its API layer.
package types

import "github.com/ai-cherry/memory-mediator/internal/model"

// StoreRequest is the body of POST /memory.
type StoreRequest struct {
	Type       model.MemoryType       `json:"type"`
	Namespace  string                 `json:"namespace,omitempty"`
	Content    map[string]interface{} `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	TTLSeconds *int                   `json:"ttl_seconds,omitempty"`

	AllowPlaceholderEmbedding bool `json:"allow_placeholder_embedding,omitempty"`
}

// SearchFilters narrows a search. An empty Namespace means the caller's own.
type SearchFilters struct {
	Namespace string             `json:"namespace,omitempty"`
	Type      model.MemoryType   `json:"type,omitempty"`
	Types     []model.MemoryType `json:"types,omitempty"`
	OwnerID   string             `json:"owner_id,omitempty"`
	TimeRange model.TimeRange    `json:"time_range"`
}

// SearchRequest is the body of POST /memory/search. Set QueryText or
// QueryVector for similarity search; leave both empty for a structural query.
type SearchRequest struct {
	QueryText   string        `json:"query_text,omitempty"`
	QueryVector []float32     `json:"query_vector,omitempty"`
	Filters     SearchFilters `json:"filters"`
	Limit       int           `json:"limit,omitempty"`
	Threshold   float32       `json:"threshold,omitempty"`
}
