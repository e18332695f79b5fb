package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	respond "github.com/ai-cherry/memory-mediator/internal/api/respond"
	"github.com/ai-cherry/memory-mediator/internal/api/validate"
	"github.com/ai-cherry/memory-mediator/internal/auth"
	"github.com/ai-cherry/memory-mediator/internal/mediator"
	"github.com/ai-cherry/memory-mediator/internal/model"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Mediator is the subset of *mediator.Mediator the handlers call.
type Mediator interface {
	Store(ctx context.Context, in *model.Record, p model.Principal, opts ...mediator.StoreOption) (mediator.StoreResult, error)
	Retrieve(ctx context.Context, id string, p model.Principal) (mediator.Lookup, error)
	Update(ctx context.Context, id string, patch model.Patch, p model.Principal) (*model.Record, error)
	Delete(ctx context.Context, id string, p model.Principal) error
	Search(ctx context.Context, q mediator.SearchQuery, p model.Principal) (mediator.SearchResult, error)
	Stats(ctx context.Context, p model.Principal) (mediator.CacheStats, error)
	Purge(ctx context.Context, id string, p model.Principal) error
	Capabilities() mediator.Capabilities
}

type MemoryHandler struct {
	med      Mediator
	resolver auth.Resolver
	log      zerolog.Logger
}

func NewMemoryHandler(med Mediator, resolver auth.Resolver, log zerolog.Logger) *MemoryHandler {
	return &MemoryHandler{med: med, resolver: resolver, log: log.With().Str("component", "api").Logger()}
}

// StoreRequest is the body of POST /memory.
type StoreRequest struct {
	Type       model.MemoryType       `json:"type"`
	Namespace  string                 `json:"namespace,omitempty"`
	Content    map[string]interface{} `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	TTLSeconds *int                   `json:"ttl_seconds,omitempty"`
	// AllowPlaceholderEmbedding stores a flagged zero vector when no
	// embedding can be generated.
	AllowPlaceholderEmbedding bool `json:"allow_placeholder_embedding,omitempty"`
}

// SearchFilters is the wire form of model.Filters. Type and Types are merged.
type SearchFilters struct {
	Namespace string             `json:"namespace,omitempty"`
	Type      model.MemoryType   `json:"type,omitempty"`
	Types     []model.MemoryType `json:"types,omitempty"`
	OwnerID   string             `json:"owner_id,omitempty"`
	TimeRange model.TimeRange    `json:"time_range"`
}

// SearchRequest is the body of POST /memory/search.
type SearchRequest struct {
	QueryText   string        `json:"query_text,omitempty"`
	QueryVector []float32     `json:"query_vector,omitempty"`
	Filters     SearchFilters `json:"filters"`
	Limit       int           `json:"limit,omitempty"`
	Threshold   float32       `json:"threshold,omitempty"`
}

func (f SearchFilters) toModel() model.Filters {
	types := f.Types
	if f.Type != "" {
		types = append([]model.MemoryType{f.Type}, types...)
	}
	return model.Filters{Namespace: f.Namespace, Types: types, OwnerID: f.OwnerID, TimeRange: f.TimeRange}
}

// principal resolves the caller or writes 401.
func (h *MemoryHandler) principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, err := h.resolver.Resolve(r)
	if err != nil {
		respond.WriteUnauthorized(w, "Unauthorized: "+err.Error())
		return model.Principal{}, false
	}
	return p, true
}

func (h *MemoryHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// pathID returns the validated {id} path variable or writes 400.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validate.RecordID(id); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return "", false
	}
	return id, true
}

// StoreMemory POST /memory
func (h *MemoryHandler) StoreMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req StoreRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validate.StoreRecord(string(req.Type), req.Namespace, req.Content, req.Metadata); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	rec := &model.Record{
		Type:       req.Type,
		Namespace:  req.Namespace,
		Content:    req.Content,
		Metadata:   req.Metadata,
		Embedding:  req.Embedding,
		TTLSeconds: req.TTLSeconds,
	}
	var opts []mediator.StoreOption
	if req.AllowPlaceholderEmbedding {
		opts = append(opts, mediator.AllowPlaceholderEmbedding())
	}
	res, err := h.med.Store(r.Context(), rec, p, opts...)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, res)
}

// GetMemory GET /memory/{id}
// Unknown and deleted ids answer 404 with the lookup body so warnings survive.
func (h *MemoryHandler) GetMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lk, err := h.med.Retrieve(r.Context(), id, p)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if !lk.Found {
		respond.WriteJSON(w, http.StatusNotFound, lk)
		return
	}
	respond.WriteJSON(w, http.StatusOK, lk)
}

// UpdateMemory PATCH /memory/{id}
func (h *MemoryHandler) UpdateMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch model.Patch
	if !h.decode(w, r, &patch) {
		return
	}
	if err := validate.ContentText(patch.Content); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	rec, err := h.med.Update(r.Context(), id, patch, p)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, rec)
}

// DeleteMemory DELETE /memory/{id}
func (h *MemoryHandler) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.med.Delete(r.Context(), id, p); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SearchMemory POST /memory/search
func (h *MemoryHandler) SearchMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req SearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validate.Search(req.Filters.Namespace, req.Limit, req.Threshold); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	res, err := h.med.Search(r.Context(), mediator.SearchQuery{
		QueryText:   req.QueryText,
		QueryVector: req.QueryVector,
		Filters:     req.Filters.toModel(),
		Limit:       req.Limit,
		Threshold:   req.Threshold,
	}, p)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if res.Records == nil {
		res.Records = []model.ScoredRecord{}
	}
	respond.WriteJSON(w, http.StatusOK, res)
}

// Stats GET /memory/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	st, err := h.med.Stats(r.Context(), p)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, st)
}

// PurgeMemory DELETE /admin/memory/{id}
func (h *MemoryHandler) PurgeMemory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.med.Purge(r.Context(), id, p); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
