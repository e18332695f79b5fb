package api

import (
	"net/http"
	"time"

	respond "github.com/ai-cherry/memory-mediator/internal/api/respond"
	"github.com/ai-cherry/memory-mediator/internal/mediator"
)

// HealthSource reports the aggregated and per-component health.
type HealthSource interface {
	IsHealthy() bool
	Statuses() map[string]bool
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	src  HealthSource
	caps func() mediator.Capabilities
}

// NewHealthHandler creates a new health handler. caps may be nil.
func NewHealthHandler(src HealthSource, caps func() mediator.Capabilities) *HealthHandler {
	return &HealthHandler{src: src, caps: caps}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status       string                 `json:"status"`
	Timestamp    string                 `json:"timestamp"`
	Components   map[string]bool        `json:"components,omitempty"`
	Capabilities *mediator.Capabilities `json:"capabilities,omitempty"`
}

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.src != nil {
		if h.src.IsHealthy() {
			resp.Status = "healthy"
		}
		resp.Components = h.src.Statuses()
	}
	if h.caps != nil {
		c := h.caps()
		resp.Capabilities = &c
	}
	respond.WriteJSON(w, http.StatusOK, resp)
}
