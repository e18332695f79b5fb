// Package api exposes the mediator over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ai-cherry/memory-mediator/internal/api/recovery"
	"github.com/ai-cherry/memory-mediator/internal/auth"
)

// RouterDeps are the collaborators of the HTTP surface.
type RouterDeps struct {
	Mediator Mediator
	Resolver auth.Resolver
	Health   HealthSource
	// Metrics is served at /metrics when set.
	Metrics prometheus.Gatherer
	Log     zerolog.Logger
}

// NewRouter wires the memory routes, health and metrics.
func NewRouter(d RouterDeps) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware(d.Log))

	memory := NewMemoryHandler(d.Mediator, d.Resolver, d.Log)
	// /memory/stats and /memory/search are registered before /memory/{id}.
	root.HandleFunc("/memory/stats", memory.Stats).Methods(http.MethodGet)
	root.HandleFunc("/memory/search", memory.SearchMemory).Methods(http.MethodPost)
	root.HandleFunc("/memory", memory.StoreMemory).Methods(http.MethodPost)
	root.HandleFunc("/memory/{id}", memory.GetMemory).Methods(http.MethodGet)
	root.HandleFunc("/memory/{id}", memory.UpdateMemory).Methods(http.MethodPatch)
	root.HandleFunc("/memory/{id}", memory.DeleteMemory).Methods(http.MethodDelete)

	// Admin
	root.HandleFunc("/admin/memory/{id}", memory.PurgeMemory).Methods(http.MethodDelete)

	// Health
	healthHandler := NewHealthHandler(d.Health, d.Mediator.Capabilities)
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods(http.MethodGet)

	if d.Metrics != nil {
		root.Handle("/metrics", promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return root
}
