package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-cherry/memory-mediator/internal/auth"
	"github.com/ai-cherry/memory-mediator/internal/cache"
	"github.com/ai-cherry/memory-mediator/internal/mediator"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
	"github.com/ai-cherry/memory-mediator/internal/searchindex/chromemidx"
	"github.com/ai-cherry/memory-mediator/internal/store/sqlite"
)

var (
	alice  = model.Principal{ID: "alice", Role: model.RoleContributor, Namespace: "team-a"}
	reader = model.Principal{ID: "rory", Role: model.RoleReadOnly, Namespace: "team-a"}
	boss   = model.Principal{ID: "eve", Role: model.RoleExecutive, Namespace: "leadership"}
)

type staticHealth map[string]bool

func (s staticHealth) IsHealthy() bool {
	for _, ok := range s {
		if !ok {
			return false
		}
	}
	return true
}

func (s staticHealth) Statuses() map[string]bool { return s }

type testServer struct {
	*httptest.Server
	pipeline *propagation.Pipeline
	mediator *mediator.Mediator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlite.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	st := sqlite.NewWithDB(db)
	t.Cleanup(func() { _ = st.Close() })
	idx, err := chromemidx.New("")
	require.NoError(t, err)
	c, err := cache.New(cache.Config{MaxItems: 1000}, zerolog.Nop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	pl := propagation.New(propagation.Config{Executor: propagation.ExecutorConfig{
		Shards: 2, QueueSize: 64, MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond,
	}}, propagation.NewStoreApplier(st, 2), propagation.NewIndexApplier(idx, 2), st.DeadLetters(), reg, zerolog.Nop())
	m, err := mediator.New(mediator.Config{Dimensions: 4, StoreDriver: "sqlite", IndexDriver: "chromem"}, mediator.Deps{
		Cache: c, Store: st, Index: idx, Pipeline: pl, Registry: reg, Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	router := NewRouter(RouterDeps{
		Mediator: m,
		Resolver: auth.NewHeaderResolver(""),
		Health:   staticHealth{"durable_store": true, "similarity_index": true},
		Metrics:  reg,
		Log:      zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, pipeline: pl, mediator: m}
}

func (s *testServer) do(t *testing.T, method, path string, p *model.Principal, body interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	if p != nil {
		auth.SetHeaders(req.Header, *p)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAPI_MemoryLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/memory", &alice, StoreRequest{
		Type:      model.TypeInsight,
		Content:   map[string]interface{}{"text": "churn risk high"},
		Embedding: []float32{1, 0, 0, 0},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created mediator.StoreResult
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.NoError(t, s.pipeline.Barrier(t.Context(), created.ID))

	resp = s.do(t, http.MethodGet, "/memory/"+created.ID, &reader, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lk mediator.Lookup
	decodeBody(t, resp, &lk)
	require.True(t, lk.Found)
	assert.Equal(t, "team-a", lk.Record.Namespace)
	assert.Equal(t, "churn risk high", lk.Record.Content["text"])

	resp = s.do(t, http.MethodPost, "/memory/search", &alice, SearchRequest{
		QueryVector: []float32{0.9, 0.1, 0, 0},
		Filters:     SearchFilters{Namespace: "team-a", Type: model.TypeInsight},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found mediator.SearchResult
	decodeBody(t, resp, &found)
	assert.Equal(t, mediator.ModeSimilarity, found.Mode)
	require.Len(t, found.Records, 1)
	assert.Equal(t, created.ID, found.Records[0].Record.ID)

	resp = s.do(t, http.MethodPatch, "/memory/"+created.ID, &alice, model.Patch{Metadata: map[string]interface{}{"reviewed": true}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated model.Record
	decodeBody(t, resp, &updated)
	assert.Equal(t, true, updated.Metadata["reviewed"])

	resp = s.do(t, http.MethodDelete, "/memory/"+created.ID, &reader, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, "/memory/"+created.ID, &alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodDelete, "/memory/"+created.ID, &alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")

	resp = s.do(t, http.MethodGet, "/memory/"+created.ID, &alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	decodeBody(t, resp, &lk)
	assert.False(t, lk.Found)
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		p      *model.Principal
		body   interface{}
		want   int
	}{
		{"no principal", http.MethodGet, "/memory/abc", nil, nil, http.StatusUnauthorized},
		{"wrong dimension", http.MethodPost, "/memory", &alice, StoreRequest{Type: model.TypeInsight, Content: map[string]interface{}{"text": "x"}, Embedding: []float32{1}}, http.StatusBadRequest},
		{"unknown type", http.MethodPost, "/memory", &alice, StoreRequest{Type: "Memo"}, http.StatusBadRequest},
		{"read only write", http.MethodPost, "/memory", &reader, StoreRequest{Type: model.TypeEvent}, http.StatusForbidden},
		{"unknown field", http.MethodPost, "/memory", &alice, map[string]interface{}{"type": "Event", "surprise": 1}, http.StatusBadRequest},
		{"delete unknown", http.MethodDelete, "/memory/nope", &alice, nil, http.StatusNotFound},
		{"patch unknown", http.MethodPatch, "/memory/nope", &alice, model.Patch{Metadata: map[string]interface{}{"a": 1}}, http.StatusNotFound},
		{"read only delete unknown", http.MethodDelete, "/memory/nope", &reader, nil, http.StatusForbidden},
		{"read only patch unknown", http.MethodPatch, "/memory/nope", &reader, model.Patch{Metadata: map[string]interface{}{"a": 1}}, http.StatusForbidden},
		{"bad id", http.MethodGet, "/memory/a%20b", &alice, nil, http.StatusBadRequest},
		{"stats not admin", http.MethodGet, "/memory/stats", &alice, nil, http.StatusForbidden},
		{"purge not executive", http.MethodDelete, "/admin/memory/abc", &alice, nil, http.StatusForbidden},
		{"search limit", http.MethodPost, "/memory/search", &alice, SearchRequest{Limit: 1000}, http.StatusBadRequest},
		{"zero query vector", http.MethodPost, "/memory/search", &alice, SearchRequest{QueryVector: []float32{0, 0, 0, 0}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, tt.p, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
}

func TestAPI_StatsAndPurgeForAdmins(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/memory", &alice, StoreRequest{Type: model.TypeEvent, Content: map[string]interface{}{"text": "call ended"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created mediator.StoreResult
	decodeBody(t, resp, &created)

	resp = s.do(t, http.MethodGet, "/memory/stats", &boss, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st mediator.CacheStats
	decodeBody(t, resp, &st)
	assert.Equal(t, "sqlite", st.Capabilities.StoreDriver)

	resp = s.do(t, http.MethodDelete, "/admin/memory/"+created.ID, &boss, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/memory/"+created.ID, &boss, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h HealthResponse
	decodeBody(t, resp, &h)
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.Components["durable_store"])
	require.NotNil(t, h.Capabilities)
	assert.True(t, h.Capabilities.Index)

	s.do(t, http.MethodPost, "/memory", &alice, StoreRequest{Type: model.TypeEvent})
	resp = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "memory_mediator_operations_total")
	assert.Contains(t, string(body), "memory_mediator_pipeline_queue_depth")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(model.NewDurabilityError("store", io.EOF)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(model.TimeoutError{Op: "search"}))
	assert.Equal(t, http.StatusNotFound, statusFor(model.NotFoundError{ID: "x"}))
	assert.Equal(t, http.StatusUnauthorized, statusFor(auth.ErrUnauthenticated))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestAPI_StaticResolverIgnoresHeaders(t *testing.T) {
	s := newTestServer(t)
	pinned := httptest.NewServer(NewRouter(RouterDeps{
		Mediator: s.mediator,
		Resolver: auth.StaticResolver{Principal: reader},
		Health:   staticHealth{"durable_store": true},
		Log:      zerolog.Nop(),
	}))
	t.Cleanup(pinned.Close)

	b, err := json.Marshal(StoreRequest{Type: model.TypeEvent, Content: map[string]interface{}{"text": "x"}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, pinned.URL+"/memory", bytes.NewReader(b))
	require.NoError(t, err)
	auth.SetHeaders(req.Header, alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "resolved as the pinned read-only principal")

	resp2, err := http.Get(pinned.URL + "/memory/" + uuid.NewString())
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
