package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ai-cherry/memory-mediator/client/internal/types"
	"github.com/ai-cherry/memory-mediator/internal/model"
)

// Store submits a new record and returns its mediator-assigned id.
func Store(ctx context.Context, hc *http.Client, baseURL string, req types.StoreRequest) (*types.StoreResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateStore(req); err != nil {
		return nil, err
	}
	var out types.StoreResponse
	if _, err := doJSON(ctx, hc, http.MethodPost, baseURL+"/memory", "store memory", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get retrieves a record. Unknown and deleted ids come back as Found=false.
func Get(ctx context.Context, hc *http.Client, baseURL, id string) (*types.Lookup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return nil, err
	}
	var out types.Lookup
	if _, err := doJSON(ctx, hc, http.MethodGet, memoryURL(baseURL, id), "get memory", nil, &out, http.StatusOK, http.StatusNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update waits for queued writes to id, then applies patch synchronously.
func Update(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, id string, patch model.Patch) (*model.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return nil, err
	}
	if err := exec.Barrier(ctx, id); err != nil {
		return nil, err
	}
	return update(ctx, hc, baseURL, id, patch)
}

func update(ctx context.Context, hc *http.Client, baseURL, id string, patch model.Patch) (*model.Record, error) {
	var out model.Record
	if _, err := doJSON(ctx, hc, http.MethodPatch, memoryURL(baseURL, id), "update memory", patch, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete waits for queued writes to id, then soft-deletes it synchronously.
func Delete(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return err
	}
	if err := exec.Barrier(ctx, id); err != nil {
		return err
	}
	return remove(ctx, hc, baseURL, id)
}

func remove(ctx context.Context, hc *http.Client, baseURL, id string) error {
	_, err := doJSON(ctx, hc, http.MethodDelete, memoryURL(baseURL, id), "delete memory", nil, nil, http.StatusNoContent)
	return err
}

// Search runs a similarity or structural query.
func Search(ctx context.Context, hc *http.Client, baseURL string, req types.SearchRequest) (*types.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out types.SearchResponse
	if _, err := doJSON(ctx, hc, http.MethodPost, baseURL+"/memory/search", "search memory", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats reads cache and propagation statistics. Admin only.
func Stats(ctx context.Context, hc *http.Client, baseURL string) (*types.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out types.Stats
	if _, err := doJSON(ctx, hc, http.MethodGet, baseURL+"/memory/stats", "memory stats", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Purge removes every version of id from all tiers. Executive only.
func Purge(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return err
	}
	if err := exec.Barrier(ctx, id); err != nil {
		return err
	}
	_, err := doJSON(ctx, hc, http.MethodDelete, baseURL+"/admin/memory/"+url.PathEscape(id), "purge memory", nil, nil, http.StatusNoContent)
	return err
}
