package types

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// Executor runs async writes in per-key order.
type Executor interface {
	Submit(ctx context.Context, job propagation.Job) error
	Barrier(ctx context.Context, key string) error
}

// HTTPClient interface for dependency injection
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ValidateIDPresent rejects an empty id before any request is built.
func ValidateIDPresent(id, field string) error {
	if id == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ValidateStore checks the fields the mediator would reject anyway.
func ValidateStore(req StoreRequest) error {
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}
	if !req.Type.Valid() {
		return fmt.Errorf("unknown type %q", req.Type)
	}
	return nil
}
