package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// errRT is an http.RoundTripper that always returns an error (simulates network failure).
type errRT struct{}

func (e *errRT) RoundTrip(*http.Request) (*http.Response, error) { return nil, fmt.Errorf("boom") }

// inlineExec records keys and runs jobs on the caller's goroutine.
type inlineExec struct {
	mu       sync.Mutex
	keys     []string
	barriers []string
	lastErr  error
}

func (m *inlineExec) Submit(ctx context.Context, job propagation.Job) error {
	m.mu.Lock()
	m.keys = append(m.keys, job.Key())
	m.mu.Unlock()
	m.lastErr = job.Run(ctx)
	return nil
}

func (m *inlineExec) Barrier(_ context.Context, key string) error {
	m.mu.Lock()
	m.barriers = append(m.barriers, key)
	m.mu.Unlock()
	return nil
}

// failingExec rejects every submission.
type failingExec struct{}

func (failingExec) Submit(context.Context, propagation.Job) error { return propagation.ErrExecutorClosed }

func (failingExec) Barrier(context.Context, string) error { return propagation.ErrExecutorClosed }
