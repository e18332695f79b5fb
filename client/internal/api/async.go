package api

import (
	"context"
	"net/http"

	clienterrors "github.com/ai-cherry/memory-mediator/client/internal/errors"
	"github.com/ai-cherry/memory-mediator/client/internal/job"
	"github.com/ai-cherry/memory-mediator/client/internal/types"
	"github.com/ai-cherry/memory-mediator/internal/model"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// StoreAsync queues a new record behind earlier async stores for key,
// usually the namespace. The executor retries only failures the mediator
// reports it did not act on, so a retry never duplicates a record.
func StoreAsync(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, key string, req types.StoreRequest) (*types.EnqueueAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateStore(req); err != nil {
		return nil, err
	}
	j := job.New(key, func(jobCtx context.Context) error {
		_, err := Store(jobCtx, hc, baseURL, req)
		if err != nil && !clienterrors.Retryable(err, false) {
			return propagation.Permanent(err)
		}
		return err
	})
	if err := exec.Submit(ctx, j); err != nil {
		return nil, err
	}
	return &types.EnqueueAck{Key: key, Status: "enqueued"}, nil
}

// UpdateAsync queues patch behind earlier writes for id.
func UpdateAsync(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, id string, patch model.Patch) (*types.EnqueueAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return nil, err
	}
	j := job.New(id, func(jobCtx context.Context) error {
		_, err := update(jobCtx, hc, baseURL, id, patch)
		return err
	})
	if err := exec.Submit(ctx, j); err != nil {
		return nil, err
	}
	return &types.EnqueueAck{Key: id, Status: "enqueued"}, nil
}

// DeleteAsync queues a soft delete behind earlier writes for id.
func DeleteAsync(ctx context.Context, exec types.Executor, hc *http.Client, baseURL, id string) (*types.EnqueueAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := types.ValidateIDPresent(id, "id"); err != nil {
		return nil, err
	}
	j := job.New(id, func(jobCtx context.Context) error {
		return remove(jobCtx, hc, baseURL, id)
	})
	if err := exec.Submit(ctx, j); err != nil {
		return nil, err
	}
	return &types.EnqueueAck{Key: id, Status: "enqueued"}, nil
}
