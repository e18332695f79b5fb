package client

import (
	"errors"

	clienterrors "github.com/ai-cherry/memory-mediator/client/internal/errors"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// ErrBackPressure is matched when the async queue stayed full.
var ErrBackPressure = propagation.ErrQueueFull

// ErrClosed is returned by async methods after Close.
var ErrClosed = propagation.ErrExecutorClosed

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }

// StatusCode returns the HTTP status of a failed call, or 0 when the call
// never got an answer.
func StatusCode(err error) int { return clienterrors.StatusCode(err) }

// IsRetryable reports whether an idempotent call that failed with err may be
// sent again.
func IsRetryable(err error) bool { return clienterrors.Retryable(err, true) }
