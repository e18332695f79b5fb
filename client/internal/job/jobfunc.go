// Package job adapts closures to the executor's keyed Job interface.
package job

import (
	"context"
	"errors"
	"fmt"

	clienterrors "github.com/ai-cherry/memory-mediator/client/internal/errors"
	"github.com/ai-cherry/memory-mediator/internal/propagation"
)

// ErrNilJobFunc is returned when a job has no function.
var ErrNilJobFunc = errors.New("nil JobFunc")

type jobFunc struct {
	key string
	fn  func(context.Context) error
}

func (j jobFunc) Key() string { return j.key }

// Run invokes the closure. Irrecoverable failures are marked permanent so
// the executor gives up without retrying them.
func (j jobFunc) Run(ctx context.Context) error {
	if j.fn == nil {
		return propagation.Permanent(fmt.Errorf("jobfunc: %w", ErrNilJobFunc))
	}
	err := j.fn(ctx)
	if clienterrors.IsIrrecoverable(err) {
		return propagation.Permanent(err)
	}
	return err
}

// New creates a job for key from a closure.
func New(key string, fn func(context.Context) error) propagation.Job {
	return jobFunc{key: key, fn: fn}
}
