package propagation

import (
	"errors"
	"fmt"

	backoff "github.com/cenkalti/backoff/v4"
)

var (
	// ErrQueueFull is matched by *QueueFullError via errors.Is.
	ErrQueueFull = errors.New("propagation: shard queue full")

	// ErrExecutorClosed is returned once Stop has been called.
	ErrExecutorClosed = errors.New("propagation: executor closed")

	errMissingRecord = errors.New("propagation: dead letter carries no record")
)

// QueueFullError reports which shard stayed full for the whole enqueue timeout.
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("propagation: shard %d queue full (%d/%d)", e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// Permanent marks err so the executor gives up without further attempts.
func Permanent(err error) error { return backoff.Permanent(err) }

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
