package model

import (
	"context"
	"errors"
	"fmt"
)

// AuthorizationError is returned when the access policy denies an operation.
// It is never retried automatically.
type AuthorizationError struct {
	Role      Role
	Type      MemoryType
	Operation Operation
	Reason    string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("authorization denied: role=%s type=%s op=%s: %s", e.Role, e.Type, e.Operation, e.Reason)
}

// IsAuthorizationError checks if an error is an AuthorizationError (including wrapped errors)
func IsAuthorizationError(err error) bool {
	var ae AuthorizationError
	return errors.As(err, &ae)
}

// ValidationError represents a malformed record or request.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error (including wrapped errors)
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// DurabilityError means the durable tier could not accept a write.
// Writes are idempotent by id and updated_at, so the call is safe to retry.
type DurabilityError struct {
	Op    string
	Cause error
}

func (e DurabilityError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("durability failure during %s", e.Op)
	}
	return fmt.Sprintf("durability failure during %s: %v", e.Op, e.Cause)
}

func (e DurabilityError) Unwrap() error { return e.Cause }

// NewDurabilityError wraps cause for operation op.
func NewDurabilityError(op string, cause error) DurabilityError {
	return DurabilityError{Op: op, Cause: cause}
}

// IsDurabilityError checks if err is a DurabilityError
func IsDurabilityError(err error) bool {
	var de DurabilityError
	return errors.As(err, &de)
}

// TimeoutError means the caller deadline expired before the operation could
// be made durable.
type TimeoutError struct {
	Op    string
	Cause error
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("deadline exceeded during %s: %v", e.Op, e.Cause)
}

func (e TimeoutError) Unwrap() error { return e.Cause }

// IsTimeoutError checks if err is a TimeoutError
func IsTimeoutError(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// NotFoundError reports a missing or tombstoned record.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("record %s not found", e.ID)
}

// IsNotFoundError checks if err is NotFoundError
func IsNotFoundError(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}

// ErrNotFound is returned by tier clients for a missing key.
var ErrNotFound = errors.New("not found")

// Retryable reports whether a failed call may be resubmitted unchanged.
func Retryable(err error) bool {
	return IsDurabilityError(err) || IsTimeoutError(err)
}

// ClassifyContextError turns a context expiry into a TimeoutError and leaves
// other errors untouched.
func ClassifyContextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimeoutError{Op: op, Cause: err}
	}
	return err
}

// DegradedResultsWarning accompanies results served without one of the tiers.
// It is not an error.
type DegradedResultsWarning struct {
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

func (w DegradedResultsWarning) String() string {
	return fmt.Sprintf("degraded results: %s unavailable: %s", w.Tier, w.Reason)
}
