package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// errorBody mirrors the mediator's JSON error envelope.
type errorBody struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ClassifyHTTPError determines whether an HTTP failure should be retried.
// 4xx answers are final except 408 and 429; 5xx answers are retried except
// 501. A body that marks itself retryable always wins.
func ClassifyHTTPError(statusCode int, body []byte, underlyingErr error) *ClassifiedError {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	category := getHTTPErrorCategory(statusCode)
	if eb.Retryable {
		category = Recoverable
	}
	return &ClassifiedError{
		Category:   category,
		StatusCode: statusCode,
		Message:    eb.Message,
		Underlying: underlyingErr,
	}
}

func getHTTPErrorCategory(statusCode int) ErrorCategory {
	switch {
	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return Recoverable
	case statusCode >= 400 && statusCode < 500:
		return Irrecoverable
	case statusCode == http.StatusNotImplemented:
		return Irrecoverable
	default:
		return Recoverable
	}
}

// NewHTTPError creates a classified error for a non-success response.
func NewHTTPError(statusCode int, body []byte, operation string) *ClassifiedError {
	return ClassifyHTTPError(statusCode, body, fmt.Errorf("%s failed", operation))
}

// NewNetworkError creates a classified error for network-level failures.
// Network errors are always recoverable as they may be transient.
func NewNetworkError(operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Category:   Recoverable,
		Underlying: fmt.Errorf("%s network error: %w", operation, err),
	}
}
