package auth

import "errors"

var (
	// ErrMissingPrincipal is returned when the request carries no principal headers.
	ErrMissingPrincipal = errors.New("principal identification required")

	// ErrInvalidPrincipal is returned when the principal headers are malformed.
	ErrInvalidPrincipal = errors.New("invalid principal")

	// ErrUnauthenticated is returned when the front-end token is missing or wrong.
	ErrUnauthenticated = errors.New("front-end token rejected")
)
