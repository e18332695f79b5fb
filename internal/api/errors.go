package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	respond "github.com/ai-cherry/memory-mediator/internal/api/respond"
	"github.com/ai-cherry/memory-mediator/internal/auth"
	"github.com/ai-cherry/memory-mediator/internal/model"
)

// statusFor maps the mediator error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case model.IsAuthorizationError(err):
		return http.StatusForbidden
	case model.IsValidationError(err):
		return http.StatusBadRequest
	case model.IsNotFoundError(err):
		return http.StatusNotFound
	case model.IsTimeoutError(err):
		return http.StatusGatewayTimeout
	case model.IsDurabilityError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrMissingPrincipal),
		errors.Is(err, auth.ErrInvalidPrincipal):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("request failed")
	}
	if model.Retryable(err) {
		respond.WriteRetryableError(w, code, err.Error())
		return
	}
	respond.WriteError(w, code, err.Error())
}
