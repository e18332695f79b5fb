package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyHTTPError(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   ErrorCategory
	}{
		{http.StatusBadRequest, `{"message":"bad"}`, Irrecoverable},
		{http.StatusUnauthorized, ``, Irrecoverable},
		{http.StatusForbidden, ``, Irrecoverable},
		{http.StatusNotFound, ``, Irrecoverable},
		{http.StatusRequestTimeout, ``, Recoverable},
		{http.StatusTooManyRequests, ``, Recoverable},
		{http.StatusInternalServerError, ``, Recoverable},
		{http.StatusNotImplemented, ``, Irrecoverable},
		{http.StatusServiceUnavailable, `{"retryable":true}`, Recoverable},
		{http.StatusConflict, `{"retryable":true}`, Recoverable},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			ce := NewHTTPError(tc.status, []byte(tc.body), "op")
			assert.Equal(t, tc.want, ce.Category)
			assert.Equal(t, tc.status, StatusCode(ce))
		})
	}
}

func TestClassifiedError_Wrapping(t *testing.T) {
	ce := NewHTTPError(http.StatusForbidden, []byte(`{"message":"role ReadOnly cannot delete"}`), "delete")
	wrapped := fmt.Errorf("outer: %w", ce)
	assert.True(t, IsIrrecoverable(wrapped))
	assert.Equal(t, http.StatusForbidden, StatusCode(wrapped))
	assert.Contains(t, ce.Error(), "role ReadOnly cannot delete")

	cause := stderrors.New("connection refused")
	ne := NewNetworkError("get", cause)
	assert.False(t, IsIrrecoverable(ne))
	assert.ErrorIs(t, ne, cause)
	assert.Equal(t, 0, StatusCode(ne))
	assert.False(t, IsIrrecoverable(cause))
}

func TestRetryable(t *testing.T) {
	unavailable := NewHTTPError(http.StatusServiceUnavailable, nil, "store")
	gateway := NewHTTPError(http.StatusGatewayTimeout, nil, "store")
	network := NewNetworkError("store", stderrors.New("reset"))
	forbidden := NewHTTPError(http.StatusForbidden, nil, "store")

	assert.True(t, Retryable(unavailable, false))
	assert.False(t, Retryable(gateway, false), "the write may have landed")
	assert.False(t, Retryable(network, false))
	assert.True(t, Retryable(gateway, true))
	assert.True(t, Retryable(network, true))
	assert.False(t, Retryable(forbidden, true))
	assert.False(t, Retryable(stderrors.New("decode"), true))
}
