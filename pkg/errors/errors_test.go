package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_Status(t *testing.T) {
	cause := errors.New("session already active")
	tests := []struct {
		name   string
		err    *AppError
		code   ErrorCode
		status int
	}{
		{"invalid input", NewInvalidInputError("bad exposure"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("campaign"), ErrCodeNotFound, http.StatusNotFound},
		{"unauthorized", NewUnauthorizedError("missing token"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"unavailable", NewServiceUnavailableError("busy"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
		{"session conflict", NewSessionConflictError(cause), ErrCodeSessionConflict, http.StatusConflict},
		{"signaling", NewSignalingUnavailableError(cause), ErrCodeSignalingUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestErrorCode_UnknownIsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("SOMETHING_ELSE").Status())
}

func TestAppError_Message(t *testing.T) {
	assert.Equal(t, "NOT_FOUND: campaign not found", NewNotFoundError("campaign").Error())

	wrapped := Wrap(errors.New("dial tcp: refused"), ErrCodeInternal, "token check failed")
	assert.Equal(t, "INTERNAL_ERROR: token check failed: dial tcp: refused", wrapped.Error())
}

func TestWrap_Unwrap(t *testing.T) {
	cause := errors.New("no campaign")
	err := Wrap(cause, ErrCodeNotFound, "no campaign selected")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
}

func TestWithContext(t *testing.T) {
	err := NewInvalidInputError("out of range").WithContext("field", "exposure").WithContext("max", 1.0)
	assert.Equal(t, map[string]interface{}{"field": "exposure", "max": 1.0}, err.Context)
}

func TestGetAppError(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.False(t, IsAppError(errors.New("plain")))

	appErr := NewRateLimitError()
	chained := fmt.Errorf("middleware: %w", appErr)
	got := GetAppError(chained)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
	assert.True(t, IsAppError(chained))
}
