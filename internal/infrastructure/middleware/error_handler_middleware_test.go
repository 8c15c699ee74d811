package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantLevel  string
		hasDetails bool
	}{
		{
			name:       "client error",
			err:        apperrors.NewInvalidInputError("exposure out of range").WithContext("field", "value"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
			wantLevel:  "warn",
			hasDetails: true,
		},
		{
			name:       "session conflict",
			err:        apperrors.NewSessionConflictError(errors.New("session already active")),
			wantStatus: http.StatusConflict,
			wantCode:   "SESSION_CONFLICT",
			wantLevel:  "warn",
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
			wantLevel:  "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			router := gin.New()
			router.Use(ErrorHandlerMiddleware(zap.New(core).Sugar()))
			router.POST("/api/v1/session/exposure", func(c *gin.Context) {
				c.Error(tt.err)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/session/exposure", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body["error"])
			_, ok := body["details"]
			assert.Equal(t, tt.hasDetails, ok)

			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.wantLevel, logs.All()[0].Level.String())
		})
	}
}

func TestErrorHandlerMiddleware_ResponseAlreadyWritten(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.New(core).Sugar()))
	router.GET("/api/v1/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": "idle"})
		c.Error(errors.New("late error"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"idle"}`, w.Body.String())
	assert.Equal(t, 0, logs.Len())
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.New(core).Sugar()))
	router.POST("/api/v1/session/start", func(c *gin.Context) {
		panic("controller exploded")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/session/start", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	assert.Equal(t, "controller exploded", logs.All()[0].ContextMap()["panic"])
}
