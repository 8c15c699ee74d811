package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"livecast/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupAuthRouter(t *testing.T, tokens TokenStore) *gin.Engine {
	t.Helper()
	router := setupRouter(t, new(MockSessionService))
	NewAuthHandler(tokens).SetupRoutes(router)
	return router
}

func TestAuthHandler_SetToken(t *testing.T) {
	tokens := services.NewTokenService("", clockwork.NewRealClock(), zaptest.NewLogger(t).Sugar())
	router := setupAuthRouter(t, tokens)

	w := doRequest(router, http.MethodGet, "/api/v1/auth/token", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["valid"])

	w = doRequest(router, http.MethodPut, "/api/v1/auth/token", gin.H{"access_token": "opaque-token"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/auth/token", nil)
	assert.Equal(t, true, decodeBody(t, w)["valid"])
}

func TestAuthHandler_ExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tokens := services.NewTokenService(expired, clockwork.NewFakeClockAt(now), zaptest.NewLogger(t).Sugar())
	router := setupAuthRouter(t, tokens)

	w := doRequest(router, http.MethodGet, "/api/v1/auth/token", nil)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "access token expired", body["reason"])
}

func TestAuthHandler_SetTokenValidation(t *testing.T) {
	tokens := services.NewTokenService("", clockwork.NewRealClock(), zaptest.NewLogger(t).Sugar())
	router := setupAuthRouter(t, tokens)

	w := doRequest(router, http.MethodPut, "/api/v1/auth/token", gin.H{"access_token": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPut, "/api/v1/auth/token", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPut, "/api/v1/auth/token", gin.H{"access_token": strings.Repeat("a", maxAccessTokenLength+1)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
