package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"livecast/internal/core/domain"
	apperrors "livecast/pkg/errors"
	"livecast/pkg/validation"

	"github.com/gin-gonic/gin"
)

// TokenStore holds the broadcaster's access token.
type TokenStore interface {
	SetToken(token string)
	Token(ctx context.Context) (string, error)
}

// AuthHandler lets the login flow hand the access token to the broadcaster.
type AuthHandler struct {
	tokens TokenStore
}

func NewAuthHandler(tokens TokenStore) *AuthHandler {
	return &AuthHandler{
		tokens: tokens,
	}
}

func (h *AuthHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1/auth")
	{
		api.PUT("/token", h.SetToken)
		api.GET("/token", h.TokenStatus)
	}
}

type SetTokenRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

const maxAccessTokenLength = 4096

func (h *AuthHandler) SetToken(c *gin.Context) {
	var req SetTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	req.AccessToken = strings.TrimSpace(req.AccessToken)
	if err := validation.ValidateNonEmptyString(req.AccessToken, "access_token"); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateStringLength(req.AccessToken, 1, maxAccessTokenLength, "access_token"); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	h.tokens.SetToken(req.AccessToken)
	c.Status(http.StatusNoContent)
}

// TokenStatus reports whether the stored token can be used for stream-init.
func (h *AuthHandler) TokenStatus(c *gin.Context) {
	_, err := h.tokens.Token(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.Is(err, domain.ErrTokenMissing), errors.Is(err, domain.ErrTokenExpired):
		c.JSON(http.StatusOK, gin.H{"valid": false, "reason": err.Error()})
	default:
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "token check failed"))
	}
}
