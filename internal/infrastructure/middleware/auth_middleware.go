package middleware

import (
	"crypto/subtle"
	"strings"

	"livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// APITokenMiddleware requires "Authorization: Bearer <token>" matching the
// configured control API token. An empty token disables the check.
func APITokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Error(errors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Error(errors.NewUnauthorizedError("invalid authorization header format"))
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			c.Error(errors.NewUnauthorizedError("invalid api token"))
			c.Abort()
			return
		}

		c.Next()
	}
}
