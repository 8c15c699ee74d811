package services

import (
	"context"
	"sync"

	"livecast/internal/core/domain"
	"livecast/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// TokenService hands out the broadcaster's access token for stream-init.
// The token is issued elsewhere; JWTs are checked for expiry only, opaque
// tokens are passed through.
type TokenService struct {
	mu     sync.RWMutex
	token  string
	clock  clockwork.Clock
	parser *jwt.Parser
	logger *zap.SugaredLogger
}

func NewTokenService(token string, clk clockwork.Clock, logger *zap.SugaredLogger) *TokenService {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &TokenService{
		token:  token,
		clock:  clk,
		parser: jwt.NewParser(),
		logger: logger,
	}
}

// SetToken replaces the token, e.g. after a refresh by the login flow.
func (s *TokenService) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.logger.Infow("access token updated", "token", utils.MaskSensitive(token, 4))
}

func (s *TokenService) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", domain.ErrTokenMissing
	}

	var claims jwt.RegisteredClaims
	if _, _, err := s.parser.ParseUnverified(token, &claims); err != nil {
		return token, nil
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.clock.Now()) {
		s.logger.Warnw("access token expired", "expired_at", claims.ExpiresAt.Time)
		return "", domain.ErrTokenExpired
	}
	return token, nil
}
