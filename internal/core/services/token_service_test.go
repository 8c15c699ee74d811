package services

import (
	"context"
	"testing"
	"time"

	"livecast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "broadcaster-1",
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestTokenService_Token(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	valid := signedToken(t, now.Add(time.Hour))
	expired := signedToken(t, now.Add(-time.Minute))

	tests := []struct {
		name    string
		token   string
		want    string
		wantErr error
	}{
		{name: "valid jwt", token: valid, want: valid},
		{name: "expired jwt", token: expired, wantErr: domain.ErrTokenExpired},
		{name: "opaque token", token: "opaque-token-123", want: "opaque-token-123"},
		{name: "missing token", token: "", wantErr: domain.ErrTokenMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewTokenService(tt.token, clockwork.NewFakeClockAt(now), zaptest.NewLogger(t).Sugar())
			got, err := s.Token(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenService_SetTokenAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clockwork.NewFakeClockAt(now)
	s := NewTokenService("", clk, zaptest.NewLogger(t).Sugar())

	_, err := s.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrTokenMissing)

	token := signedToken(t, now.Add(10*time.Minute))
	s.SetToken(token)
	got, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, got)

	clk.Advance(10 * time.Minute)
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}
