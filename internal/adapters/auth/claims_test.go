package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/logger"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return tok
}

func TestParseClaims(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	tok := signToken(t, jwt.MapClaims{"userId": 42, "role": "tutor", "email": "t@example.com", "exp": exp.Unix()})

	claims, err := ParseClaims(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "tutor", claims.Role)
	assert.Equal(t, "t@example.com", claims.Email)
	assert.True(t, exp.Equal(claims.ExpiresAt))
}

func TestParseClaims_StringUserID(t *testing.T) {
	claims, err := ParseClaims(signToken(t, jwt.MapClaims{"userId": "7"}))
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.ExpiresAt.IsZero())
}

func TestParseClaims_Rejects(t *testing.T) {
	_, err := ParseClaims("not-a-jwt")
	assert.Error(t, err)

	_, err = ParseClaims(signToken(t, jwt.MapClaims{"role": "student"}))
	assert.ErrorIs(t, err, ErrNoUserID)

	_, err = ParseClaims(signToken(t, jwt.MapClaims{"userId": "abc"}))
	assert.ErrorIs(t, err, ErrNoUserID)
}

func TestStaticProvider(t *testing.T) {
	cfg := config.Defaults()
	p := NewStaticProvider(config.StaticProvider{Config: cfg}, logger.NewFromZap(zap.NewNop()))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.False(t, p.IsAuthenticated(ctx))

	cfg.Auth.Token = " " + signToken(t, jwt.MapClaims{"userId": 5, "exp": now.Add(time.Hour).Unix()}) + "\n"
	id, ok := p.UserID(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)
	tok, _ = p.Token(ctx)
	assert.NotContains(t, tok, " ")

	cfg.Auth.Token = signToken(t, jwt.MapClaims{"userId": 5, "exp": now.Add(-time.Minute).Unix()})
	assert.False(t, p.IsAuthenticated(ctx))

	cfg.Auth.Token = "garbage"
	assert.False(t, p.IsAuthenticated(ctx))
}
