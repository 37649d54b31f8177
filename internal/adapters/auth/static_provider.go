package auth

import (
	"context"
	"strings"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// StaticProvider serves the token configured under auth.token (usually
// EDUMATE_RT_AUTH_TOKEN). The value is looked up on every call so a config
// reload swaps the identity.
type StaticProvider struct {
	configProvider config.Provider
	logger         domain.Logger
	now            func() time.Time
}

// NewStaticProvider creates a StaticProvider.
func NewStaticProvider(configProvider config.Provider, logger domain.Logger) *StaticProvider {
	return &StaticProvider{configProvider: configProvider, logger: logger, now: time.Now}
}

// Token implements domain.AuthProvider.
func (p *StaticProvider) Token(ctx context.Context) (string, error) {
	return strings.TrimSpace(p.configProvider.Get().Auth.Token), nil
}

// UserID implements domain.AuthProvider.
func (p *StaticProvider) UserID(ctx context.Context) (int64, bool) {
	tok, _ := p.Token(ctx)
	claims, ok := Identify(ctx, p.logger, tok, p.now())
	return claims.UserID, ok
}

// IsAuthenticated implements domain.AuthProvider.
func (p *StaticProvider) IsAuthenticated(ctx context.Context) bool {
	_, ok := p.UserID(ctx)
	return ok
}

// Identify decodes token and reports whether it describes a current identity.
// Malformed and expired tokens are logged and treated as logged out.
func Identify(ctx context.Context, logger domain.Logger, token string, now time.Time) (domain.UserClaims, bool) {
	if token == "" {
		return domain.UserClaims{}, false
	}
	claims, err := ParseClaims(token)
	if err != nil {
		logger.Warn(ctx, "Ignoring unusable access token", "error", err.Error())
		return domain.UserClaims{}, false
	}
	if Expired(claims, now) {
		logger.Debug(ctx, "Access token expired", "user_id", claims.UserID, "expires_at", claims.ExpiresAt)
		return domain.UserClaims{}, false
	}
	return claims, true
}
