package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/auth"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/rediskeys"
)

// TokenStore implements domain.AuthProvider on top of the access token that the
// login flow keeps under rediskeys.TokenKey(profile). Save and Clear also announce
// the change on the profile's auth events channel.
type TokenStore struct {
	redisClient *redis.Client
	logger      domain.Logger
	profile     string
	now         func() time.Time
}

// NewTokenStore creates a TokenStore for profile.
func NewTokenStore(redisClient *redis.Client, logger domain.Logger, profile string) *TokenStore {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewTokenStore")
	}
	if profile == "" {
		profile = "default"
	}
	return &TokenStore{redisClient: redisClient, logger: logger, profile: profile, now: time.Now}
}

// Token returns the stored access token, or "" when the profile is logged out.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	key := rediskeys.TokenKey(s.profile)
	val, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		s.logger.Debug(ctx, "No access token stored", "key", key)
		return "", nil
	}
	if err != nil {
		s.logger.Error(ctx, "Failed to read access token from Redis", "key", key, "error", err.Error())
		return "", fmt.Errorf("redis GET for token key '%s' failed: %w", key, err)
	}
	return val, nil
}

// UserID implements domain.AuthProvider.
func (s *TokenStore) UserID(ctx context.Context) (int64, bool) {
	tok, err := s.Token(ctx)
	if err != nil {
		return 0, false
	}
	claims, ok := auth.Identify(ctx, s.logger, tok, s.now())
	return claims.UserID, ok
}

// IsAuthenticated implements domain.AuthProvider.
func (s *TokenStore) IsAuthenticated(ctx context.Context) bool {
	_, ok := s.UserID(ctx)
	return ok
}

// Save stores token after login. The TTL follows the token's exp claim.
func (s *TokenStore) Save(ctx context.Context, token string) error {
	claims, err := auth.ParseClaims(token)
	if err != nil {
		return err
	}
	var ttl time.Duration
	if !claims.ExpiresAt.IsZero() {
		ttl = claims.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return fmt.Errorf("refusing to store expired token for user %d", claims.UserID)
		}
	}

	key := rediskeys.TokenKey(s.profile)
	if err := s.redisClient.Set(ctx, key, token, ttl).Err(); err != nil {
		s.logger.Error(ctx, "Failed to store access token in Redis", "key", key, "user_id", claims.UserID, "error", err.Error())
		return fmt.Errorf("redis SET for token key '%s' failed: %w", key, err)
	}
	s.logger.Info(ctx, "Stored access token", "key", key, "user_id", claims.UserID, "ttl", ttl.String())
	return s.publish(ctx, domain.AuthEvent{Type: domain.AuthEventLogin, UserID: claims.UserID})
}

// Clear removes the stored token on logout.
func (s *TokenStore) Clear(ctx context.Context) error {
	key := rediskeys.TokenKey(s.profile)
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		s.logger.Error(ctx, "Failed to delete access token from Redis", "key", key, "error", err.Error())
		return fmt.Errorf("redis DEL for token key '%s' failed: %w", key, err)
	}
	s.logger.Info(ctx, "Cleared access token", "key", key)
	return s.publish(ctx, domain.AuthEvent{Type: domain.AuthEventLogout})
}

func (s *TokenStore) publish(ctx context.Context, ev domain.AuthEvent) error {
	return publishAuthEvent(ctx, s.redisClient, s.logger, rediskeys.AuthEventsChannel(s.profile), ev)
}
