// Package auth holds the access-token sources of the messaging client.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

// ErrNoUserID is returned when a token carries no usable userId claim.
var ErrNoUserID = errors.New("token has no userId claim")

// ParseClaims decodes the payload of an access token without verifying its
// signature. The token is issued and verified by the backend; the client only
// needs the identity it describes.
func ParseClaims(token string) (domain.UserClaims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return domain.UserClaims{}, fmt.Errorf("decode access token: %w", err)
	}

	id, err := userIDClaim(mc["userId"])
	if err != nil {
		return domain.UserClaims{}, err
	}
	claims := domain.UserClaims{UserID: id}
	claims.Role, _ = mc["role"].(string)
	claims.Email, _ = mc["email"].(string)

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return domain.UserClaims{}, fmt.Errorf("decode access token: %w", err)
	}
	if exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

func userIDClaim(v any) (int64, error) {
	switch id := v.(type) {
	case float64:
		if id > 0 {
			return int64(id), nil
		}
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, ErrNoUserID
}

// Expired reports whether claims carry an expiry that lies before now.
func Expired(claims domain.UserClaims, now time.Time) bool {
	return !claims.ExpiresAt.IsZero() && !now.Before(claims.ExpiresAt)
}
