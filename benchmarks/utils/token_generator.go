package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateAccessToken signs a short-lived access token for userID. The client
// never verifies the signature, so the key only has to be stable.
func GenerateAccessToken(userID int64) (string, error) {
	claims := jwt.MapClaims{
		"userId": userID,
		"role":   "student",
		"exp":    time.Now().Add(time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("benchmark-key"))
	if err != nil {
		return "", fmt.Errorf("sign benchmark token: %w", err)
	}
	return tok, nil
}
