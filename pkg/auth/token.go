package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Inspect decodes the claims of a bearer JWT without verifying its signature.
// The notifier never holds the signing secret; the backend stays the verifier.
func Inspect(tokenString string) (*TokenInfo, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("token is empty")
	}

	claims := &BearerClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}

	info := &TokenInfo{
		Subject: claims.UserID,
		Role:    claims.Role,
	}
	if info.Subject == "" {
		info.Subject = claims.Subject
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}
