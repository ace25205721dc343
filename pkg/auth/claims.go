package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BearerClaims is the subset of the backend-issued JWT the notifier reads.
type BearerClaims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenInfo summarizes a bearer credential for logging and expiry checks.
type TokenInfo struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its exp claim. Tokens without exp never expire.
func (t TokenInfo) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}
