package validators

import (
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid auth token")

// NormalizeBearer strips an optional "Bearer " prefix and surrounding space.
func NormalizeBearer(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	lower := strings.ToLower(token)
	if lower == "bearer" {
		return "", ErrInvalidToken
	}
	if strings.HasPrefix(lower, "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" || strings.ContainsAny(token, " \t\r\n") {
		return "", ErrInvalidToken
	}
	return token, nil
}
