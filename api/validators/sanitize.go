package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims input, drops control characters and caps the result
// at maxLen runes. A non-positive maxLen disables the cap.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(input))
	if maxLen <= 0 {
		return cleaned
	}
	if runes := []rune(cleaned); len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return cleaned
}
