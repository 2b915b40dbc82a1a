package domain

import (
	"regexp"
	"strings"
)

var productKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// NormalizeProductKey lowercases and validates a catalog product key.
func NormalizeProductKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if !productKeyPattern.MatchString(key) {
		return "", ErrInvalidProductKey
	}
	return key, nil
}

// ValidProductKey reports whether raw is usable as a product key.
func ValidProductKey(raw string) bool {
	_, err := NormalizeProductKey(raw)
	return err == nil
}
