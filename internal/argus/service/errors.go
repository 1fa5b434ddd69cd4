package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError reports malformed input.  It is returned before any
// principal is evaluated and is never written to the audit chain.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var principalIDPattern = regexp.MustCompile(`^[\p{L}\p{N} _-]{2,100}$`)

// normalizePrincipalID trims id and checks it is 2 to 100 letters, digits,
// spaces, hyphens or underscores.
func normalizePrincipalID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("principal_id", "is required")
	}
	if !principalIDPattern.MatchString(id) {
		return "", invalid("principal_id", "must be 2-100 letters, digits, spaces, '-' or '_'")
	}
	return id, nil
}

const maxOriginLen = 200

// normalizeOrigin trims origin to at most maxOriginLen runes, never
// splitting a multi-byte character.
func normalizeOrigin(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "api"
	}
	if utf8.RuneCountInString(origin) > maxOriginLen {
		origin = string([]rune(origin)[:maxOriginLen])
	}
	return origin
}
