package configs

import (
	"strings"

	"github.com/ryanuber/go-glob"
)

// MaskedValue replaces secret values in user-facing renderings.
const MaskedValue = "********"

var defaultSecretPatterns = []string{"*password*", "*secret*"}

// SecretMasker decides which field names hold secrets. Matching is a
// case-insensitive glob on the field name.
type SecretMasker struct {
	patterns []string
}

// NewSecretMasker builds a masker from glob patterns, falling back to the
// password and secret substring patterns when none are given.
func NewSecretMasker(patterns []string) SecretMasker {
	normalized := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		trimmed := strings.ToLower(strings.TrimSpace(pattern))
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, defaultSecretPatterns...)
	}
	return SecretMasker{patterns: normalized}
}

// IsSecret reports whether the field name matches a secret pattern.
func (m SecretMasker) IsSecret(field string) bool {
	patterns := m.patterns
	if len(patterns) == 0 {
		patterns = defaultSecretPatterns
	}
	name := strings.ToLower(field)
	for _, pattern := range patterns {
		if glob.Glob(pattern, name) {
			return true
		}
	}
	return false
}

// Render formats a value for display, masking secrets.
func (m SecretMasker) Render(field string, value Value) string {
	if m.IsSecret(field) {
		return MaskedValue
	}
	return value.String()
}

// Present returns a value suitable for JSON or YAML output, masking secrets
// unless includeSecrets is set.
func (m SecretMasker) Present(field string, value Value, includeSecrets bool) any {
	if !includeSecrets && m.IsSecret(field) {
		return MaskedValue
	}
	return value.Interface()
}
