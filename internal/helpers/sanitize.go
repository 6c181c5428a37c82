package helpers

import "strings"

// SanitizeString replaces characters unsuitable for identifiers (archive file
// names, metric labels) with underscores. Allows alphanumeric characters,
// hyphen, and underscore.
func SanitizeString(input string) string {
	if input == "" {
		return ""
	}
	var result strings.Builder
	result.Grow(len(input)) // Pre-allocate roughly the right size

	for _, r := range input {
		// Whitelist allowed characters
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_') // Replace disallowed characters with underscore
		}
	}
	return result.String()
}

func SafeIDPrefix(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// TruncateString shortens a string to max runes, appending an ellipsis when
// anything was cut.
func TruncateString(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
