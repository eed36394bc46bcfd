package logging

import (
	"regexp"
	"strings"
)

// Field names whose values are always redacted.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"access_key",
}

// Patterns for secrets users paste into chat.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(AIza[a-zA-Z0-9_-]{35})`),
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}`),
	regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`),
	regexp.MustCompile(`(?i)(key|token|secret|password)[=:]["']?([a-zA-Z0-9+/=_-]{16,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces secrets in a string.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// Preview returns a redacted, single-line excerpt of message content that is
// safe to attach to a log event.
func Preview(content string, max int) string {
	content = strings.Join(strings.Fields(Redact(content)), " ")
	runes := []rune(content)
	if max > 0 && len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return content
}

// RedactFields returns a copy of document fields with sensitive keys masked
// and string values scrubbed.
func RedactFields(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			result[k] = RedactedValue
		default:
			switch value := v.(type) {
			case map[string]any:
				result[k] = RedactFields(value)
			case string:
				result[k] = Redact(value)
			default:
				result[k] = v
			}
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
