package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue stands in for credentials and signatures in log lines.
const RedactedValue = "[REDACTED]"

// Identities, assets and amounts are public on the queue. These keys are not.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"signature":     {},
	"passphrase":    {},
	"secret":        {},
	"private_key":   {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	return strings.HasSuffix(normalized, "_secret") || strings.HasSuffix(normalized, "_token")
}

// MaskValue hides value. An authorization scheme such as "Bearer" stays
// readable; empty values pass through unchanged.
func MaskValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	if scheme, _, ok := strings.Cut(trimmed, " "); ok && isScheme(scheme) {
		return scheme + " " + RedactedValue
	}
	return RedactedValue
}

// MaskField returns a masked attribute for a credential-bearing value.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

func isScheme(word string) bool {
	for _, r := range word {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// redactAttr masks sensitive attributes that reach the handler unmasked.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	switch attr.Value.Kind() {
	case slog.KindGroup:
		return attr
	case slog.KindString:
		value := attr.Value.String()
		if strings.HasSuffix(value, RedactedValue) {
			return attr
		}
		return slog.String(attr.Key, MaskValue(value))
	default:
		return slog.String(attr.Key, RedactedValue)
	}
}
