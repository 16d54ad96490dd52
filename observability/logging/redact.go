package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Marketplace log fields that are safe to emit verbatim. Everything else that
// flows through MaskField is assumed sensitive: wallet keys, bearer tokens and
// facilitator credentials must never reach a log line.
var redactionAllowlist = map[string]struct{}{
	"service":       {},
	"env":           {},
	"message":       {},
	"severity":      {},
	"timestamp":     {},
	"error":         {},
	"reason":        {},
	"component":     {},
	"agent_id":      {},
	"provider_id":   {},
	"consumer_id":   {},
	"rfp_id":        {},
	"bid_id":        {},
	"assignment_id": {},
	"task_type":     {},
	"network":       {},
	"mint":          {},
	"recipient":     {},
	"signature":     {},
	"route":         {},
	"method":        {},
	"status":        {},
	"price_usdc":    {},
	"budget_usdc":   {},
	"amount_minor":  {},
	"duration_ms":   {},
	"attempt":       {},
	"outcome":       {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to
// be emitted without redaction. Tests use this to ensure sensitive keys remain
// masked.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the canonical redacted placeholder for non-empty values.
// Empty values are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key
// is explicitly allowlisted. The original key casing is preserved for
// readability.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Abbrev shortens long opaque identifiers such as transaction signatures so
// log lines stay scannable. Short values pass through unchanged.
func Abbrev(value string) string {
	const keep = 8
	if len(value) <= 2*keep+4 {
		return value
	}
	return value[:keep] + ".." + value[len(value)-keep:]
}
