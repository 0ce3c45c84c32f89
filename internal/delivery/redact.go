package delivery

import "regexp"

// The response field on a delivery record may be surfaced to the owning
// tenant, so anything secret-shaped is stripped from transport error text
// before it is persisted.
var (
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	// Long unbroken token-shaped runs: API keys, signing secrets, and
	// similar material that can leak into proxy or TLS error strings.
	tokenPattern = regexp.MustCompile(`\b[A-Za-z0-9_-]{32,}\b`)
	keyPattern   = regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password)\s*[=:]\s*\S+`)
)

const redacted = "[REDACTED]"

// sanitizeError scrubs bearer tokens and API-key-shaped substrings from an
// error message.
func sanitizeError(msg string) string {
	msg = bearerPattern.ReplaceAllString(msg, redacted)
	msg = keyPattern.ReplaceAllString(msg, "$1="+redacted)
	msg = tokenPattern.ReplaceAllString(msg, redacted)
	return msg
}
