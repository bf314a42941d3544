package credential

import "unicode/utf8"

const (
	// RedactedValue replaces secrets too short to show a prefix of.
	RedactedValue = "[REDACTED]"
	// RedactedSuffix follows the visible prefix of a longer secret.
	RedactedSuffix = "***"

	redactMinLength = 8
	redactPrefix    = 6
)

// Redact hides secret material for logs and diagnostics. Values shorter than
// eight characters become RedactedValue; longer values keep their first six
// characters followed by RedactedSuffix. The input is never returned.
func Redact(secret string) string {
	if utf8.RuneCountInString(secret) < redactMinLength {
		return RedactedValue
	}
	runes := []rune(secret)
	return string(runes[:redactPrefix]) + RedactedSuffix
}
