package logging

import (
	"regexp"

	"github.com/ordd/redash/pkg/configuration"
)

// RedactedText is the replacement text for sensitive data.
const RedactedText = "[REDACTED]"

var (
	// Matches password=xxx, pwd=xxx, pass=xxx up to the next delimiter.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches bearer tokens (three base64url segments).
	jwtPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`)

	// Matches user:pass@host credentials in connection URLs.
	connStringPattern = regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from connection strings
// before they reach a log line.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might embed credentials.
// Driver errors in particular tend to echo the full connection URL.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = jwtPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// RedactOptions returns a copy of a connector option mapping with every
// schema-declared secret field replaced. Unknown fields are redacted
// too: an option mapping that drifted from its schema may hold a secret
// under a name the schema no longer declares.
func RedactOptions(options map[string]any, schema configuration.Schema) map[string]any {
	out := make(map[string]any, len(options))
	for k, v := range options {
		f, ok := schema.Lookup(k)
		if !ok || f.Type == configuration.TypeSecret {
			out[k] = RedactedText
			continue
		}
		out[k] = v
	}
	return out
}
