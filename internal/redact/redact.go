// Package redact masks credentials before they reach the audit log or an
// exported report.
package redact

import (
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

type rule struct {
	pattern *regexp.Regexp
	repl    string
}

var sensitivePatterns = []rule{
	// AWS
	{regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`), redactedPlaceholder},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redactedPlaceholder},

	// GitHub
	{regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`), redactedPlaceholder},

	// OpenAI-style keys
	{regexp.MustCompile(`sk-(proj-)?[A-Za-z0-9_-]{20,}`), redactedPlaceholder},

	// Generic API keys
	{regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|access_token|auth_token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`), redactedPlaceholder},

	// Private keys
	{regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`), redactedPlaceholder},

	// Bearer tokens
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_.-]{20,}`), redactedPlaceholder},

	// Basic auth in URLs
	{regexp.MustCompile(`(https?://)[^:/\s]+:[^@/\s]+@`), "${1}" + redactedPlaceholder + "@"},

	{regexp.MustCompile(`(?i)(password|passwd|pwd|secret)\s*[=:]\s*['"]?[^\s'"&\[][^\s'"&]{7,}['"]?`), redactedPlaceholder},
}

// queryParam matches credential-looking query parameters in a request path.
// The parameter name is kept so a reader can still see what was sent.
var queryParam = regexp.MustCompile(
	`(?i)([?&;](?:password|passwd|pwd|pass|token|api_key|apikey|access_token|auth|session|sessionid|sid|secret)=)[^&;#\s]*`,
)

// Redact replaces secrets in free text with a placeholder.
func Redact(input string) string {
	result := input
	for _, r := range sensitivePatterns {
		result = r.pattern.ReplaceAllString(result, r.repl)
	}
	return result
}

// Path masks credential query parameter values in a request path, e.g.
// "/login?user=bob&password=hunter2" becomes
// "/login?user=bob&password=[REDACTED]".
func Path(p string) string {
	return Redact(queryParam.ReplaceAllString(p, "${1}"+redactedPlaceholder))
}
