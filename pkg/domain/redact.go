package domain

import "regexp"

const redacted = "[REDACTED]"

var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{
		pattern:     regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?(-----END [A-Z ]*PRIVATE KEY-----|$)`),
		replacement: redacted,
	},
	{
		// AWS access key ids
		pattern:     regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
		replacement: redacted,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9\-._~+/=]+`),
		replacement: "$1 " + redacted,
	},
	{
		pattern: regexp.MustCompile(
			`(?i)("?(?:password|passwd|secret|token|api_?key|private_key|client_secret|secret_access_key|session_token)"?\s*[:=]\s*)("[^"]*"|'[^']*'|[^\s,;}&]+)`,
		),
		replacement: "${1}" + redacted,
	},
	{
		// userinfo in urls
		pattern:     regexp.MustCompile(`(://[^:/@\s]+:)[^@/\s]+@`),
		replacement: "${1}" + redacted + "@",
	},
}

// Redact masks things which look like credential material in text.
//
// It is applied to every error text stored in the database or shown by /status.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}
