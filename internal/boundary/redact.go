package boundary

import "regexp"

// Redaction strips credential-shaped substrings, IP addresses, and
// absolute filesystem paths from fault text before it leaves the
// boundary. This is a separate pass from classification: classification
// sees the raw fault, redaction only touches the human-readable text.
var redactions = []struct {
	re          *regexp.Regexp
	replacement string
}{
	// Bearer / Basic auth headers first, so the scheme keyword doesn't
	// get consumed as a key=value credential below.
	{
		regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9\-._~+/]+=*`),
		"$1 [REDACTED]",
	},
	// key=value style credentials, optionally quoted.
	{
		regexp.MustCompile(`(?i)(token|secret|password|passwd|api[_-]?key|apikey|session[_-]?id|auth|authorization|credential)["']?\s*[:=]\s*["']?[^\s"'&,;]+`),
		"$1=[REDACTED]",
	},
	// Long opaque hex/base64 blobs that look like keys.
	{
		regexp.MustCompile(`\b[A-Za-z0-9+/_\-]{32,}={0,2}\b`),
		"[REDACTED]",
	},
	// IPv4 addresses.
	{
		regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		"[IP]",
	},
	// Absolute unix paths.
	{
		regexp.MustCompile(`(?:^|[\s"'(=:])(/(?:[\w.\-]+/)+[\w.\-]+)`),
		" [PATH]",
	},
	// Absolute windows paths.
	{
		regexp.MustCompile(`\b[A-Za-z]:\\(?:[\w.\- ]+\\)*[\w.\- ]+`),
		"[PATH]",
	},
}

// Redact sanitizes a fault message for exposure outside the boundary.
func Redact(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.replacement)
	}
	return msg
}
