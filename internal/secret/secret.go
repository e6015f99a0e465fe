// Package secret redacts sensitive header/log values before they reach
// logrus, so a worker's captured stdout/stderr or the control plane's
// request logging never echoes credentials verbatim. Grounded on the
// teacher's pkg/transport/http/trace.go redactedHeader helper, generalised
// from a fixed Zeta-credential header set to any header the caller flags
// sensitive plus a line-scanning mask for common token shapes appearing in
// worker log output.
package secret

import (
	"regexp"
	"strings"
)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"x-api-key":           true,
	"x-control-plane-key": true,
	"cookie":              true,
}

// RedactHeader mirrors the teacher's redactedHeader: returns v unchanged
// unless name is a known sensitive header, in which case only the
// auth-scheme prefix (if any) survives.
func RedactHeader(name, v string) string {
	if !sensitiveHeaders[strings.ToLower(name)] {
		return v
	}
	if prefix, _, ok := strings.Cut(v, " "); ok {
		return prefix + " <redacted>"
	}
	return "<redacted>"
}

// tokenPattern matches bearer-style tokens and long hex/base64-looking
// runs that workers might accidentally print (e.g. an echoed env var).
var tokenPattern = regexp.MustCompile(`(?i)(bearer\s+|token[=:]\s*)[A-Za-z0-9._-]{16,}`)

// RedactLine masks token-shaped substrings in a captured log line before
// it is shipped to POST /stages/{id}/logs, so accidental credential
// echoes from user workflow code don't end up stored verbatim.
func RedactLine(line string) string {
	return tokenPattern.ReplaceAllStringFunc(line, func(m string) string {
		if i := strings.IndexAny(m, " :="); i >= 0 {
			return m[:i+1] + "<redacted>"
		}
		return "<redacted>"
	})
}
