package sanitize

import (
	"net/url"
	"slices"
	"strings"
)

// maxEmailLen follows RFC 5321's path length limit.
const maxEmailLen = 254

// allowedURLSchemes are the only schemes accepted from the UI process.
var allowedURLSchemes = []string{"http", "https"}

// ValidateEmail performs a format-only check: one '@', non-empty local part,
// a domain with at least one dot and a two-letter-plus TLD. Deliverability is
// out of scope.
func (s *Sanitizer) ValidateEmail(raw string) Result {
	if raw == "" || len(raw) > maxEmailLen {
		return Reject(CodeInvalidEmail, "email empty or too long")
	}

	local, domain, ok := strings.Cut(raw, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return Reject(CodeInvalidEmail, "email must contain exactly one @")
	}
	for i := range local {
		if !isEmailLocalChar(local[i]) {
			return Reject(CodeInvalidEmail, "email local part contains invalid character")
		}
	}

	dot := strings.LastIndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return Reject(CodeInvalidEmail, "email domain missing TLD")
	}
	tld := domain[dot+1:]
	if len(tld) < 2 {
		return Reject(CodeInvalidEmail, "email TLD too short")
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return Reject(CodeInvalidEmail, "email domain label invalid")
		}
		for i := range label {
			if !isDomainChar(label[i]) {
				return Reject(CodeInvalidEmail, "email domain contains invalid character")
			}
		}
	}
	return OK
}

// ValidateURL performs a format-only check and enforces the scheme allowlist.
// script-capable schemes (javascript:, data:) are rejected with a distinct
// code since they indicate an injection attempt rather than a typo.
func (s *Sanitizer) ValidateURL(raw string) Result {
	if raw == "" || len(raw) > s.limits.MaxStringLen {
		return Reject(CodeInvalidURL, "url empty or too long")
	}

	lowered := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"javascript:", "vbscript:", "data:"} {
		if strings.HasPrefix(lowered, scheme) {
			s.logger.Warn("script-capable url scheme rejected",
				"scheme", strings.TrimSuffix(scheme, ":"),
				"security_event", "url_scheme_injection")
			return Reject(CodeScriptScheme, "script-capable scheme not allowed")
		}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Reject(CodeInvalidURL, "url does not parse")
	}
	if !slices.Contains(allowedURLSchemes, strings.ToLower(parsed.Scheme)) {
		return Reject(CodeURLScheme, "scheme not in allowlist")
	}
	if parsed.Hostname() == "" {
		return Reject(CodeInvalidURL, "url missing host")
	}
	return OK
}

func isEmailLocalChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.' || c == '_' || c == '%' || c == '+' || c == '-':
		return true
	}
	return false
}

func isDomainChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-':
		return true
	}
	return false
}
