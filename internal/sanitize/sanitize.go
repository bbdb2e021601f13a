package sanitize

import (
	"strings"

	"github.com/autodev-ai/secgate/internal/log"
)

// Stable rejection codes. These are part of the public API: callers branch on
// them programmatically and tests assert them verbatim. Never reuse or rename
// a code once shipped.
const (
	CodeInputTooLong    = "input_too_long"
	CodeNullByte        = "null_byte"
	CodeScriptTag       = "script_tag"
	CodeMarkupTag       = "markup_tag"
	CodeScriptScheme    = "script_scheme"
	CodeEventHandler    = "event_handler_attribute"
	CodeSQLKeyword      = "sql_keyword"
	CodeSQLComment      = "sql_comment"
	CodeSQLTerminator   = "sql_terminator"
	CodePathTraversal   = "path_traversal"
	CodePathOutsideRoot = "path_outside_root"
	CodePathEmpty       = "path_empty"
	CodePayloadTooLarge = "payload_too_large"
	CodeJSONTooDeep     = "json_too_deep"
	CodeMalformedJSON   = "malformed_json"
	CodeInvalidEmail    = "invalid_email"
	CodeInvalidURL      = "invalid_url"
	CodeURLScheme       = "url_scheme"
	CodeInvalidCommand  = "invalid_command_name"
)

// Result is the outcome of a single validation. It carries no side effects
// and is a pure function of the validated input.
type Result struct {
	Valid  bool
	Code   string // stable rejection code, empty when Valid
	Reason string // human-readable detail, never shown to end users
}

// OK is the successful validation result.
var OK = Result{Valid: true}

// Reject builds an invalid Result with a stable code.
func Reject(code, reason string) Result {
	return Result{Code: code, Reason: reason}
}

// Field identifies the kind of value being sanitized, selecting the check set.
type Field int

const (
	FieldString Field = iota // generic free text (markup/script checks)
	FieldSQL                 // text bound into SQL construction
	FieldPath                // filesystem path
	FieldEmail
	FieldURL
)

// Limits bounds the work the sanitizer performs on adversarial input.
type Limits struct {
	// MaxStringLen caps generic string fields. Default 8192.
	MaxStringLen int
	// MaxPayloadBytes caps whole argument payloads. Default 262144 (256 KiB).
	MaxPayloadBytes int
	// MaxJSONDepth caps JSON nesting. Default 32.
	MaxJSONDepth int
}

func (l Limits) withDefaults() Limits {
	if l.MaxStringLen <= 0 {
		l.MaxStringLen = 8192
	}
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = 256 * 1024
	}
	if l.MaxJSONDepth <= 0 {
		l.MaxJSONDepth = 32
	}
	return l
}

// Sanitizer validates untrusted IPC input. Stateless apart from its
// configuration; safe for concurrent use.
type Sanitizer struct {
	limits      Limits
	allowedRoot string // root directory for path validation ("" disables the root check)
	logger      log.Logger
}

// New creates a Sanitizer. allowedRoot is the directory file paths must stay
// inside; pass "" to only reject traversal segments.
func New(limits Limits, allowedRoot string, logger log.Logger) *Sanitizer {
	return &Sanitizer{
		limits:      limits.withDefaults(),
		allowedRoot: allowedRoot,
		logger:      log.ForComponent(logger, "sanitizer"),
	}
}

// Sanitize dispatches to the check set for the given field kind.
func (s *Sanitizer) Sanitize(kind Field, raw string) Result {
	switch kind {
	case FieldSQL:
		return s.ValidateSQLInput(raw)
	case FieldPath:
		return s.ValidateFilePath(raw)
	case FieldEmail:
		return s.ValidateEmail(raw)
	case FieldURL:
		return s.ValidateURL(raw)
	default:
		return s.SanitizeString(raw)
	}
}

// markupPatterns maps script/markup injection fragments to their rejection
// code. Lookup is substring match over a lowercased, length-bounded copy of
// the input. Order matters: more specific patterns first so "<script" reports
// script_tag rather than the generic markup_tag.
var markupPatterns = []struct {
	pattern string
	code    string
}{
	{"<script", CodeScriptTag},
	{"</script", CodeScriptTag},
	{"<iframe", CodeMarkupTag},
	{"<object", CodeMarkupTag},
	{"<embed", CodeMarkupTag},
	{"<svg", CodeMarkupTag},
	{"<img", CodeMarkupTag},
	{"<body", CodeMarkupTag},
	{"<link", CodeMarkupTag},
	{"<meta", CodeMarkupTag},
	{"javascript:", CodeScriptScheme},
	{"vbscript:", CodeScriptScheme},
	{"data:text/html", CodeScriptScheme},
	{"onerror=", CodeEventHandler},
	{"onload=", CodeEventHandler},
	{"onclick=", CodeEventHandler},
	{"onmouseover=", CodeEventHandler},
	{"onfocus=", CodeEventHandler},
	{"onpageshow=", CodeEventHandler},
}

// SanitizeString validates generic free text against the markup/script
// blocklist. Each blocked pattern family yields a distinct stable code.
func (s *Sanitizer) SanitizeString(raw string) Result {
	if len(raw) > s.limits.MaxStringLen {
		return Reject(CodeInputTooLong, "string exceeds maximum length")
	}
	if strings.ContainsRune(raw, 0) {
		return Reject(CodeNullByte, "string contains null byte")
	}

	lowered := strings.ToLower(raw)
	for _, p := range markupPatterns {
		if strings.Contains(lowered, p.pattern) {
			s.logger.Warn("markup injection pattern detected",
				"pattern", p.pattern,
				"code", p.code,
				"security_event", "input_injection_pattern")
			return Reject(p.code, "blocked pattern: "+p.pattern)
		}
	}
	return OK
}

// ValidateCommandName checks the format of an IPC command name: lowercase
// letter first, then lowercase letters, digits or underscores, at most 64
// characters. Aliases and canonical names share this format.
func (s *Sanitizer) ValidateCommandName(name string) Result {
	if name == "" || len(name) > 64 {
		return Reject(CodeInvalidCommand, "command name empty or too long")
	}
	if name[0] < 'a' || name[0] > 'z' {
		return Reject(CodeInvalidCommand, "command name must start with a lowercase letter")
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return Reject(CodeInvalidCommand, "command name contains invalid character")
		}
	}
	return OK
}
