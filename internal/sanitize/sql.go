package sanitize

import "strings"

// sqlKeywords are reserved words that have no business appearing in fields
// bound into query construction. This is defense-in-depth, not a SQL parser:
// the storage layer must still use parameterized queries.
var sqlKeywords = []string{
	"select ",
	"insert ",
	"update ",
	"delete ",
	"drop ",
	"truncate ",
	"alter ",
	"create ",
	"grant ",
	"revoke ",
	"union ",
	"exec ",
	"execute ",
}

// sqlSequences maps comment and statement-terminator fragments to their code.
var sqlSequences = []struct {
	pattern string
	code    string
}{
	{"--", CodeSQLComment},
	{"/*", CodeSQLComment},
	{"*/", CodeSQLComment},
	{";", CodeSQLTerminator},
}

// ValidateSQLInput rejects reserved SQL keywords and comment/terminator
// sequences in text destined for query construction.
func (s *Sanitizer) ValidateSQLInput(raw string) Result {
	if len(raw) > s.limits.MaxStringLen {
		return Reject(CodeInputTooLong, "string exceeds maximum length")
	}
	if strings.ContainsRune(raw, 0) {
		return Reject(CodeNullByte, "string contains null byte")
	}

	// Keywords are checked before comment/terminator sequences so a combined
	// payload like "'; DROP TABLE users; --" reports the keyword code.
	lowered := strings.ToLower(raw)
	for _, kw := range sqlKeywords {
		if strings.Contains(lowered, kw) {
			s.logger.Warn("sql keyword detected in bound input",
				"keyword", strings.TrimSpace(kw),
				"security_event", "sql_injection_pattern")
			return Reject(CodeSQLKeyword, "blocked keyword: "+strings.TrimSpace(kw))
		}
	}
	for _, seq := range sqlSequences {
		if strings.Contains(lowered, seq.pattern) {
			s.logger.Warn("sql sequence detected in bound input",
				"pattern", seq.pattern,
				"security_event", "sql_injection_pattern")
			return Reject(seq.code, "blocked sequence: "+seq.pattern)
		}
	}
	return OK
}
