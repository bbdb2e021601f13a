// Package sanitize provides the input-sanitization engine of the secgate
// validation pipeline.
//
// # Overview
//
// Every value crossing the IPC boundary from the UI process is untrusted.
// This package implements pure, stateless format validators that reject
// common injection payloads before any other engine runs:
//   - Markup/script injection (CWE-79): tag openings, javascript: schemes,
//     event-handler attribute names
//   - SQL injection fragments (CWE-89): reserved keywords, comment and
//     terminator sequences in query-bound fields
//   - Path traversal (CWE-22): ".." segments and absolute escapes outside
//     an allowed root
//   - Resource exhaustion: payload size and JSON nesting depth caps applied
//     before any semantic check
//   - Email and URL format checks (format only, not deliverability)
//
// # Contract
//
// All checks are pure functions of their input: no side effects, no I/O,
// bounded scan length. Each rejection carries a stable machine-readable code
// (see the Code* constants) so callers and tests can branch deterministically:
//
//	res := s.SanitizeString(userInput)
//	if !res.Valid {
//	    return res.Code // e.g. "script_tag"
//	}
//
// # Design Philosophy
//
//   - Fail-secure: when in doubt, reject
//   - Defense-in-depth: these checks complement, never replace, parameterized
//     queries and command whitelisting downstream
//   - Stable codes: rejection reasons are part of the public API
//   - Bounded work: oversize input is rejected before pattern scanning so
//     adversarial payloads cannot cause unbounded allocation
package sanitize
