// Package guard composes the validation engines into a single request
// pipeline. Every request passes through, in order: input sanitization,
// session validation, rate limiting, and command authorization. The first
// failing stage short-circuits the rest, and every call emits exactly one
// terminal audit event whose outcome matches the decision.
//
// Denials expose one stable reason code per category. Input rejections
// carry the sanitizer's code; session failures collapse to a single
// session_invalid code so callers learn the category but not which check
// tripped; rate limiting and command denials use their own codes.
//
// When the audit trail is degraded the pipeline fails closed: no request
// is allowed if it cannot be recorded.
package guard
