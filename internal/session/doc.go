// Package session provides the session and risk-management engine.
//
// Responsibilities: session token issuance and verification, device and
// network fingerprint checks, per-session risk scoring, failed-attempt
// lockout, and optional persistence of security state across restarts.
//
// Tokens are generated from crypto/rand and stored only as a salted SHA-256
// hash: a compromise of the session store does not yield usable tokens.
// The presented token is re-hashed on every validation and looked up by its
// digest.
//
// Thread safety: the Manager is safe for concurrent use. The session map is
// guarded by one lock, but each session record carries its own mutex, so
// requests for different sessions never serialize against each other and
// requests for the same session are validated in arrival order.
package session
