package session

import "errors"

// Sentinel errors returned by Validate and related operations. Callers
// match them with errors.Is; the orchestrator collapses all of them into a
// single session_invalid reason code so the denial category is the only
// detail that leaves the process.
var (
	// ErrNotFound reports a token with no matching session.
	ErrNotFound = errors.New("session: not found")
	// ErrRevoked reports a session on the blacklist.
	ErrRevoked = errors.New("session: revoked")
	// ErrLocked reports a session locked out by repeated failures.
	ErrLocked = errors.New("session: locked")
	// ErrExpired reports a session past its idle timeout or lifetime.
	ErrExpired = errors.New("session: expired")
	// ErrFingerprintMismatch reports a device fingerprint change under a
	// policy that enforces fingerprints.
	ErrFingerprintMismatch = errors.New("session: fingerprint mismatch")
	// ErrAddressMismatch reports a network address outside the allowed
	// variance for the session's security level.
	ErrAddressMismatch = errors.New("session: address mismatch")
	// ErrRevalidationRequired reports a session that exceeded its
	// level's revalidation interval.
	ErrRevalidationRequired = errors.New("session: revalidation required")
	// ErrRestricted reports a session escalated to the Restricted level.
	ErrRestricted = errors.New("session: restricted")
)
