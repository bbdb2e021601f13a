package session

import (
	"errors"
	"fmt"
	"time"
)

// AuthState describes how strongly the session's user has authenticated.
type AuthState int

const (
	// Anonymous sessions carry no verified identity.
	Anonymous AuthState = iota
	// Authenticated sessions hold a verified single-factor identity.
	Authenticated
	// TwoFactor sessions have completed a second-factor challenge.
	TwoFactor
)

// String returns the lowercase name of the auth state.
func (a AuthState) String() string {
	switch a {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case TwoFactor:
		return "two_factor"
	default:
		return fmt.Sprintf("auth_state(%d)", int(a))
	}
}

// SecurityLevel selects which validation policy applies to a session.
type SecurityLevel int

const (
	// Basic performs lenient checks: mismatches raise risk but do not
	// reject the request.
	Basic SecurityLevel = iota
	// Enhanced rejects address changes outside the allowed variance.
	Enhanced
	// Strict rejects any fingerprint or address change and requires
	// frequent revalidation.
	Strict
	// Restricted allows no further requests at all. Sessions escalated
	// here are effectively frozen pending revocation.
	Restricted
)

// String returns the lowercase name of the security level.
func (l SecurityLevel) String() string {
	switch l {
	case Basic:
		return "basic"
	case Enhanced:
		return "enhanced"
	case Strict:
		return "strict"
	case Restricted:
		return "restricted"
	default:
		return fmt.Sprintf("security_level(%d)", int(l))
	}
}

// ParseSecurityLevel converts a config string into a SecurityLevel.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch s {
	case "basic":
		return Basic, nil
	case "enhanced":
		return Enhanced, nil
	case "strict":
		return Strict, nil
	case "restricted":
		return Restricted, nil
	default:
		return Basic, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// ErrUnknownLevel reports an unrecognized security level name.
var ErrUnknownLevel = errors.New("session: unknown security level")

// Observed carries the client attributes seen on the current request,
// compared against the values captured at session creation.
type Observed struct {
	Address     string
	Fingerprint string
}

// Snapshot is the read-only view of a session returned by Validate. It
// never contains the token or its hash.
type Snapshot struct {
	ID            string
	UserID        string
	Role          string
	AuthState     AuthState
	Level         SecurityLevel
	Risk          int
	CreatedAt     time.Time
	LastActivity  time.Time
	FailedLogins  int
}

// AddressPolicy controls how a changed network address is treated.
type AddressPolicy string

const (
	// AddressOff disables address checks. Changes still raise risk.
	AddressOff AddressPolicy = "off"
	// AddressSubnet allows movement within the same /24 (IPv4) or /64
	// (IPv6) network.
	AddressSubnet AddressPolicy = "subnet"
	// AddressExact requires the address seen at creation.
	AddressExact AddressPolicy = "exact"
)

// LevelPolicy is the per-security-level validation policy.
type LevelPolicy struct {
	// RevalidateInterval bounds how long a session may go between
	// successful validations before it must be rebuilt.
	RevalidateInterval time.Duration
	// EnforceFingerprint rejects fingerprint changes instead of merely
	// raising risk.
	EnforceFingerprint bool
	// Address selects the address-variance check.
	Address AddressPolicy
}

// Config holds the session engine's tunables. Zero values are replaced by
// defaults in withDefaults.
type Config struct {
	// IdleTimeout invalidates sessions with no activity for this long.
	IdleTimeout time.Duration
	// MaxLifetime invalidates sessions older than this regardless of
	// activity.
	MaxLifetime time.Duration
	// MaxFailures is the number of authentication failures tolerated
	// inside FailureWindow before the session locks.
	MaxFailures int
	// FailureWindow is the rolling window for counting failures.
	FailureWindow time.Duration
	// LockoutDuration is how long a locked session stays blacklisted.
	LockoutDuration time.Duration
	// StrictThreshold escalates the session to Strict when risk
	// reaches it.
	StrictThreshold int
	// RevokeThreshold revokes the session outright when risk reaches it.
	RevokeThreshold int
	// DefaultLevel is assigned to newly created sessions.
	DefaultLevel SecurityLevel
	// Policies overrides the built-in per-level policies.
	Policies map[SecurityLevel]LevelPolicy
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = 12 * time.Hour
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 5 * time.Minute
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	if c.StrictThreshold <= 0 {
		c.StrictThreshold = 70
	}
	if c.RevokeThreshold <= 0 {
		c.RevokeThreshold = 90
	}
	if c.Policies == nil {
		c.Policies = map[SecurityLevel]LevelPolicy{
			Basic: {
				RevalidateInterval: 24 * time.Hour,
				EnforceFingerprint: false,
				Address:            AddressOff,
			},
			Enhanced: {
				RevalidateInterval: 4 * time.Hour,
				EnforceFingerprint: false,
				Address:            AddressSubnet,
			},
			Strict: {
				RevalidateInterval: 15 * time.Minute,
				EnforceFingerprint: true,
				Address:            AddressExact,
			},
			Restricted: {
				RevalidateInterval: 0,
				EnforceFingerprint: true,
				Address:            AddressExact,
			},
		}
	}
	return c
}
