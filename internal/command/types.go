package command

import (
	"errors"
	"fmt"
)

// Classification is the ordered security tier assigned to a command. Higher
// tiers gate more privileged operations; Blocked commands are never
// executable regardless of caller permissions.
type Classification int

const (
	Public Classification = iota
	Authenticated
	Privileged
	Administrative
	Restricted
	Blocked
)

var classificationNames = map[Classification]string{
	Public:         "public",
	Authenticated:  "authenticated",
	Privileged:     "privileged",
	Administrative: "administrative",
	Restricted:     "restricted",
	Blocked:        "blocked",
}

func (c Classification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return fmt.Sprintf("classification(%d)", int(c))
}

// ParseClassification maps a config string to a Classification.
func ParseClassification(s string) (Classification, error) {
	for c, name := range classificationNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownClassification, s)
}

// Permissions is a set of opaque permission tokens.
type Permissions map[string]struct{}

// NewPermissions builds a permission set from tokens.
func NewPermissions(tokens ...string) Permissions {
	p := make(Permissions, len(tokens))
	for _, t := range tokens {
		p[t] = struct{}{}
	}
	return p
}

// Contains reports whether every token in required is present in p.
func (p Permissions) Contains(required Permissions) bool {
	for token := range required {
		if _, ok := p[token]; !ok {
			return false
		}
	}
	return true
}

// List returns the tokens in unspecified order.
func (p Permissions) List() []string {
	out := make([]string, 0, len(p))
	for token := range p {
		out = append(out, token)
	}
	return out
}

// Definition is an immutable registry entry for a single command.
type Definition struct {
	Name           string
	Aliases        []string
	Classification Classification
	Required       Permissions
	// BlockedArgPatterns are lowercase substrings tested against the
	// serialized argument payload; any match rejects the request.
	BlockedArgPatterns []string
	// RatePerMinute is an optional per-command ceiling (0 = endpoint default).
	RatePerMinute int
	// RiskScore is the command's intrinsic risk, 0-100.
	RiskScore int
	// RequiresMFA demands a two-factor-authenticated caller.
	RequiresMFA bool
}

// Stable rejection reason codes surfaced to callers.
const (
	ReasonUnknownCommand         = "unknown_command"
	ReasonCommandBlocked         = "command_blocked"
	ReasonInsufficientPermission = "insufficient_permission"
	ReasonBlockedArgument        = "blocked_argument"
	ReasonMFARequired            = "mfa_required"
)

// Result is the outcome of command validation. RiskScore is always populated
// for resolved commands so downstream rate limiting can apply risk-adaptive
// ceilings even on rejection.
type Result struct {
	Allowed        bool
	Reason         string // stable code, empty when Allowed
	Classification Classification
	RiskScore      int
	RequiresMFA    bool
}

// Registry build errors.
var (
	ErrUnknownClassification = errors.New("unknown classification")
	ErrDuplicateCommand      = errors.New("duplicate command name or alias")
	ErrInvalidRiskScore      = errors.New("risk score out of range")
	ErrRoleCycle             = errors.New("cyclic role inheritance")
	ErrUnknownRole           = errors.New("unknown role")
)
