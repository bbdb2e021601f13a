package command

import (
	"strings"

	"github.com/autodev-ai/secgate/internal/log"
)

// Validator checks commands against the registry. Stateless per call; safe
// for concurrent use since the registry is read-only.
type Validator struct {
	registry *Registry
	logger   log.Logger
}

// NewValidator creates a Validator over an immutable registry.
func NewValidator(registry *Registry, logger log.Logger) *Validator {
	return &Validator{
		registry: registry,
		logger:   log.ForComponent(logger, "command"),
	}
}

// Validate resolves the command and applies the fixed check order: unknown,
// Blocked classification, required permissions, blocked argument patterns,
// MFA. argsJSON is the serialized argument payload; perms is the caller's
// effective (role-expanded) permission set; mfaVerified reports whether the
// caller's session is two-factor authenticated.
//
// The resolved risk score is populated even on rejection so the rate limiter
// can apply risk-adaptive ceilings.
func (v *Validator) Validate(name string, argsJSON []byte, perms Permissions, mfaVerified bool) Result {
	def, ok := v.registry.Resolve(name)
	if !ok {
		// Unknown commands are rejected outright, never treated as Public.
		v.logger.Warn("unknown command rejected",
			"command", name,
			"security_event", "unknown_command")
		return Result{Reason: ReasonUnknownCommand}
	}

	res := Result{
		Classification: def.Classification,
		RiskScore:      def.RiskScore,
		RequiresMFA:    def.RequiresMFA,
	}

	// Blocked short-circuits before any permission logic: no permission set,
	// including administrative ones, can execute a Blocked command.
	if def.Classification == Blocked {
		v.logger.Warn("blocked command rejected",
			"command", def.Name,
			"security_event", "command_blocked")
		res.Reason = ReasonCommandBlocked
		return res
	}

	if !perms.Contains(def.Required) {
		v.logger.Warn("insufficient permissions",
			"command", def.Name,
			"required", def.Required.List(),
			"security_event", "insufficient_permission")
		res.Reason = ReasonInsufficientPermission
		return res
	}

	if pattern, hit := matchBlockedArgs(def.BlockedArgPatterns, argsJSON); hit {
		v.logger.Warn("blocked argument pattern",
			"command", def.Name,
			"pattern", pattern,
			"security_event", "blocked_argument_pattern")
		res.Reason = ReasonBlockedArgument
		return res
	}

	if def.RequiresMFA && !mfaVerified {
		v.logger.Warn("mfa required",
			"command", def.Name,
			"security_event", "mfa_required")
		res.Reason = ReasonMFARequired
		return res
	}

	res.Allowed = true
	return res
}

// matchBlockedArgs tests each configured pattern against the lowercased
// serialized payload. Patterns are plain substrings: predictable, cheap, and
// immune to regexp denial-of-service from misconfiguration.
func matchBlockedArgs(patterns []string, argsJSON []byte) (string, bool) {
	if len(patterns) == 0 || len(argsJSON) == 0 {
		return "", false
	}
	payload := strings.ToLower(string(argsJSON))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(payload, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
