package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidLogLevel indicates an unknown log level name.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidLimit indicates a non-positive sanitizer cap.
	ErrInvalidLimit = errors.New("invalid sanitizer limit")

	// ErrInvalidCommand indicates a malformed whitelist entry.
	ErrInvalidCommand = errors.New("invalid command entry")

	// ErrInvalidRateLimit indicates a malformed rate-limit policy.
	ErrInvalidRateLimit = errors.New("invalid rate limit policy")

	// ErrInvalidSession indicates a malformed session setting.
	ErrInvalidSession = errors.New("invalid session setting")

	// ErrInvalidAudit indicates a malformed audit setting.
	ErrInvalidAudit = errors.New("invalid audit setting")

	// ErrMissingEndpoint indicates observability is enabled without an
	// OTLP endpoint.
	ErrMissingEndpoint = errors.New("missing observability endpoint")
)

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {},
}

var classifications = map[string]struct{}{
	"public": {}, "authenticated": {}, "privileged": {},
	"administrative": {}, "restricted": {}, "blocked": {},
}

var strategies = map[string]struct{}{
	"": {}, "fixed_window": {}, "sliding_window": {}, "token_bucket": {}, "adaptive": {},
}

var securityLevels = map[string]struct{}{
	"basic": {}, "enhanced": {}, "strict": {}, "restricted": {},
}

// Validate performs fail-fast range and shape checks. It validates only
// what the engine constructors cannot: cross-field consistency checks
// (duplicate names, role cycles) happen when the registry is built.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if _, ok := logLevels[c.Log.Level]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Log.Level)
	}

	if c.Sanitize.MaxStringLen <= 0 || c.Sanitize.MaxPayloadBytes <= 0 || c.Sanitize.MaxJSONDepth <= 0 {
		return fmt.Errorf("%w: caps must be positive", ErrInvalidLimit)
	}

	for _, cmd := range c.Commands {
		if cmd.Name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidCommand)
		}
		if _, ok := classifications[cmd.Classification]; !ok {
			return fmt.Errorf("%w: %q has unknown classification %q",
				ErrInvalidCommand, cmd.Name, cmd.Classification)
		}
		if cmd.RiskScore < 0 || cmd.RiskScore > 100 {
			return fmt.Errorf("%w: %q risk score %d outside 0-100",
				ErrInvalidCommand, cmd.Name, cmd.RiskScore)
		}
		if cmd.RatePerMinute < 0 {
			return fmt.Errorf("%w: %q negative rate ceiling", ErrInvalidCommand, cmd.Name)
		}
	}

	if err := validateLimit("fallback", c.RateLimit.Fallback); err != nil {
		return err
	}
	for name, limit := range c.RateLimit.Endpoints {
		if err := validateLimit(name, limit); err != nil {
			return err
		}
	}

	if c.Session.IdleTimeoutMinutes <= 0 || c.Session.MaxLifetimeHours <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidSession)
	}
	if c.Session.MaxFailures <= 0 || c.Session.LockoutMinutes <= 0 {
		return fmt.Errorf("%w: lockout settings must be positive", ErrInvalidSession)
	}
	if c.Session.StrictRiskThreshold <= 0 || c.Session.RevokeRiskThreshold <= c.Session.StrictRiskThreshold {
		return fmt.Errorf("%w: revoke threshold must exceed strict threshold", ErrInvalidSession)
	}
	if _, ok := securityLevels[c.Session.DefaultLevel]; !ok {
		return fmt.Errorf("%w: unknown default level %q", ErrInvalidSession, c.Session.DefaultLevel)
	}
	if c.Session.Persist && c.Session.DatabasePath == "" {
		return fmt.Errorf("%w: persistence enabled without database path", ErrInvalidSession)
	}

	if c.Audit.Dir == "" {
		return fmt.Errorf("%w: audit directory is required", ErrInvalidAudit)
	}
	if c.Audit.MaxSegmentBytes <= 0 || c.Audit.MaxSegmentHours <= 0 || c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("%w: rotation settings must be positive", ErrInvalidAudit)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidAudit)
	}

	if c.Observability.Enabled && c.Observability.Endpoint == "" {
		return ErrMissingEndpoint
	}
	return nil
}

func validateLimit(name string, limit EndpointLimit) error {
	if _, ok := strategies[limit.Strategy]; !ok {
		return fmt.Errorf("%w: %q has unknown strategy %q", ErrInvalidRateLimit, name, limit.Strategy)
	}
	if limit.PerSecond < 0 || limit.PerMinute < 0 || limit.PerHour < 0 || limit.Burst < 0 {
		return fmt.Errorf("%w: %q has negative ceiling", ErrInvalidRateLimit, name)
	}
	if limit.PenaltyMultiplier < 0 || limit.PenaltyMultiplier > 1 {
		return fmt.Errorf("%w: %q penalty multiplier outside 0-1", ErrInvalidRateLimit, name)
	}
	if limit.AdaptiveThreshold < 0 || limit.AdaptiveThreshold > 1 {
		return fmt.Errorf("%w: %q adaptive threshold outside 0-1", ErrInvalidRateLimit, name)
	}
	return nil
}
