package config

import (
	"fmt"
	"time"

	"github.com/autodev-ai/secgate/internal/audit"
	"github.com/autodev-ai/secgate/internal/command"
	"github.com/autodev-ai/secgate/internal/ratelimit"
	"github.com/autodev-ai/secgate/internal/sanitize"
	"github.com/autodev-ai/secgate/internal/session"
)

// CommandDefinitions converts whitelist entries into registry
// definitions.
func (c *Config) CommandDefinitions() ([]command.Definition, error) {
	defs := make([]command.Definition, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		class, err := command.ParseClassification(cmd.Classification)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", cmd.Name, err)
		}
		defs = append(defs, command.Definition{
			Name:               cmd.Name,
			Aliases:            cmd.Aliases,
			Classification:     class,
			Required:           command.NewPermissions(cmd.Permissions...),
			BlockedArgPatterns: cmd.BlockedArgPatterns,
			RatePerMinute:      cmd.RatePerMinute,
			RiskScore:          cmd.RiskScore,
			RequiresMFA:        cmd.RequiresMFA,
		})
	}
	return defs, nil
}

// RoleSpecs converts role grants into the shape FlattenRoles expects.
func (c *Config) RoleSpecs() map[string]command.RoleSpec {
	specs := make(map[string]command.RoleSpec, len(c.Roles))
	for name, role := range c.Roles {
		specs[name] = command.RoleSpec{Grants: role.Grants, Inherits: role.Inherits}
	}
	return specs
}

// SanitizeLimits returns the sanitizer caps.
func (c *Config) SanitizeLimits() sanitize.Limits {
	return sanitize.Limits{
		MaxStringLen:    c.Sanitize.MaxStringLen,
		MaxPayloadBytes: c.Sanitize.MaxPayloadBytes,
		MaxJSONDepth:    c.Sanitize.MaxJSONDepth,
	}
}

// EndpointConfigs builds the limiter's per-endpoint table. Commands
// carrying their own per-minute ceiling contribute an entry unless the
// endpoint is configured explicitly.
func (c *Config) EndpointConfigs() map[string]ratelimit.EndpointConfig {
	configs := make(map[string]ratelimit.EndpointConfig, len(c.RateLimit.Endpoints))
	for name, limit := range c.RateLimit.Endpoints {
		configs[name] = toEndpointConfig(limit)
	}
	for _, cmd := range c.Commands {
		if cmd.RatePerMinute <= 0 {
			continue
		}
		if _, ok := configs[cmd.Name]; ok {
			continue
		}
		configs[cmd.Name] = ratelimit.EndpointConfig{
			Strategy:  ratelimit.StrategySlidingWindow,
			PerMinute: cmd.RatePerMinute,
		}
	}
	return configs
}

// FallbackEndpoint returns the limiter's policy for unconfigured
// endpoints.
func (c *Config) FallbackEndpoint() ratelimit.EndpointConfig {
	return toEndpointConfig(c.RateLimit.Fallback)
}

func toEndpointConfig(limit EndpointLimit) ratelimit.EndpointConfig {
	return ratelimit.EndpointConfig{
		Strategy:          ratelimit.Strategy(limit.Strategy),
		PerSecond:         limit.PerSecond,
		PerMinute:         limit.PerMinute,
		PerHour:           limit.PerHour,
		Burst:             limit.Burst,
		PenaltyMultiplier: limit.PenaltyMultiplier,
		Cooldown:          time.Duration(limit.CooldownSeconds) * time.Second,
		AdaptiveThreshold: limit.AdaptiveThreshold,
	}
}

// SessionSettings converts the flat session section into the engine
// config.
func (c *Config) SessionSettings() (session.Config, error) {
	level, err := session.ParseSecurityLevel(c.Session.DefaultLevel)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		IdleTimeout:     minutes(c.Session.IdleTimeoutMinutes),
		MaxLifetime:     hours(c.Session.MaxLifetimeHours),
		MaxFailures:     c.Session.MaxFailures,
		FailureWindow:   minutes(c.Session.FailureWindowMinutes),
		LockoutDuration: minutes(c.Session.LockoutMinutes),
		StrictThreshold: c.Session.StrictRiskThreshold,
		RevokeThreshold: c.Session.RevokeRiskThreshold,
		DefaultLevel:    level,
	}, nil
}

// AuditSettings converts the audit section into the logger config.
func (c *Config) AuditSettings() audit.Config {
	return audit.Config{
		Segment: audit.SegmentConfig{
			Dir:             c.Audit.Dir,
			MaxSegmentBytes: c.Audit.MaxSegmentBytes,
			MaxSegmentAge:   hours(c.Audit.MaxSegmentHours),
			Retention:       days(c.Audit.RetentionDays),
		},
		QueueSize: c.Audit.QueueSize,
	}
}
