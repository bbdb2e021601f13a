// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.secgate/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Log: level and format for structured logging
//   - Sanitize: input length/depth caps and the allowed filesystem root
//   - Commands/Roles: the command whitelist and role permission grants
//   - RateLimit: per-endpoint ceilings and the fallback policy
//   - Session: timeouts, lockout, and risk thresholds
//   - Audit: log directory, rotation, retention, queue size
//   - Observability: OTLP trace export
//
// Security: sensitive fields (the OTLP API key) are masked in
// MarshalJSON; the config directory uses 0750 permissions. Validation is
// fail-fast with sentinel errors matched via errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LogConfig controls the slog handler.
type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	JSON      bool   `mapstructure:"json" json:"json"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

// SanitizeConfig caps input sizes and anchors path validation.
type SanitizeConfig struct {
	MaxStringLen    int    `mapstructure:"max_string_len" json:"max_string_len"`
	MaxPayloadBytes int    `mapstructure:"max_payload_bytes" json:"max_payload_bytes"`
	MaxJSONDepth    int    `mapstructure:"max_json_depth" json:"max_json_depth"`
	AllowedRoot     string `mapstructure:"allowed_root" json:"allowed_root"`
}

// CommandConfig is one whitelist entry.
type CommandConfig struct {
	Name               string   `mapstructure:"name" json:"name"`
	Aliases            []string `mapstructure:"aliases" json:"aliases"`
	Classification     string   `mapstructure:"classification" json:"classification"`
	Permissions        []string `mapstructure:"permissions" json:"permissions"`
	BlockedArgPatterns []string `mapstructure:"blocked_arg_patterns" json:"blocked_arg_patterns"`
	RatePerMinute      int      `mapstructure:"rate_per_minute" json:"rate_per_minute"`
	RiskScore          int      `mapstructure:"risk_score" json:"risk_score"`
	RequiresMFA        bool     `mapstructure:"requires_mfa" json:"requires_mfa"`
}

// RoleConfig grants permissions to a role, optionally inheriting others.
type RoleConfig struct {
	Grants   []string `mapstructure:"grants" json:"grants"`
	Inherits []string `mapstructure:"inherits" json:"inherits"`
}

// EndpointLimit is one rate-limit policy.
type EndpointLimit struct {
	Strategy          string  `mapstructure:"strategy" json:"strategy"`
	PerSecond         int     `mapstructure:"per_second" json:"per_second"`
	PerMinute         int     `mapstructure:"per_minute" json:"per_minute"`
	PerHour           int     `mapstructure:"per_hour" json:"per_hour"`
	Burst             int     `mapstructure:"burst" json:"burst"`
	PenaltyMultiplier float64 `mapstructure:"penalty_multiplier" json:"penalty_multiplier"`
	CooldownSeconds   int     `mapstructure:"cooldown_seconds" json:"cooldown_seconds"`
	AdaptiveThreshold float64 `mapstructure:"adaptive_threshold" json:"adaptive_threshold"`
}

// RateLimitConfig holds per-endpoint limits plus the fallback for
// endpoints without an explicit entry.
type RateLimitConfig struct {
	Endpoints map[string]EndpointLimit `mapstructure:"endpoints" json:"endpoints"`
	Fallback  EndpointLimit            `mapstructure:"fallback" json:"fallback"`
}

// SessionConfig tunes the session engine.
type SessionConfig struct {
	IdleTimeoutMinutes     int    `mapstructure:"idle_timeout_minutes" json:"idle_timeout_minutes"`
	MaxLifetimeHours       int    `mapstructure:"max_lifetime_hours" json:"max_lifetime_hours"`
	MaxFailures            int    `mapstructure:"max_failures" json:"max_failures"`
	FailureWindowMinutes   int    `mapstructure:"failure_window_minutes" json:"failure_window_minutes"`
	LockoutMinutes         int    `mapstructure:"lockout_minutes" json:"lockout_minutes"`
	StrictRiskThreshold    int    `mapstructure:"strict_risk_threshold" json:"strict_risk_threshold"`
	RevokeRiskThreshold    int    `mapstructure:"revoke_risk_threshold" json:"revoke_risk_threshold"`
	DefaultLevel           string `mapstructure:"default_level" json:"default_level"`
	Persist                bool   `mapstructure:"persist" json:"persist"`
	DatabasePath           string `mapstructure:"database_path" json:"database_path"`
}

// AuditConfig tunes the audit log.
type AuditConfig struct {
	Dir             string `mapstructure:"dir" json:"dir"`
	MaxSegmentBytes int64  `mapstructure:"max_segment_bytes" json:"max_segment_bytes"`
	MaxSegmentHours int    `mapstructure:"max_segment_hours" json:"max_segment_hours"`
	RetentionDays   int    `mapstructure:"retention_days" json:"retention_days"`
	QueueSize       int    `mapstructure:"queue_size" json:"queue_size"`
}

// ObservabilityConfig configures OTLP trace export.
type ObservabilityConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
	APIKey      string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	Log           LogConfig                `mapstructure:"log" json:"log"`
	Sanitize      SanitizeConfig           `mapstructure:"sanitize" json:"sanitize"`
	Commands      []CommandConfig          `mapstructure:"commands" json:"commands"`
	Roles         map[string]RoleConfig    `mapstructure:"roles" json:"roles"`
	RateLimit     RateLimitConfig          `mapstructure:"rate_limit" json:"rate_limit"`
	Session       SessionConfig            `mapstructure:"session" json:"session"`
	Audit         AuditConfig              `mapstructure:"audit" json:"audit"`
	Observability ObservabilityConfig      `mapstructure:"observability" json:"observability"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".secgate")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", true)
	viper.SetDefault("log.add_source", false)

	viper.SetDefault("sanitize.max_string_len", 8192)
	viper.SetDefault("sanitize.max_payload_bytes", 256*1024)
	viper.SetDefault("sanitize.max_json_depth", 32)
	viper.SetDefault("sanitize.allowed_root", "")

	viper.SetDefault("rate_limit.fallback.strategy", "sliding_window")
	viper.SetDefault("rate_limit.fallback.per_second", 10)
	viper.SetDefault("rate_limit.fallback.per_minute", 100)
	viper.SetDefault("rate_limit.fallback.penalty_multiplier", 0.5)
	viper.SetDefault("rate_limit.fallback.cooldown_seconds", 30)

	viper.SetDefault("session.idle_timeout_minutes", 30)
	viper.SetDefault("session.max_lifetime_hours", 12)
	viper.SetDefault("session.max_failures", 5)
	viper.SetDefault("session.failure_window_minutes", 5)
	viper.SetDefault("session.lockout_minutes", 15)
	viper.SetDefault("session.strict_risk_threshold", 70)
	viper.SetDefault("session.revoke_risk_threshold", 90)
	viper.SetDefault("session.default_level", "enhanced")
	viper.SetDefault("session.persist", true)
	viper.SetDefault("session.database_path", filepath.Join(configDir, "state.db"))

	viper.SetDefault("audit.dir", filepath.Join(configDir, "audit"))
	viper.SetDefault("audit.max_segment_bytes", 4*1024*1024)
	viper.SetDefault("audit.max_segment_hours", 24)
	viper.SetDefault("audit.retention_days", 30)
	viper.SetDefault("audit.queue_size", 1024)

	viper.SetDefault("observability.enabled", false)
	viper.SetDefault("observability.endpoint", "localhost:4318")
	viper.SetDefault("observability.service_name", "secgate")
	viper.SetDefault("observability.environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings
	// cannot fail). A panic here is a bug in this file, not a runtime
	// error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("log.level", "SECGATE_LOG_LEVEL")
	mustBind("sanitize.allowed_root", "SECGATE_ALLOWED_ROOT")
	mustBind("session.database_path", "SECGATE_DB_PATH")
	mustBind("audit.dir", "SECGATE_AUDIT_DIR")
	mustBind("observability.enabled", "SECGATE_OTEL_ENABLED")
	mustBind("observability.endpoint", "SECGATE_OTEL_ENDPOINT")
	mustBind("observability.api_key", "SECGATE_OTEL_API_KEY")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matching against the real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of eight
// characters or fewer are fully masked; longer ones keep the first and
// last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + maskedValue + s[len(s)-2:]
}

// MarshalJSON masks sensitive fields so the config can be logged or
// dumped without leaking secrets.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	masked.Observability.APIKey = maskSecret(c.Observability.APIKey)
	return json.Marshal(masked)
}

// durations converted from the flat integer fields.
func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }
func hours(n int) time.Duration   { return time.Duration(n) * time.Hour }
func days(n int) time.Duration    { return time.Duration(n) * 24 * time.Hour }
