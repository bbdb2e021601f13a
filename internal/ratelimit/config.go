package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// Strategy selects the limiting algorithm for an endpoint.
type Strategy string

const (
	StrategyFixedWindow   Strategy = "fixed_window"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategyAdaptive      Strategy = "adaptive"
)

var (
	// ErrUnknownStrategy indicates an unrecognized strategy name in config.
	ErrUnknownStrategy = errors.New("unknown rate limit strategy")

	// ErrInvalidCeiling indicates a non-positive ceiling in config.
	ErrInvalidCeiling = errors.New("invalid rate limit ceiling")
)

// EndpointConfig holds the operator-configured parameters for one endpoint.
// Loaded at startup; immutable thereafter.
type EndpointConfig struct {
	Strategy Strategy

	// Ceilings per tier. A zero ceiling disables that tier.
	PerSecond int
	PerMinute int
	PerHour   int

	// Burst is the token bucket capacity (token_bucket only). Defaults to
	// PerSecond when zero.
	Burst int

	// PenaltyMultiplier shrinks effective ceilings after a violation,
	// e.g. 0.5 halves them. Defaults to 0.5.
	PenaltyMultiplier float64

	// Cooldown is how long the penalty lasts. Defaults to 30s.
	Cooldown time.Duration

	// AdaptiveThreshold is the load fraction past which the adaptive
	// strategy starts shrinking ceilings. Defaults to 0.8.
	AdaptiveThreshold float64
}

// Validate rejects configurations that cannot limit anything or would divide
// by zero at runtime. Called by the config loader before the limiter is built.
func (c EndpointConfig) Validate() error {
	switch c.Strategy {
	case StrategyFixedWindow, StrategySlidingWindow, StrategyTokenBucket, StrategyAdaptive:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
	if c.PerSecond < 0 || c.PerMinute < 0 || c.PerHour < 0 {
		return fmt.Errorf("%w: ceilings must be non-negative", ErrInvalidCeiling)
	}
	if c.PerSecond == 0 && c.PerMinute == 0 && c.PerHour == 0 {
		return fmt.Errorf("%w: endpoint has no active tier", ErrInvalidCeiling)
	}
	if c.PenaltyMultiplier < 0 || c.PenaltyMultiplier > 1 {
		return fmt.Errorf("%w: penalty multiplier %v outside [0,1]", ErrInvalidCeiling, c.PenaltyMultiplier)
	}
	if c.AdaptiveThreshold < 0 || c.AdaptiveThreshold >= 1 {
		return fmt.Errorf("%w: adaptive threshold %v outside [0,1)", ErrInvalidCeiling, c.AdaptiveThreshold)
	}
	return nil
}

func (c EndpointConfig) withDefaults() EndpointConfig {
	if c.Burst <= 0 {
		c.Burst = c.PerSecond
	}
	if c.PenaltyMultiplier == 0 {
		c.PenaltyMultiplier = 0.5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.AdaptiveThreshold == 0 {
		c.AdaptiveThreshold = 0.8
	}
	return c
}

// Decision is the outcome of a limiter check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long the caller should wait before retrying.
	// Positive whenever Allowed is false.
	RetryAfter time.Duration
	// Remaining is the lowest remaining allowance across active tiers.
	Remaining int
}
