package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/autodev-ai/secgate/internal/log"
)

const (
	cleanupInterval = 5 * time.Minute
	staleThreshold  = 10 * time.Minute
)

// tierDurations are evaluated in order: second, minute, hour.
var tierDurations = [3]time.Duration{time.Second, time.Minute, time.Hour}

// window tracks occupancy of one aligned time bucket plus the previous
// bucket's final count (used by the sliding and adaptive strategies).
type window struct {
	start time.Time
	count int
	prev  int
}

// roll advances the window to the bucket containing now. prev keeps the old
// count only when the new bucket is immediately adjacent; after a gap the
// previous load is zero by definition.
func (w *window) roll(now time.Time, dur time.Duration) {
	start := now.Truncate(dur)
	if start.Equal(w.start) {
		return
	}
	if start.Equal(w.start.Add(dur)) {
		w.prev = w.count
	} else {
		w.prev = 0
	}
	w.count = 0
	w.start = start
}

// entry is the per-(identity, endpoint) counter record. All fields are
// guarded by mu; entries for different keys never contend.
type entry struct {
	mu           sync.Mutex
	tiers        [3]window
	bucket       *rate.Limiter // token_bucket strategy, second tier
	bucketFactor float64       // last scale applied to the bucket limit
	penaltyUntil time.Time
	lastSeen     time.Time
}

// Limiter owns all rate-limit state. The outer mutex guards only the entry
// map; counter mutation happens under each entry's own lock so concurrent
// requests for unrelated identities proceed in parallel.
type Limiter struct {
	mu          sync.Mutex
	entries     map[string]*entry
	lastCleanup time.Time

	violMu     sync.Mutex
	violations map[string]int // per identity, consumed by session risk scoring

	configs  map[string]EndpointConfig
	fallback EndpointConfig
	logger   log.Logger
	now      func() time.Time
}

// New creates a Limiter. configs maps endpoint names to their parameters;
// endpoints without an explicit config use fallback.
func New(configs map[string]EndpointConfig, fallback EndpointConfig, logger log.Logger) *Limiter {
	prepared := make(map[string]EndpointConfig, len(configs))
	for name, cfg := range configs {
		prepared[name] = cfg.withDefaults()
	}
	return &Limiter{
		entries:     make(map[string]*entry),
		lastCleanup: time.Now(),
		violations:  make(map[string]int),
		configs:     prepared,
		fallback:    fallback.withDefaults(),
		logger:      log.ForComponent(logger, "ratelimit"),
		now:         time.Now,
	}
}

// Check records one request attempt for the (identity, endpoint) pair and
// decides whether it may proceed. risk is the caller's session risk score
// (0-100); higher risk shrinks the effective ceilings. Tiers are evaluated
// second, then minute, then hour, short-circuiting on the first exceeded one.
// Counters are only committed when every tier admits the request, so a denied
// request consumes no allowance.
func (l *Limiter) Check(identity, endpoint string, risk int) Decision {
	cfg := l.configFor(endpoint)
	e := l.entryFor(identity + "|" + endpoint)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.now()
	e.lastSeen = now
	for i := range e.tiers {
		e.tiers[i].roll(now, tierDurations[i])
	}

	factor := l.scaleFactor(e, cfg, now, risk)

	decision := l.evaluate(e, cfg, now, factor)
	if !decision.Allowed {
		l.recordViolation(e, identity, endpoint, cfg, now)
	}
	return decision
}

// Violations returns the accumulated violation count for an identity.
func (l *Limiter) Violations(identity string) int {
	l.violMu.Lock()
	defer l.violMu.Unlock()
	return l.violations[identity]
}

// ClearViolations resets the counter for an identity, e.g. when its session
// is destroyed.
func (l *Limiter) ClearViolations(identity string) {
	l.violMu.Lock()
	defer l.violMu.Unlock()
	delete(l.violations, identity)
}

func (l *Limiter) configFor(endpoint string) EndpointConfig {
	if cfg, ok := l.configs[endpoint]; ok {
		return cfg
	}
	return l.fallback
}

// entryFor returns the counter record for a key, creating it on first use.
// Stale entries are swept inline while the map lock is already held.
func (l *Limiter) entryFor(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > cleanupInterval {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > staleThreshold {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &entry{bucketFactor: 1}
		l.entries[key] = e
	}
	return e
}

// scaleFactor combines the penalty and risk multipliers applied to every
// ceiling. Must be called with e.mu held.
func (l *Limiter) scaleFactor(e *entry, cfg EndpointConfig, now time.Time, risk int) float64 {
	factor := 1.0
	if now.Before(e.penaltyUntil) {
		factor *= cfg.PenaltyMultiplier
	}
	factor *= riskFactor(risk)
	return factor
}

// riskFactor maps a session risk score to a ceiling multiplier: benign
// sessions (risk <= 50) keep the full ceiling, the riskiest sessions get
// half of it.
func riskFactor(risk int) float64 {
	switch {
	case risk <= 50:
		return 1
	case risk >= 100:
		return 0.5
	default:
		return 1 - 0.5*float64(risk-50)/50
	}
}

// evaluate checks all tiers and commits counters when admitted.
// Must be called with e.mu held.
func (l *Limiter) evaluate(e *entry, cfg EndpointConfig, now time.Time, factor float64) Decision {
	ceilings := [3]int{cfg.PerSecond, cfg.PerMinute, cfg.PerHour}

	var reservation *rate.Reservation
	remaining := -1

	// Second tier via token bucket when that strategy is selected.
	startTier := 0
	if cfg.Strategy == StrategyTokenBucket && cfg.PerSecond > 0 {
		l.syncBucket(e, cfg, now, factor)
		reservation = e.bucket.ReserveN(now, 1)
		if delay := reservation.DelayFrom(now); !reservation.OK() || delay > 0 {
			reservation.CancelAt(now)
			return Decision{RetryAfter: max(delay, time.Millisecond)}
		}
		remaining = int(e.bucket.TokensAt(now))
		startTier = 1
	}

	// Remaining tiers use window counting under the selected strategy.
	for i := startTier; i < len(ceilings); i++ {
		base := ceilings[i]
		if base == 0 {
			continue
		}
		effective := scaleCeiling(base, factor)
		if cfg.Strategy == StrategyAdaptive {
			effective = scaleCeiling(effective, adaptiveFactor(e.tiers[i].prev, base, cfg.AdaptiveThreshold))
		}

		occupancy := float64(e.tiers[i].count)
		if cfg.Strategy == StrategySlidingWindow {
			elapsed := now.Sub(e.tiers[i].start)
			frac := float64(elapsed) / float64(tierDurations[i])
			occupancy += float64(e.tiers[i].prev) * (1 - frac)
		}

		if occupancy+1 > float64(effective) {
			if reservation != nil {
				reservation.CancelAt(now)
			}
			retry := e.tiers[i].start.Add(tierDurations[i]).Sub(now)
			return Decision{RetryAfter: max(retry, time.Millisecond)}
		}

		if left := effective - e.tiers[i].count - 1; remaining < 0 || left < remaining {
			remaining = left
		}
	}

	// All tiers admitted: commit.
	for i := startTier; i < len(ceilings); i++ {
		if ceilings[i] > 0 {
			e.tiers[i].count++
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// syncBucket creates the token bucket on first use and re-scales its refill
// rate when the penalty/risk factor changes. Must be called with e.mu held.
func (l *Limiter) syncBucket(e *entry, cfg EndpointConfig, now time.Time, factor float64) {
	if e.bucket == nil {
		e.bucket = rate.NewLimiter(rate.Limit(float64(cfg.PerSecond)*factor), cfg.Burst)
		e.bucketFactor = factor
		return
	}
	if e.bucketFactor != factor {
		e.bucket.SetLimitAt(now, rate.Limit(float64(cfg.PerSecond)*factor))
		e.bucketFactor = factor
	}
}

// adaptiveFactor shrinks a ceiling once the previous window's load crossed
// the threshold fraction, proportionally to the overshoot, and recovers
// linearly as observed load drops back. Never shrinks below a quarter of the
// base ceiling so a burst cannot lock an endpoint shut.
func adaptiveFactor(prevCount, baseCeiling int, threshold float64) float64 {
	if baseCeiling <= 0 {
		return 1
	}
	load := float64(prevCount) / float64(baseCeiling)
	if load <= threshold {
		return 1
	}
	factor := 1 - (load - threshold)
	if factor < 0.25 {
		return 0.25
	}
	return factor
}

// scaleCeiling applies a multiplier to a base ceiling, keeping at least one
// available slot so a penalized identity can eventually recover.
func scaleCeiling(base int, factor float64) int {
	if base <= 0 {
		return 0
	}
	scaled := int(float64(base) * factor)
	if scaled < 1 {
		return 1
	}
	return scaled
}

// recordViolation applies the penalty window and bumps the per-identity
// violation counter. Must be called with e.mu held.
func (l *Limiter) recordViolation(e *entry, identity, endpoint string, cfg EndpointConfig, now time.Time) {
	e.penaltyUntil = now.Add(cfg.Cooldown)

	l.violMu.Lock()
	l.violations[identity]++
	count := l.violations[identity]
	l.violMu.Unlock()

	l.logger.Warn("rate limit violation",
		"identity", identity,
		"endpoint", endpoint,
		"violations", count,
		"cooldown", cfg.Cooldown,
		"security_event", "rate_limit_violation")
}
