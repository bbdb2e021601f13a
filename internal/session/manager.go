package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autodev-ai/secgate/internal/log"
)

// Risk score adjustments. The score lives on 0-100: mismatches and
// failures push it up, sustained clean validations bleed it back down.
const (
	riskMax              = 100
	riskFingerprintDrift = 10
	riskAddressDrift     = 10
	riskAuthFailure      = 15
	riskPerViolation     = 8
	riskDecayPerPass     = 1
)

// ViolationSource reports recent rate-limit violations for an identity.
// The Manager folds them into the session's risk score. *ratelimit.Limiter
// satisfies it.
type ViolationSource interface {
	Violations(identity string) int
}

// Store persists security state across restarts. Implementations must be
// safe for concurrent use. All Manager writes to the store are
// best-effort: a persistence failure is logged, never surfaced to the
// request path.
type Store interface {
	SaveSession(ctx context.Context, rec StoredSession) error
	DeleteSession(ctx context.Context, tokenHash string) error
	LoadSessions(ctx context.Context) ([]StoredSession, error)
	SaveRevocation(ctx context.Context, tokenHash string, until time.Time) error
	LoadRevocations(ctx context.Context) (map[string]time.Time, error)
	// SaveSalt and LoadSalt persist the token-hashing salt. Stored rows
	// are keyed by salted digests, so restored state is only reachable
	// under the salt that wrote it.
	SaveSalt(ctx context.Context, salt []byte) error
	LoadSalt(ctx context.Context) ([]byte, error)
}

// StoredSession is the persisted form of a session. The token itself is
// absent: only its salted hash is stored.
type StoredSession struct {
	TokenHash    string
	ID           string
	UserID       string
	Role         string
	Fingerprint  string
	Address      string
	AuthState    int
	Level        int
	Risk         int
	CreatedAt    time.Time
	LastActivity time.Time
}

// record is the live session state. Its mutex serializes validations of
// the same session; different sessions proceed in parallel.
type record struct {
	mu sync.Mutex

	id          string
	userID      string
	role        string
	fingerprint string
	address     string

	authState AuthState
	level     SecurityLevel
	risk      int

	createdAt     time.Time
	lastActivity  time.Time
	lastValidated time.Time

	// failures holds timestamps of recent authentication failures,
	// pruned to the rolling window.
	failures []time.Time
	// lockedUntil freezes the session after too many failures.
	lockedUntil time.Time
	// lastViolations remembers the rate-limit violation count already
	// folded into risk, so each violation is counted once.
	lastViolations int
}

// Manager issues, validates, and revokes sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*record // keyed by token hash

	blMu      sync.Mutex
	blacklist map[string]time.Time // token hash -> expiry

	salt       []byte
	cfg        Config
	violations ViolationSource
	store      Store
	logger     log.Logger

	now func() time.Time
}

// NewManager builds a session manager. violations and store may be nil.
// When a store is given, previously persisted sessions and revocations are
// loaded so security state survives restarts.
func NewManager(cfg Config, violations ViolationSource, store Store, logger log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	salt, err := loadOrCreateSalt(context.Background(), store)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		sessions:   make(map[string]*record),
		blacklist:  make(map[string]time.Time),
		salt:       salt,
		cfg:        cfg.withDefaults(),
		violations: violations,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
	if store != nil {
		if err := m.restore(context.Background()); err != nil {
			logger.Warn("session state restore failed", "error", err)
		}
	}
	return m, nil
}

// loadOrCreateSalt reuses the salt persisted alongside the sessions, so
// token digests stay stable across restarts. Without a store every
// process gets a fresh salt.
func loadOrCreateSalt(ctx context.Context, store Store) ([]byte, error) {
	if store == nil {
		return newSalt()
	}
	salt, err := store.LoadSalt(ctx)
	if err != nil {
		return nil, err
	}
	if len(salt) > 0 {
		return salt, nil
	}
	salt, err = newSalt()
	if err != nil {
		return nil, err
	}
	if err := store.SaveSalt(ctx, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// restore reloads persisted sessions and revocations. Rows are keyed by
// their stored token hash and the salt is shared through the store, so
// tokens issued before the restart validate and revoked tokens stay
// blocked.
func (m *Manager) restore(ctx context.Context) error {
	recs, err := m.store.LoadSessions(ctx)
	if err != nil {
		return err
	}
	now := m.now()
	for _, s := range recs {
		if now.Sub(s.LastActivity) > m.cfg.IdleTimeout || now.Sub(s.CreatedAt) > m.cfg.MaxLifetime {
			continue
		}
		m.sessions[s.TokenHash] = &record{
			id:            s.ID,
			userID:        s.UserID,
			role:          s.Role,
			fingerprint:   s.Fingerprint,
			address:       s.Address,
			authState:     AuthState(s.AuthState),
			level:         SecurityLevel(s.Level),
			risk:          s.Risk,
			createdAt:     s.CreatedAt,
			lastActivity:  s.LastActivity,
			lastValidated: s.LastActivity,
		}
	}
	revs, err := m.store.LoadRevocations(ctx)
	if err != nil {
		return err
	}
	for hash, until := range revs {
		if until.After(now) {
			m.blacklist[hash] = until
		}
	}
	m.logger.Info("session state restored",
		"sessions", len(m.sessions),
		"revocations", len(m.blacklist))
	return nil
}

// Create issues a new session for a user and returns the raw token. The
// token is the only credential: it is never stored, only its salted hash.
func (m *Manager) Create(ctx context.Context, userID, role, fingerprint, address string) (string, error) {
	token, digest, err := newToken(m.salt)
	if err != nil {
		return "", err
	}
	now := m.now()
	rec := &record{
		id:            uuid.NewString(),
		userID:        userID,
		role:          role,
		fingerprint:   fingerprint,
		address:       address,
		authState:     Authenticated,
		level:         m.cfg.DefaultLevel,
		createdAt:     now,
		lastActivity:  now,
		lastValidated: now,
	}

	m.mu.Lock()
	m.sessions[digest] = rec
	m.mu.Unlock()

	m.persist(ctx, digest, rec)
	m.logger.Info("session created",
		"security_event", "session_created",
		"session_id", rec.id,
		"user_id", userID,
		"role", role,
		"level", rec.level.String())
	return token, nil
}

// Validate verifies a presented token against the stored session and the
// observed client attributes. On success it refreshes activity, adjusts
// the risk score, and returns a snapshot. Checks run in a fixed order:
// existence, revocation, lockout, expiry, fingerprint, address,
// revalidation interval.
func (m *Manager) Validate(ctx context.Context, token string, obs Observed) (Snapshot, error) {
	digest := hashToken(m.salt, token)
	now := m.now()

	if err := m.checkBlacklist(digest, now); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	rec, ok := m.sessions[digest]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.level == Restricted {
		return Snapshot{}, ErrRestricted
	}
	if now.Before(rec.lockedUntil) {
		return Snapshot{}, ErrLocked
	}
	if now.Sub(rec.lastActivity) > m.cfg.IdleTimeout || now.Sub(rec.createdAt) > m.cfg.MaxLifetime {
		m.dropSession(ctx, digest, rec, "expired")
		return Snapshot{}, ErrExpired
	}

	policy := m.cfg.Policies[rec.level]
	drift := 0

	if obs.Fingerprint != rec.fingerprint {
		if policy.EnforceFingerprint {
			m.raiseRisk(ctx, digest, rec, riskFingerprintDrift, "fingerprint_mismatch")
			return Snapshot{}, ErrFingerprintMismatch
		}
		drift += riskFingerprintDrift
	}
	if obs.Address != rec.address {
		if !addressAllowed(policy.Address, rec.address, obs.Address) {
			m.raiseRisk(ctx, digest, rec, riskAddressDrift, "address_mismatch")
			return Snapshot{}, ErrAddressMismatch
		}
		drift += riskAddressDrift
	}
	if policy.RevalidateInterval > 0 && now.Sub(rec.lastValidated) > policy.RevalidateInterval {
		return Snapshot{}, ErrRevalidationRequired
	}

	// Fold in rate-limit violations observed since the last pass.
	if m.violations != nil {
		if v := m.violations.Violations(rec.userID); v > rec.lastViolations {
			drift += (v - rec.lastViolations) * riskPerViolation
			rec.lastViolations = v
		}
	}

	if drift > 0 {
		rec.risk = min(riskMax, rec.risk+drift)
	} else if rec.risk > 0 {
		rec.risk -= riskDecayPerPass
	}

	if rec.risk >= m.cfg.RevokeThreshold {
		m.revokeLocked(ctx, digest, rec, now.Add(m.cfg.LockoutDuration), "risk_threshold")
		return Snapshot{}, ErrRevoked
	}
	if rec.risk >= m.cfg.StrictThreshold && rec.level < Strict {
		rec.level = Strict
		m.logger.Warn("session escalated",
			"security_event", "session_escalated",
			"session_id", rec.id,
			"user_id", rec.userID,
			"risk", rec.risk)
	}

	rec.lastActivity = now
	rec.lastValidated = now
	m.persist(ctx, digest, rec)
	return snapshotOf(rec), nil
}

// RecordFailure registers an authentication failure against a session.
// Crossing the failure threshold inside the rolling window locks the
// session for the configured duration. The lock is temporary: once it
// lapses and the window drains, the session validates again.
func (m *Manager) RecordFailure(ctx context.Context, token string) {
	digest := hashToken(m.salt, token)
	m.mu.RLock()
	rec, ok := m.sessions[digest]
	m.mu.RUnlock()
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	now := m.now()
	rec.failures = append(rec.failures, now)
	rec.risk = min(riskMax, rec.risk+riskAuthFailure)
	if m.lockedOut(rec, now) {
		rec.lockedUntil = now.Add(m.cfg.LockoutDuration)
		m.logger.Warn("session locked",
			"security_event", "session_locked",
			"session_id", rec.id,
			"user_id", rec.userID,
			"failures", len(rec.failures))
	}
	m.persist(ctx, digest, rec)
}

// SetAuthState records a change in authentication strength, e.g. after a
// completed second-factor challenge.
func (m *Manager) SetAuthState(ctx context.Context, token string, state AuthState) error {
	digest := hashToken(m.salt, token)
	m.mu.RLock()
	rec, ok := m.sessions[digest]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	rec.mu.Lock()
	rec.authState = state
	m.persist(ctx, digest, rec)
	rec.mu.Unlock()
	return nil
}

// Revoke removes a session and blacklists its token until the lockout
// duration elapses, so a revoked token cannot be replayed.
func (m *Manager) Revoke(ctx context.Context, token string) {
	digest := hashToken(m.salt, token)
	m.mu.RLock()
	rec, ok := m.sessions[digest]
	m.mu.RUnlock()
	if !ok {
		return
	}
	rec.mu.Lock()
	m.revokeLocked(ctx, digest, rec, m.now().Add(m.cfg.LockoutDuration), "revoked")
	rec.mu.Unlock()
}

// ActiveCount returns the number of sessions not yet expired.
func (m *Manager) ActiveCount() int {
	now := m.now()
	n := 0
	for _, rec := range m.records() {
		rec.mu.Lock()
		live := now.Sub(rec.lastActivity) <= m.cfg.IdleTimeout && now.Sub(rec.createdAt) <= m.cfg.MaxLifetime
		rec.mu.Unlock()
		if live {
			n++
		}
	}
	return n
}

// AverageRisk returns the mean risk score across live sessions, zero when
// no sessions exist.
func (m *Manager) AverageRisk() float64 {
	recs := m.records()
	if len(recs) == 0 {
		return 0
	}
	sum := 0
	for _, rec := range recs {
		rec.mu.Lock()
		sum += rec.risk
		rec.mu.Unlock()
	}
	return float64(sum) / float64(len(recs))
}

// records copies the current session pointers. Record locks are taken only
// after the map lock is released: revocation takes them in the opposite
// order, and holding both here would invite a deadlock.
func (m *Manager) records() []*record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]*record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		recs = append(recs, rec)
	}
	return recs
}

func (m *Manager) checkBlacklist(digest string, now time.Time) error {
	m.blMu.Lock()
	defer m.blMu.Unlock()
	until, ok := m.blacklist[digest]
	if !ok {
		return nil
	}
	if now.After(until) {
		delete(m.blacklist, digest)
		return nil
	}
	return ErrRevoked
}

// lockedOut prunes the failure list to the rolling window and reports
// whether the threshold is crossed. Caller holds rec.mu.
func (m *Manager) lockedOut(rec *record, now time.Time) bool {
	cutoff := now.Add(-m.cfg.FailureWindow)
	kept := rec.failures[:0]
	for _, t := range rec.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	rec.failures = kept
	return len(rec.failures) >= m.cfg.MaxFailures
}

// raiseRisk bumps the score on a rejected validation and revokes when the
// threshold is crossed. Caller holds rec.mu.
func (m *Manager) raiseRisk(ctx context.Context, digest string, rec *record, delta int, cause string) {
	rec.risk = min(riskMax, rec.risk+delta)
	m.logger.Warn("session check failed",
		"security_event", "session_check_failed",
		"session_id", rec.id,
		"user_id", rec.userID,
		"cause", cause,
		"risk", rec.risk)
	if rec.risk >= m.cfg.RevokeThreshold {
		m.revokeLocked(ctx, digest, rec, m.now().Add(m.cfg.LockoutDuration), "risk_threshold")
		return
	}
	m.persist(ctx, digest, rec)
}

// revokeLocked blacklists and drops a session. Caller holds rec.mu.
func (m *Manager) revokeLocked(ctx context.Context, digest string, rec *record, until time.Time, cause string) {
	m.blMu.Lock()
	m.blacklist[digest] = until
	m.blMu.Unlock()

	m.mu.Lock()
	delete(m.sessions, digest)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveRevocation(ctx, digest, until); err != nil {
			m.logger.Warn("revocation persist failed", "error", err)
		}
		if err := m.store.DeleteSession(ctx, digest); err != nil {
			m.logger.Warn("session delete failed", "error", err)
		}
	}
	m.logger.Warn("session revoked",
		"security_event", "session_revoked",
		"session_id", rec.id,
		"user_id", rec.userID,
		"cause", cause)
}

// dropSession removes an expired session without blacklisting. Caller
// holds rec.mu.
func (m *Manager) dropSession(ctx context.Context, digest string, rec *record, cause string) {
	m.mu.Lock()
	delete(m.sessions, digest)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.DeleteSession(ctx, digest); err != nil {
			m.logger.Warn("session delete failed", "error", err)
		}
	}
	m.logger.Info("session dropped",
		"session_id", rec.id,
		"user_id", rec.userID,
		"cause", cause)
}

func (m *Manager) persist(ctx context.Context, digest string, rec *record) {
	if m.store == nil {
		return
	}
	err := m.store.SaveSession(ctx, StoredSession{
		TokenHash:    digest,
		ID:           rec.id,
		UserID:       rec.userID,
		Role:         rec.role,
		Fingerprint:  rec.fingerprint,
		Address:      rec.address,
		AuthState:    int(rec.authState),
		Level:        int(rec.level),
		Risk:         rec.risk,
		CreatedAt:    rec.createdAt,
		LastActivity: rec.lastActivity,
	})
	if err != nil {
		m.logger.Warn("session persist failed", "session_id", rec.id, "error", err)
	}
}

func snapshotOf(rec *record) Snapshot {
	return Snapshot{
		ID:           rec.id,
		UserID:       rec.userID,
		Role:         rec.role,
		AuthState:    rec.authState,
		Level:        rec.level,
		Risk:         rec.risk,
		CreatedAt:    rec.createdAt,
		LastActivity: rec.lastActivity,
		FailedLogins: len(rec.failures),
	}
}

// addressAllowed applies the address-variance policy. Unparseable
// addresses only pass the "off" policy.
func addressAllowed(policy AddressPolicy, stored, observed string) bool {
	switch policy {
	case AddressOff:
		return true
	case AddressExact:
		return stored == observed
	case AddressSubnet:
		return sameSubnet(stored, observed)
	default:
		return false
	}
}

// sameSubnet reports whether two addresses share a /24 (IPv4) or /64
// (IPv6) network. Host:port forms are accepted.
func sameSubnet(a, b string) bool {
	ipA := parseHost(a)
	ipB := parseHost(b)
	if ipA == nil || ipB == nil {
		return false
	}
	if v4a, v4b := ipA.To4(), ipB.To4(); v4a != nil && v4b != nil {
		mask := net.CIDRMask(24, 32)
		return v4a.Mask(mask).Equal(v4b.Mask(mask))
	}
	if ipA.To4() != nil || ipB.To4() != nil {
		return false
	}
	mask := net.CIDRMask(64, 128)
	return ipA.Mask(mask).Equal(ipB.Mask(mask))
}

func parseHost(addr string) net.IP {
	if strings.Contains(addr, ":") {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			addr = host
		}
	}
	return net.ParseIP(addr)
}
