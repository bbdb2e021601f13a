package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/autodev-ai/secgate/internal/log"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeViolations struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeViolations) Violations(identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[identity]
}

func (f *fakeViolations) set(identity string, n int) {
	f.mu.Lock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[identity] = n
	f.mu.Unlock()
}

func newTestManager(t *testing.T, cfg Config, violations ViolationSource) (*Manager, *fakeClock) {
	t.Helper()
	m, err := NewManager(cfg, violations, nil, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m.now = clk.Now
	return m, clk
}

func TestCreateAndValidate(t *testing.T) {
	m, _ := newTestManager(t, Config{}, nil)
	ctx := context.Background()

	token, err := m.Create(ctx, "alice", "user", "fp-1", "192.168.1.10")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if token == "" {
		t.Fatal("Create() returned empty token")
	}

	snap, err := m.Validate(ctx, token, Observed{Address: "192.168.1.10", Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.UserID != "alice" || snap.Role != "user" {
		t.Errorf("snapshot = %q/%q, want alice/user", snap.UserID, snap.Role)
	}
	if snap.AuthState != Authenticated {
		t.Errorf("AuthState = %v, want Authenticated", snap.AuthState)
	}
	if snap.Risk != 0 {
		t.Errorf("Risk = %d, want 0", snap.Risk)
	}
	if snap.ID == "" {
		t.Error("snapshot missing session id")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	m, _ := newTestManager(t, Config{}, nil)
	if _, err := m.Validate(context.Background(), "deadbeef", Observed{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Validate() error = %v, want ErrNotFound", err)
	}
}

func TestExpiry(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{name: "within idle timeout", advance: 29 * time.Minute, wantErr: nil},
		{name: "past idle timeout", advance: 31 * time.Minute, wantErr: ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, clk := newTestManager(t, Config{}, nil)
			ctx := context.Background()
			token, err := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			clk.Advance(tt.advance)
			_, err = m.Validate(ctx, token, Observed{Address: "10.0.0.1", Fingerprint: "fp"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLifetimeBoundsActiveSession(t *testing.T) {
	m, clk := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	// Steady activity in 20 minute steps keeps the idle timer happy for
	// just under 12 hours.
	for i := 0; i < 35; i++ {
		clk.Advance(20 * time.Minute)
		if _, err := m.Validate(ctx, token, obs); err != nil {
			t.Fatalf("Validate() at step %d error = %v", i, err)
		}
	}

	// Then the absolute lifetime trips regardless of activity.
	clk.Advance(25 * time.Minute)
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrExpired) {
		t.Errorf("Validate() error = %v, want ErrExpired", err)
	}
	// The expired session is gone, not merely rejected.
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrNotFound) {
		t.Errorf("Validate() replay error = %v, want ErrNotFound", err)
	}
}

func TestFingerprintDriftUnderBasic(t *testing.T) {
	m, _ := newTestManager(t, Config{DefaultLevel: Basic}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp-1", "10.0.0.1")

	snap, err := m.Validate(ctx, token, Observed{Address: "10.0.0.1", Fingerprint: "fp-2"})
	if err != nil {
		t.Fatalf("Validate() error = %v, want drift tolerated under Basic", err)
	}
	if snap.Risk != riskFingerprintDrift {
		t.Errorf("Risk = %d, want %d", snap.Risk, riskFingerprintDrift)
	}
}

func TestFingerprintDriftUnderStrict(t *testing.T) {
	m, _ := newTestManager(t, Config{DefaultLevel: Strict}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp-1", "10.0.0.1")

	_, err := m.Validate(ctx, token, Observed{Address: "10.0.0.1", Fingerprint: "fp-2"})
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Errorf("Validate() error = %v, want ErrFingerprintMismatch", err)
	}
}

func TestAddressVariance(t *testing.T) {
	tests := []struct {
		name     string
		level    SecurityLevel
		observed string
		wantErr  error
	}{
		{name: "enhanced same subnet", level: Enhanced, observed: "192.168.1.99", wantErr: nil},
		{name: "enhanced different subnet", level: Enhanced, observed: "192.168.2.10", wantErr: ErrAddressMismatch},
		{name: "enhanced garbage address", level: Enhanced, observed: "not-an-ip", wantErr: ErrAddressMismatch},
		{name: "strict same subnet", level: Strict, observed: "192.168.1.99", wantErr: ErrAddressMismatch},
		{name: "strict exact", level: Strict, observed: "192.168.1.10", wantErr: nil},
		{name: "basic anywhere", level: Basic, observed: "203.0.113.7", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, Config{DefaultLevel: tt.level}, nil)
			ctx := context.Background()
			token, _ := m.Create(ctx, "alice", "user", "fp", "192.168.1.10")

			_, err := m.Validate(ctx, token, Observed{Address: tt.observed, Fingerprint: "fp"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRevalidationInterval(t *testing.T) {
	m, clk := newTestManager(t, Config{DefaultLevel: Strict}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "admin", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	clk.Advance(14 * time.Minute)
	if _, err := m.Validate(ctx, token, obs); err != nil {
		t.Fatalf("Validate() within interval error = %v", err)
	}

	clk.Advance(16 * time.Minute)
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrRevalidationRequired) {
		t.Errorf("Validate() error = %v, want ErrRevalidationRequired", err)
	}
}

func TestFailureLockoutAndRecovery(t *testing.T) {
	m, clk := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	for i := 0; i < 5; i++ {
		m.RecordFailure(ctx, token)
	}
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrLocked) {
		t.Fatalf("Validate() error = %v, want ErrLocked", err)
	}

	// The lock lapses and the failure window drains. The accumulated
	// risk (five failures at +15, minus one point of decay) keeps the
	// session escalated to Strict but below revocation.
	clk.Advance(16 * time.Minute)
	snap, err := m.Validate(ctx, token, obs)
	if err != nil {
		t.Fatalf("Validate() after lockout error = %v", err)
	}
	if snap.Risk != 74 {
		t.Errorf("Risk = %d, want 74", snap.Risk)
	}
	if snap.Level != Strict {
		t.Errorf("Level = %v, want Strict", snap.Level)
	}
}

func TestRiskEscalatesToStrict(t *testing.T) {
	viol := &fakeViolations{}
	m, _ := newTestManager(t, Config{DefaultLevel: Basic}, viol)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	// Nine rate-limit violations at +8 each put risk at 72, over the
	// Strict threshold but under revocation.
	viol.set("alice", 9)
	snap, err := m.Validate(ctx, token, obs)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.Risk != 72 {
		t.Errorf("Risk = %d, want 72", snap.Risk)
	}
	if snap.Level != Strict {
		t.Errorf("Level = %v, want Strict", snap.Level)
	}
}

func TestRiskRevokes(t *testing.T) {
	viol := &fakeViolations{}
	m, _ := newTestManager(t, Config{DefaultLevel: Basic}, viol)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	viol.set("alice", 12)
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Validate() error = %v, want ErrRevoked", err)
	}
	// The token stays blacklisted.
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrRevoked) {
		t.Errorf("Validate() replay error = %v, want ErrRevoked", err)
	}
}

func TestRiskDecay(t *testing.T) {
	viol := &fakeViolations{}
	m, _ := newTestManager(t, Config{DefaultLevel: Basic}, viol)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	viol.set("alice", 2)
	snap, err := m.Validate(ctx, token, obs)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.Risk != 16 {
		t.Fatalf("Risk = %d, want 16", snap.Risk)
	}

	// No new violations: each clean pass bleeds one point.
	for i := 0; i < 3; i++ {
		snap, err = m.Validate(ctx, token, obs)
		if err != nil {
			t.Fatalf("Validate() pass %d error = %v", i, err)
		}
	}
	if snap.Risk != 13 {
		t.Errorf("Risk after decay = %d, want 13", snap.Risk)
	}
}

func TestRevoke(t *testing.T) {
	m, clk := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	m.Revoke(ctx, token)
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrRevoked) {
		t.Fatalf("Validate() error = %v, want ErrRevoked", err)
	}

	// Once the blacklist entry lapses the token maps to nothing.
	clk.Advance(16 * time.Minute)
	if _, err := m.Validate(ctx, token, obs); !errors.Is(err, ErrNotFound) {
		t.Errorf("Validate() error = %v, want ErrNotFound", err)
	}
}

func TestSetAuthState(t *testing.T) {
	m, _ := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "admin", "fp", "10.0.0.1")

	if err := m.SetAuthState(ctx, token, TwoFactor); err != nil {
		t.Fatalf("SetAuthState() error = %v", err)
	}
	snap, err := m.Validate(ctx, token, Observed{Address: "10.0.0.1", Fingerprint: "fp"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if snap.AuthState != TwoFactor {
		t.Errorf("AuthState = %v, want TwoFactor", snap.AuthState)
	}

	if err := m.SetAuthState(ctx, "bogus", TwoFactor); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAuthState(bogus) error = %v, want ErrNotFound", err)
	}
}

func TestActiveCountAndAverageRisk(t *testing.T) {
	viol := &fakeViolations{}
	m, clk := newTestManager(t, Config{}, viol)
	ctx := context.Background()

	tokenA, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	if _, err := m.Create(ctx, "bob", "user", "fp", "10.0.0.2"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", got)
	}

	viol.set("alice", 2)
	if _, err := m.Validate(ctx, tokenA, Observed{Address: "10.0.0.1", Fingerprint: "fp"}); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := m.AverageRisk(); got != 8 {
		t.Errorf("AverageRisk() = %v, want 8", got)
	}

	clk.Advance(31 * time.Minute)
	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after idle = %d, want 0", got)
	}
}

func TestConcurrentValidate(t *testing.T) {
	m, _ := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	token, _ := m.Create(ctx, "alice", "user", "fp", "10.0.0.1")
	obs := Observed{Address: "10.0.0.1", Fingerprint: "fp"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if _, err := m.Validate(ctx, token, obs); err != nil {
					t.Errorf("Validate() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
