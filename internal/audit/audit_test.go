package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/autodev-ai/secgate/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestLogger(t *testing.T, cfg Config) *Logger {
	t.Helper()
	if cfg.Segment.Dir == "" {
		cfg.Segment.Dir = t.TempDir()
	}
	l, err := New(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	l := newTestLogger(t, Config{})

	l.Record(Event{Type: TypeRequestValidated, Severity: SeverityInfo, Outcome: OutcomeSuccess, UserID: "alice", Command: "save_settings"})
	l.Record(Event{Type: TypeCommandDenied, Severity: SeverityWarning, Outcome: OutcomeBlocked, UserID: "alice", Command: "execute_system_command", Reason: "command_blocked"})
	l.Record(Event{Type: TypeRateLimited, Severity: SeverityNotice, Outcome: OutcomeRateLimited, UserID: "bob"})

	events, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Query() returned %d events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, ev.Seq, i+1)
		}
		if ev.ID == "" || ev.Hash == "" {
			t.Errorf("event %d missing id or hash", i)
		}
	}
	if events[0].PrevHash != "" {
		t.Errorf("first event PrevHash = %q, want empty", events[0].PrevHash)
	}
	if events[1].PrevHash != events[0].Hash || events[2].PrevHash != events[1].Hash {
		t.Error("events do not link to their predecessors")
	}

	denied, err := l.Query(Filter{Type: TypeCommandDenied, UserID: "alice"})
	if err != nil {
		t.Fatalf("Query(filtered) error = %v", err)
	}
	if len(denied) != 1 || denied[0].Reason != "command_blocked" {
		t.Errorf("filtered query = %+v, want single command_blocked event", denied)
	}

	warnUp, err := l.Query(Filter{MinSeverity: SeverityWarning})
	if err != nil {
		t.Fatalf("Query(severity) error = %v", err)
	}
	if len(warnUp) != 1 {
		t.Errorf("severity filter returned %d events, want 1", len(warnUp))
	}
}

func TestVerifyChain(t *testing.T) {
	l := newTestLogger(t, Config{})
	for i := 0; i < 5; i++ {
		l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess, UserID: "alice"})
	}
	if err := l.VerifyChain(); err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t, Config{Segment: SegmentConfig{Dir: dir}})
	for i := 0; i < 3; i++ {
		l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess, UserID: "alice"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	segs, err := listSegments(dir)
	if err != nil || len(segs) == 0 {
		t.Fatalf("listSegments() = %v, %v", segs, err)
	}
	data, err := os.ReadFile(segs[0])
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	ev.UserID = "mallory"
	forged, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal forged record: %v", err)
	}
	lines[1] = string(forged)
	if err := os.WriteFile(segs[0], []byte(strings.Join(lines, "\n")+"\n"), 0640); err != nil {
		t.Fatalf("write tampered segment: %v", err)
	}

	if err := VerifyDir(dir); !errors.Is(err, ErrChainBroken) {
		t.Errorf("VerifyDir() error = %v, want ErrChainBroken", err)
	}
}

func TestRotationSealsSegments(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t, Config{Segment: SegmentConfig{Dir: dir, MaxSegmentBytes: 300}})
	for i := 0; i < 6; i++ {
		l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess, UserID: "alice", Command: "save_settings"})
	}
	l.Flush()

	segs, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments() error = %v", err)
	}
	if len(segs) < 2 {
		t.Fatalf("got %d segments, want rotation to have produced at least 2", len(segs))
	}
	if _, err := os.Stat(segs[0] + sealSuffix); err != nil {
		t.Errorf("first segment missing seal: %v", err)
	}
	if err := l.VerifyChain(); err != nil {
		t.Errorf("VerifyChain() across segments error = %v", err)
	}
}

func TestChainContinuesAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	first, err := New(Config{Segment: SegmentConfig{Dir: dir}}, log.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	first.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newTestLogger(t, Config{Segment: SegmentConfig{Dir: dir}})
	second.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})

	events, err := second.Query(Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Query() returned %d events, want 3", len(events))
	}
	if events[2].Seq != 3 {
		t.Errorf("restarted logger Seq = %d, want 3", events[2].Seq)
	}
	if events[2].PrevHash != events[1].Hash {
		t.Error("chain does not continue across restart")
	}
	if err := second.VerifyChain(); err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
}

func TestDirLockRejectsSecondWriter(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t, Config{Segment: SegmentConfig{Dir: dir}})
	_ = l

	if _, err := New(Config{Segment: SegmentConfig{Dir: dir}}, log.NewNop()); !errors.Is(err, ErrDirLocked) {
		t.Errorf("New() second writer error = %v, want ErrDirLocked", err)
	}
}

func TestQueueSaturationDegrades(t *testing.T) {
	l := newTestLogger(t, Config{QueueSize: 2})

	// Stall the consumer inside its first append so the queue backs up.
	gate := make(chan struct{})
	l.w.now = func() time.Time {
		<-gate
		return time.Now()
	}

	for i := 0; i < 5; i++ {
		l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	}
	if !l.Degraded() {
		t.Error("Degraded() = false under saturation, want true")
	}
	if l.Dropped() == 0 {
		t.Error("Dropped() = 0, want > 0")
	}

	close(gate)
	l.Flush()

	// A successful write with the queue drained recovers the logger.
	l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	l.Flush()
	if l.Degraded() {
		t.Error("Degraded() = true after recovery, want false")
	}
}

func TestRecordStaysNonBlockingDuringFlush(t *testing.T) {
	l := newTestLogger(t, Config{QueueSize: 2})

	// Stall the consumer inside its first append so the queue backs up.
	gate := make(chan struct{})
	l.w.now = func() time.Time {
		<-gate
		return time.Now()
	}

	// One event occupies the consumer, two more fill the queue.
	for i := 0; i < 3; i++ {
		l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	}

	// The barrier cannot enter the full queue yet. It must wait without
	// taking Record's non-blocking path down with it.
	flushed := make(chan struct{})
	go func() {
		l.Flush()
		close(flushed)
	}()
	time.Sleep(10 * time.Millisecond)

	recorded := make(chan bool, 1)
	go func() {
		recorded <- l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess})
	}()
	select {
	case accepted := <-recorded:
		if accepted {
			t.Error("Record() = true against a full queue, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked behind a pending flush barrier")
	}

	close(gate)
	<-flushed
}

func TestRecordAfterCloseDrops(t *testing.T) {
	l := newTestLogger(t, Config{})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Record(Event{Type: TypeRequestValidated})
	if l.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", l.Dropped())
	}
	if !l.Degraded() {
		t.Error("Degraded() = false after post-close drop, want true")
	}
}

func TestAlertHook(t *testing.T) {
	var alerts atomic.Int64
	l := newTestLogger(t, Config{Alert: func(ev Event) {
		if ev.Severity < SeverityCritical {
			t.Errorf("alert fired for severity %v", ev.Severity)
		}
		alerts.Add(1)
	}})

	l.Record(Event{Type: TypeRequestValidated, Severity: SeverityInfo, Outcome: OutcomeSuccess})
	l.Record(Event{Type: TypeAuditDegraded, Severity: SeverityCritical, Outcome: OutcomeFailure})
	l.Record(Event{Type: TypeSessionRevoked, Severity: SeverityEmergency, Outcome: OutcomeBlocked})
	l.Flush()

	if got := alerts.Load(); got != 2 {
		t.Errorf("alert hook fired %d times, want 2", got)
	}
}

func TestRetentionPurgesSealedSegments(t *testing.T) {
	dir := t.TempDir()
	l := newTestLogger(t, Config{Segment: SegmentConfig{Dir: dir, MaxSegmentBytes: 200, Retention: time.Hour}})

	l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess, UserID: "alice"})
	l.Flush()
	segs, err := listSegments(dir)
	if err != nil || len(segs) == 0 {
		t.Fatalf("listSegments() = %v, %v", segs, err)
	}

	// Age the sealed segment past retention and trigger another
	// rotation.
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(segs[0], old, old); err != nil {
		t.Fatalf("age segment: %v", err)
	}
	l.Record(Event{Type: TypeRequestValidated, Outcome: OutcomeSuccess, UserID: "alice"})
	l.Flush()

	remaining, err := listSegments(dir)
	if err != nil {
		t.Fatalf("listSegments() error = %v", err)
	}
	for _, seg := range remaining {
		if filepath.Base(seg) == filepath.Base(segs[0]) {
			t.Error("expired sealed segment survived purge")
		}
	}
}
