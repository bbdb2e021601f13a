package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/autodev-ai/secgate/internal/log"
)

// Config holds Logger tunables on top of the segment settings.
type Config struct {
	Segment SegmentConfig
	// QueueSize bounds the in-flight event queue. When full, new events
	// are dropped and counted, and the logger reports Degraded.
	QueueSize int
	// Alert, when set, is invoked from the consumer goroutine for every
	// event at SeverityCritical or above.
	Alert func(Event)
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	return c
}

type item struct {
	ev    Event
	flush chan struct{} // non-nil for flush barriers, ev ignored
}

// Logger is the asynchronous front of the audit log. Record never blocks
// and never returns an error; sink trouble surfaces through Degraded and
// the drop counter instead.
type Logger struct {
	mu sync.Mutex // serializes Record: seq order equals queue order
	ch chan item

	seq      uint64
	dropped  atomic.Uint64
	degraded atomic.Bool
	closed   atomic.Bool

	// senders tracks flush barriers in flight on ch, so Close only
	// closes the channel once no blocking send can still land on it.
	senders sync.WaitGroup

	w      *writer
	alert  func(Event)
	logger log.Logger
	wg     sync.WaitGroup
	now    func() time.Time
}

// New opens the audit directory and starts the consumer goroutine. The
// directory is exclusively locked; a second writer gets ErrDirLocked.
func New(cfg Config, logger log.Logger) (*Logger, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	cfg = cfg.withDefaults()
	w, err := openWriter(cfg.Segment)
	if err != nil {
		return nil, err
	}
	l := &Logger{
		ch:     make(chan item, cfg.QueueSize),
		seq:    w.lastSeq,
		w:      w,
		alert:  cfg.Alert,
		logger: logger,
		now:    time.Now,
	}
	l.wg.Add(1)
	go l.consume()
	return l, nil
}

// Record enqueues an event for the consumer and reports whether it was
// accepted. ID, sequence, and timestamp are assigned here, so sequence
// numbers reflect arrival order even though the write happens later. A
// full queue drops the event; callers gating on the audit trail can use
// the return to fail closed.
func (l *Logger) Record(ev Event) bool {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		l.drop(ev)
		return false
	}
	l.seq++
	ev.Seq = l.seq
	ev.ID = uuid.NewString()
	ev.TS = l.now().UTC()
	select {
	case l.ch <- item{ev: ev}:
		l.mu.Unlock()
		return true
	default:
		l.seq-- // the slot was never used
		l.mu.Unlock()
		l.drop(ev)
		return false
	}
}

// Degraded reports whether the audit trail is currently unreliable: the
// queue has overflowed or the sink has failed, and the loss has not yet
// been recovered. The orchestrator fails closed while this is true.
func (l *Logger) Degraded() bool {
	return l.degraded.Load()
}

// Dropped returns the number of events lost to queue saturation or sink
// failure since startup.
func (l *Logger) Dropped() uint64 {
	return l.dropped.Load()
}

// Flush blocks until every event recorded before the call has been
// written. Unlike Record it may wait for queue space: flush barriers are
// for shutdown and inspection paths, not the request path. The barrier
// is sent with no lock held, so concurrent Records keep their
// non-blocking contract even against a full queue.
func (l *Logger) Flush() {
	l.mu.Lock()
	if l.closed.Load() {
		l.mu.Unlock()
		return
	}
	l.senders.Add(1)
	l.mu.Unlock()

	done := make(chan struct{})
	l.ch <- item{flush: done}
	l.senders.Done()
	<-done
}

// Close drains the queue, stops the consumer, and releases the directory
// lock. Events recorded after Close are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed.Swap(true) {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	// closed is set, so no new barrier can register; wait out the ones
	// already sending before closing the channel under them.
	l.senders.Wait()
	close(l.ch)
	l.wg.Wait()
	return l.w.close()
}

func (l *Logger) consume() {
	defer l.wg.Done()
	for it := range l.ch {
		if it.flush != nil {
			close(it.flush)
			continue
		}
		sealed, err := l.w.append(it.ev)
		if err != nil {
			l.dropped.Add(1)
			l.degraded.Store(true)
			l.logger.Error("audit write failed",
				"security_event", "audit_write_failed",
				"event_type", string(it.ev.Type),
				"error", err)
			continue
		}
		// A successful write with an empty queue means no loss is
		// outstanding.
		if l.degraded.Load() && len(l.ch) == 0 {
			l.degraded.Store(false)
		}
		if l.alert != nil && sealed.Severity >= SeverityCritical {
			l.alert(sealed)
		}
	}
}

func (l *Logger) drop(ev Event) {
	l.dropped.Add(1)
	l.degraded.Store(true)
	l.logger.Warn("audit event dropped",
		"security_event", "audit_event_dropped",
		"event_type", string(ev.Type),
		"dropped_total", l.dropped.Load())
}
