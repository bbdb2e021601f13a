package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"
	sealSuffix    = ".seal"
	lockFileName  = "audit.lock"
)

// ErrDirLocked reports another process already writing to the audit
// directory.
var ErrDirLocked = errors.New("audit: directory locked by another writer")

// SegmentConfig controls segment files. Zero values take defaults.
type SegmentConfig struct {
	// Dir is the audit log directory, created if absent.
	Dir string
	// MaxSegmentBytes rotates the active segment once it grows past
	// this size.
	MaxSegmentBytes int64
	// MaxSegmentAge rotates the active segment once it has been open
	// this long.
	MaxSegmentAge time.Duration
	// Retention purges sealed segments older than this.
	Retention time.Duration
}

func (c SegmentConfig) withDefaults() SegmentConfig {
	if c.MaxSegmentBytes <= 0 {
		c.MaxSegmentBytes = 4 << 20
	}
	if c.MaxSegmentAge <= 0 {
		c.MaxSegmentAge = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}

// sealRecord is the companion file written when a segment rotates. It
// commits to the segment's final hash so truncation of a sealed segment
// is detectable without replaying the whole chain.
type sealRecord struct {
	FinalHash string    `json:"final_hash"`
	Records   int       `json:"records"`
	SealedAt  time.Time `json:"sealed_at"`
}

// writer owns the active segment file. It is not safe for concurrent use;
// the Logger's consumer goroutine is its only caller after construction.
type writer struct {
	cfg  SegmentConfig
	lock *flock.Flock

	file    *os.File
	path    string
	size    int64
	opened  time.Time
	records int

	lastHash string
	lastSeq  uint64

	now func() time.Time
}

// openWriter locks the directory, recovers the chain tail from the newest
// existing segment, and opens a fresh active segment.
func openWriter(cfg SegmentConfig) (*writer, error) {
	cfg = cfg.withDefaults()
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Dir, lockFileName))
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire audit lock: %w", err)
	}
	if !held {
		return nil, ErrDirLocked
	}

	w := &writer{cfg: cfg, lock: lock, now: time.Now}
	if err := w.recover(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if err := w.openSegment(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	return w, nil
}

// recover reads the last record of the newest segment so new events
// continue the existing chain and sequence.
func (w *writer) recover() error {
	segs, err := listSegments(w.cfg.Dir)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return nil
	}
	last, err := lastEvent(segs[len(segs)-1])
	if err != nil {
		return err
	}
	if last != nil {
		w.lastHash = last.Hash
		w.lastSeq = last.Seq
	}
	return nil
}

func (w *writer) openSegment() error {
	now := w.now().UTC()
	name := segmentPrefix + now.Format("20060102T150405.000000000") + segmentSuffix
	path := filepath.Join(w.cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open audit segment: %w", err)
	}
	w.file = f
	w.path = path
	w.size = 0
	w.records = 0
	w.opened = now
	return nil
}

// append seals the event onto the chain and writes it to the active
// segment, rotating afterwards when size or age limits are reached.
func (w *writer) append(ev Event) (Event, error) {
	sealed, err := seal(ev, w.lastHash)
	if err != nil {
		return Event{}, err
	}
	line, err := json.Marshal(sealed)
	if err != nil {
		return Event{}, fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.file.Write(line); err != nil {
		return Event{}, fmt.Errorf("write audit event: %w", err)
	}
	w.size += int64(len(line))
	w.records++
	w.lastHash = sealed.Hash
	w.lastSeq = sealed.Seq

	now := w.now()
	if w.size >= w.cfg.MaxSegmentBytes || now.Sub(w.opened) >= w.cfg.MaxSegmentAge {
		if err := w.rotate(); err != nil {
			return Event{}, err
		}
	}
	return sealed, nil
}

// rotate seals the active segment, purges expired sealed segments, and
// opens a fresh one. The chain continues across the boundary.
func (w *writer) rotate() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync audit segment: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close audit segment: %w", err)
	}

	sr := sealRecord{FinalHash: w.lastHash, Records: w.records, SealedAt: w.now().UTC()}
	b, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("marshal seal: %w", err)
	}
	if err := os.WriteFile(w.path+sealSuffix, b, 0640); err != nil {
		return fmt.Errorf("write seal: %w", err)
	}

	w.purge()
	return w.openSegment()
}

// purge removes sealed segments past retention. Failures are ignored: a
// purge retried on the next rotation beats a failed append.
func (w *writer) purge() {
	cutoff := w.now().Add(-w.cfg.Retention)
	segs, err := listSegments(w.cfg.Dir)
	if err != nil {
		return
	}
	for _, seg := range segs {
		if seg == w.path {
			continue
		}
		if _, err := os.Stat(seg + sealSuffix); err != nil {
			continue // unsealed, keep
		}
		info, err := os.Stat(seg)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(seg)
		_ = os.Remove(seg + sealSuffix)
	}
}

// close syncs the active segment and releases the directory lock. The
// active segment stays unsealed so the chain can continue on restart.
func (w *writer) close() error {
	var errs []error
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := w.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// listSegments returns segment paths sorted by name, which sorts by open
// time given the timestamped naming.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read audit directory: %w", err)
	}
	var segs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, segmentPrefix) && strings.HasSuffix(name, segmentSuffix) {
			segs = append(segs, filepath.Join(dir, name))
		}
	}
	sort.Strings(segs)
	return segs, nil
}

// lastEvent returns the final record of a segment, nil when empty.
func lastEvent(path string) (*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit segment: %w", err)
	}
	defer f.Close()

	var last *Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		last = &ev
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit segment: %w", err)
	}
	return last, nil
}
