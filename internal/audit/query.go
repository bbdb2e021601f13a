package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Filter selects events for Query. Zero fields match everything.
type Filter struct {
	Since       time.Time
	Until       time.Time
	Type        EventType
	MinSeverity Severity
	Outcome     Outcome
	UserID      string
	Command     string
	Limit       int
}

func (f Filter) matches(ev Event) bool {
	if !f.Since.IsZero() && ev.TS.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.TS.After(f.Until) {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if ev.Severity < f.MinSeverity {
		return false
	}
	if f.Outcome != "" && ev.Outcome != f.Outcome {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.Command != "" && ev.Command != f.Command {
		return false
	}
	return true
}

// Stats summarizes the log, built by streaming over every segment.
type Stats struct {
	Total      uint64               `json:"total"`
	ByType     map[EventType]uint64 `json:"by_type"`
	BySeverity map[string]uint64    `json:"by_severity"`
	ByOutcome  map[Outcome]uint64   `json:"by_outcome"`
	Oldest     time.Time            `json:"oldest,omitzero"`
	Newest     time.Time            `json:"newest,omitzero"`
	Segments   int                  `json:"segments"`
}

// Query flushes pending events and returns records matching the filter,
// oldest first.
func (l *Logger) Query(f Filter) ([]Event, error) {
	l.Flush()
	var out []Event
	err := walkEvents(l.w.cfg.Dir, func(ev Event) bool {
		if !f.matches(ev) {
			return true
		}
		out = append(out, ev)
		return f.Limit <= 0 || len(out) < f.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats flushes pending events and aggregates counts across all segments.
func (l *Logger) Stats() (Stats, error) {
	l.Flush()
	return StatsDir(l.w.cfg.Dir)
}

// StatsDir aggregates counts for an audit directory without a live
// Logger, e.g. from the CLI against a running instance's directory.
func StatsDir(dir string) (Stats, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		ByType:     make(map[EventType]uint64),
		BySeverity: make(map[string]uint64),
		ByOutcome:  make(map[Outcome]uint64),
		Segments:   len(segs),
	}
	err = walkEvents(dir, func(ev Event) bool {
		s.Total++
		s.ByType[ev.Type]++
		s.BySeverity[ev.Severity.String()]++
		s.ByOutcome[ev.Outcome]++
		if s.Oldest.IsZero() || ev.TS.Before(s.Oldest) {
			s.Oldest = ev.TS
		}
		if ev.TS.After(s.Newest) {
			s.Newest = ev.TS
		}
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}

// VerifyChain flushes pending events and re-walks every record checking
// hash links, sequence monotonicity, and segment seals.
func (l *Logger) VerifyChain() error {
	l.Flush()
	return VerifyDir(l.w.cfg.Dir)
}

// VerifyDir validates the full chain in an audit directory. It is usable
// offline against a copied directory, without a live Logger.
func VerifyDir(dir string) error {
	segs, err := listSegments(dir)
	if err != nil {
		return err
	}
	prev := ""
	var prevSeq uint64
	index := 0
	for _, seg := range segs {
		lastHash, n, err := verifySegment(seg, &prev, &prevSeq, &index)
		if err != nil {
			return err
		}
		if err := checkSeal(seg, lastHash, n); err != nil {
			return err
		}
	}
	return nil
}

func verifySegment(path string, prev *string, prevSeq *uint64, index *int) (lastHash string, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open audit segment: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return "", 0, fmt.Errorf("%w: record %d undecodable: %v", ErrChainBroken, *index, err)
		}
		if err := verifyLink(ev, *prev, *index); err != nil {
			return "", 0, err
		}
		if ev.Seq <= *prevSeq {
			return "", 0, fmt.Errorf("%w: record %d sequence not increasing", ErrChainBroken, *index)
		}
		*prev = ev.Hash
		*prevSeq = ev.Seq
		*index++
		lastHash = ev.Hash
		n++
	}
	if err := sc.Err(); err != nil {
		return "", 0, fmt.Errorf("scan audit segment: %w", err)
	}
	return lastHash, n, nil
}

// checkSeal validates a sealed segment's companion record. Unsealed
// segments (the active one) pass.
func checkSeal(seg, lastHash string, records int) error {
	b, err := os.ReadFile(seg + sealSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read seal: %w", err)
	}
	var sr sealRecord
	if err := json.Unmarshal(b, &sr); err != nil {
		return fmt.Errorf("%w: seal undecodable: %v", ErrSealMismatch, err)
	}
	if sr.FinalHash != lastHash || sr.Records != records {
		return fmt.Errorf("%w: %s", ErrSealMismatch, seg)
	}
	return nil
}

// walkEvents streams every record across all segments in order. The
// visit callback returns false to stop early.
func walkEvents(dir string, visit func(Event) bool) error {
	segs, err := listSegments(dir)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		f, err := os.Open(seg)
		if err != nil {
			return fmt.Errorf("open audit segment: %w", err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				_ = f.Close()
				return fmt.Errorf("decode audit record: %w", err)
			}
			if !visit(ev) {
				_ = f.Close()
				return nil
			}
		}
		err = sc.Err()
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("scan audit segment: %w", err)
		}
	}
	return nil
}
