package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Chain verification errors.
var (
	// ErrChainBroken reports a record whose prev_hash does not match the
	// preceding record's hash, or a record whose own hash does not match
	// its contents.
	ErrChainBroken = errors.New("audit: hash chain broken")
	// ErrSealMismatch reports a sealed segment whose recorded final hash
	// disagrees with its last record.
	ErrSealMismatch = errors.New("audit: segment seal mismatch")
)

// eventHash computes the SHA-256 digest of an event's canonical JSON form
// with the hash field cleared. PrevHash is part of the hashed payload, so
// each record commits to the entire chain before it.
func eventHash(ev Event) (string, error) {
	ev.Hash = ""
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// seal links a new event onto the chain: prev is the hash of the last
// record (empty for the first), and the event's own hash is computed over
// the linked payload.
func seal(ev Event, prev string) (Event, error) {
	ev.PrevHash = prev
	h, err := eventHash(ev)
	if err != nil {
		return Event{}, err
	}
	ev.Hash = h
	return ev, nil
}

// verifyLink checks one record against the expected previous hash and its
// own contents. index is reported in errors for operator diagnostics.
func verifyLink(ev Event, wantPrev string, index int) error {
	if ev.PrevHash != wantPrev {
		return fmt.Errorf("%w: record %d prev_hash mismatch", ErrChainBroken, index)
	}
	h, err := eventHash(ev)
	if err != nil {
		return err
	}
	if h != ev.Hash {
		return fmt.Errorf("%w: record %d content hash mismatch", ErrChainBroken, index)
	}
	return nil
}
