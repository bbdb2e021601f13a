// Package audit provides the tamper-evident security event log.
//
// Events are appended to JSONL segment files, each record carrying the
// SHA-256 hash of the previous record folded into its own hash, so any
// after-the-fact edit, insertion, or deletion breaks the chain and is
// caught by VerifyChain. Segments rotate by size or age; rotated segments
// are sealed with their final hash and purged by retention.
//
// Record never blocks the request path: events go through a bounded queue
// drained by a single consumer goroutine. When the queue saturates, events
// are counted as dropped and the logger reports Degraded, letting the
// orchestrator fail closed rather than run unaudited.
package audit
