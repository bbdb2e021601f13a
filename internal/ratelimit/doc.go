// Package ratelimit provides the adaptive rate-limiting engine.
//
// Each (identity, endpoint) pair owns an independently-locked counter record,
// so unrelated identities never serialize against each other. Four strategies
// are selectable per endpoint:
//
//   - fixed_window: counts inside aligned time buckets, atomic reset at the
//     boundary
//   - sliding_window: weights the previous bucket by the elapsed fraction of
//     the current one, avoiding boundary bursts
//   - token_bucket: golang.org/x/time/rate limiter, burst = capacity
//   - adaptive: fixed counting with ceilings that shrink once observed load
//     crosses a threshold fraction, recovering as load subsides
//
// Every endpoint carries per-second, per-minute and per-hour ceilings
// evaluated in that order with short-circuit on the first exceeded tier.
// A violation applies a penalty multiplier to the effective ceilings for a
// cooldown period and increments a per-identity violation counter consumed
// by session risk scoring. Ceilings additionally shrink with the caller's
// session risk score.
package ratelimit
