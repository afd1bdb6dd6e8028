// Package ratelimit provides the shared fixed-window counter store behind
// the admission gate.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one IncrementAndCheck call.
type Result struct {
	// Allowed is false once Count exceeds the limit.
	Allowed bool
	// Count is the number of hits in the current window, including this one.
	Count int64
	// Remaining is the quota left in the current window, never negative.
	Remaining int
	// WindowStart is the start of the fixed window the hit was counted in.
	WindowStart time.Time
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Store counts hits per rule and scope in fixed windows. Implementations
// must be safe for concurrent use; counters expire with their window.
type Store interface {
	IncrementAndCheck(ctx context.Context, rule, scope string, limit int, window time.Duration) (Result, error)
}

// Key builds the storage key for one rule, scope and window.
func Key(rule, scope string, windowStart time.Time) string {
	return fmt.Sprintf("pluck:rl:%s:%s:%d", rule, scope, windowStart.Unix())
}

// windowBounds aligns now to the enclosing fixed window.
func windowBounds(now time.Time, window time.Duration) (start, end time.Time) {
	start = now.Truncate(window)
	return start, start.Add(window)
}

func newResult(count int64, limit int, start, end time.Time) Result {
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:     count <= int64(limit),
		Count:       count,
		Remaining:   int(remaining),
		WindowStart: start,
		ResetAt:     end,
	}
}
