// Package ratelimit implements distributed sliding-window quota enforcement.
// The window table is a plain data structure with no internal locking: all
// mutation is expected to happen inside the coordinator actor, which
// serializes every check-and-record per identifier.
package ratelimit

import (
	"time"

	"github.com/tiercache/tiercache/pkg/types"
)

// Window holds the request timestamps for one identifier, ordered oldest
// first and pruned against the trailing interval on every check.
type Window struct {
	Identifier string      `json:"identifier"`
	Timestamps []time.Time `json:"timestamps"`
}

// Table maps identifiers to their sliding windows.
type Table struct {
	windows map[string]*Window
}

// NewTable creates an empty window table
func NewTable() *Table {
	return &Table{windows: make(map[string]*Window)}
}

// Check atomically prunes, checks and records a request for the identifier.
// A denied check is not an error; the decision carries RetryAfter in whole
// seconds, rounded up so callers never retry early.
func (t *Table) Check(identifier string, maxRequests int, window time.Duration, now time.Time) types.RateLimitDecision {
	w, exists := t.windows[identifier]
	if !exists {
		w = &Window{Identifier: identifier}
		t.windows[identifier] = w
	}

	w.prune(now, window)

	if len(w.Timestamps) < maxRequests {
		w.Timestamps = append(w.Timestamps, now)
		return types.RateLimitDecision{
			Allowed:   true,
			Remaining: maxRequests - len(w.Timestamps),
		}
	}

	oldest := w.Timestamps[0]
	retryAfter := oldest.Add(window).Sub(now)
	seconds := int64(retryAfter / time.Second)
	if retryAfter%time.Second > 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}

	return types.RateLimitDecision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: seconds,
	}
}

// Reset removes the window for an identifier and reports whether it existed
func (t *Table) Reset(identifier string) bool {
	_, exists := t.windows[identifier]
	delete(t.windows, identifier)
	return exists
}

// Stats returns the entry count and up to limit sampled identifiers
func (t *Table) Stats(limit int) (int, []string) {
	samples := make([]string, 0, limit)
	for id := range t.windows {
		if len(samples) >= limit {
			break
		}
		samples = append(samples, id)
	}
	return len(t.windows), samples
}

// PruneStale drops windows whose newest timestamp is older than maxAge,
// keeping the table bounded for identifiers that stopped making requests.
func (t *Table) PruneStale(now time.Time, maxAge time.Duration) int {
	var stale []string
	for id, w := range t.windows {
		if len(w.Timestamps) == 0 || now.Sub(w.Timestamps[len(w.Timestamps)-1]) > maxAge {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.windows, id)
	}
	return len(stale)
}

// Snapshot returns all windows for coordinator persistence
func (t *Table) Snapshot() []*Window {
	windows := make([]*Window, 0, len(t.windows))
	for _, w := range t.windows {
		windows = append(windows, w)
	}
	return windows
}

// Restore loads windows from a coordinator snapshot
func (t *Table) Restore(windows []*Window) {
	for _, w := range windows {
		if w != nil && w.Identifier != "" {
			t.windows[w.Identifier] = w
		}
	}
}

func (w *Window) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(w.Timestamps) && !w.Timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.Timestamps = append(w.Timestamps[:0], w.Timestamps[idx:]...)
	}
}
