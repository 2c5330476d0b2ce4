package frequency

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Tracker keeps a per-sender sliding window of activity timestamps.
// Record and IsFlooding share the same pruning pass, so a window never
// holds entries older than the trailing horizon.
type Tracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	clock     Clock
	hits      map[string][]time.Time
}

func NewTracker(window time.Duration, threshold int) *Tracker {
	return &Tracker{
		window:    window,
		threshold: threshold,
		clock:     realClock{},
		hits:      make(map[string][]time.Time),
	}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

// Record appends the current time to the sender's window and returns the
// pruned window length.
func (t *Tracker) Record(sender string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	pruned := t.pruneLocked(sender, now)
	pruned = append(pruned, now)
	t.hits[sender] = pruned
	return len(pruned)
}

// IsFlooding reports whether the sender exceeded the threshold within the
// trailing window.
func (t *Tracker) IsFlooding(sender string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	pruned := t.pruneLocked(sender, t.clock.Now())
	if len(pruned) == 0 {
		delete(t.hits, sender)
		return false
	}
	t.hits[sender] = pruned
	return len(pruned) > t.threshold
}

func (t *Tracker) pruneLocked(sender string, now time.Time) []time.Time {
	entries := t.hits[sender]
	cutoff := now.Add(-t.window)
	idx := 0
	for _, entry := range entries {
		if entry.After(cutoff) {
			break
		}
		idx++
	}
	return entries[idx:]
}
