package safety

import (
	"sync"
	"time"
)

// windowLimiter caps executions within a trailing window using a sliding log
// of authorization times
type windowLimiter struct {
	max       int
	window    time.Duration
	mu        sync.Mutex
	callTimes []time.Time
}

func newWindowLimiter(max int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		max:       max,
		window:    window,
		callTimes: make([]time.Time, 0, max),
	}
}

// removeExpired drops timestamps at least one window old. Caller holds mu.
func (w *windowLimiter) removeExpired(now time.Time) {
	cutoff := now.Add(-w.window)

	// timestamps are appended in order
	expired := 0
	for _, t := range w.callTimes {
		if !t.After(cutoff) {
			expired++
		} else {
			break
		}
	}
	w.callTimes = w.callTimes[expired:]
}

// full reports whether no slot is free at now
func (w *windowLimiter) full(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeExpired(now)
	return len(w.callTimes) >= w.max
}

// record consumes a slot at now
func (w *windowLimiter) record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callTimes = append(w.callTimes, now)
}

// stats returns the used slots and the time the oldest one frees up
func (w *windowLimiter) stats(now time.Time) (used int, nextFree time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeExpired(now)
	if len(w.callTimes) > 0 {
		nextFree = w.callTimes[0].Add(w.window)
	}
	return len(w.callTimes), nextFree
}

func (w *windowLimiter) configure(max int, window time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.max = max
	w.window = window
}

func (w *windowLimiter) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callTimes = w.callTimes[:0]
}
