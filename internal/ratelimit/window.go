package ratelimit

import (
	"sync"
	"time"
)

// Window is a sliding-window limiter over upstream calls. It keeps the
// timestamps of admitted calls and prunes those older than the window on
// every check. One Window is shared by every operator.
type Window struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	calls  []time.Time
	now    func() time.Time
}

// Status is a point-in-time view of the window
type Status struct {
	Limit     int           `json:"limit"`
	Used      int           `json:"used"`
	Remaining int           `json:"remaining"`
	Window    time.Duration `json:"window"`
	ResetIn   time.Duration `json:"reset_in"`
}

// NewWindow creates a limiter admitting max calls per window
func NewWindow(window time.Duration, max int) *Window {
	return &Window{window: window, max: max, now: time.Now}
}

// WithClock replaces the time source; for tests
func (w *Window) WithClock(now func() time.Time) *Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
	return w
}

// Allow prunes expired entries and, if the quota is not reached, records
// a call and returns true. A rejected call is not recorded.
func (w *Window) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.calls) >= w.max {
		return false
	}
	w.calls = append(w.calls, now)
	return true
}

// Status reports current usage without recording anything
func (w *Window) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	var resetIn time.Duration
	if len(w.calls) > 0 {
		resetIn = w.calls[0].Add(w.window).Sub(now)
	}
	return Status{
		Limit:     w.max,
		Used:      len(w.calls),
		Remaining: maxInt(0, w.max-len(w.calls)),
		Window:    w.window,
		ResetIn:   resetIn,
	}
}

// RetryAfter is how long until the oldest call leaves the window
func (w *Window) RetryAfter() time.Duration {
	return w.Status().ResetIn
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	keep := 0
	for keep < len(w.calls) && !w.calls[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.calls = append(w.calls[:0], w.calls[keep:]...)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
