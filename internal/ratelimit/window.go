// Package ratelimit implements the per-adapter fixed-window admission
// control used in front of every venue REST call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limit describes a venue's request budget per window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Window is a fixed-window counter owned by exactly one adapter instance.
// When the budget is exhausted callers block until the window resets; the
// limiter never fails a request.
type Window struct {
	limit Limit
	clock func() time.Time

	mu          sync.Mutex
	requests    int
	windowStart time.Time
}

// NewWindow constructs a limiter for the given budget. A nil clock uses
// time.Now.
func NewWindow(limit Limit, clock func() time.Time) *Window {
	if clock == nil {
		clock = time.Now
	}
	if limit.MaxRequests <= 0 {
		limit.MaxRequests = 1
	}
	if limit.Window <= 0 {
		limit.Window = time.Second
	}
	return &Window{
		limit:       limit,
		clock:       clock,
		mu:          sync.Mutex{},
		requests:    0,
		windowStart: time.Time{},
	}
}

// Wait blocks until the current window admits another request, then records
// it. It returns early only when ctx is cancelled.
func (w *Window) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.clock()
		if w.windowStart.IsZero() || now.Sub(w.windowStart) >= w.limit.Window {
			w.windowStart = now
			w.requests = 0
		}
		if w.requests < w.limit.MaxRequests {
			w.requests++
			w.mu.Unlock()
			return nil
		}
		wait := w.limit.Window - now.Sub(w.windowStart)
		w.mu.Unlock()

		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InWindow reports the requests admitted in the current window. Used by
// telemetry and tests.
func (w *Window) InWindow() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.windowStart.IsZero() || w.clock().Sub(w.windowStart) >= w.limit.Window {
		return 0
	}
	return w.requests
}
