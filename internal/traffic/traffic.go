// Package traffic tracks request outcomes over a sliding time window.
package traffic

import (
	"sync"
	"time"
)

// maxRetention bounds memory when the window is queried rarely.
const maxRetention = 5 * time.Minute

type outcome struct {
	at     time.Time
	failed bool
}

// Window records outcomes and reports the failure rate over its span.
// The zero value is not usable; call NewWindow.
type Window struct {
	mu       sync.Mutex
	span     time.Duration
	outcomes []outcome
	now      func() time.Time
}

// NewWindow returns a Window covering span. Spans above five minutes are capped.
func NewWindow(span time.Duration) *Window {
	if span <= 0 || span > maxRetention {
		span = maxRetention
	}
	return &Window{span: span, now: time.Now}
}

// RecordSuccess records a request that the service answered correctly.
func (w *Window) RecordSuccess() { w.record(false) }

// RecordError records a request the service failed to answer.
func (w *Window) RecordError() { w.record(true) }

func (w *Window) record(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.outcomes = append(w.outcomes, outcome{at: now, failed: failed})
	w.pruneLocked(now)
}

// ErrorRate returns the failed and total outcome counts inside the window.
func (w *Window) ErrorRate() (errors, total int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.pruneLocked(now)
	for _, o := range w.outcomes {
		if o.failed {
			errors++
		}
	}
	return errors, len(w.outcomes)
}

// Breached reports whether at least pct percent of the windowed outcomes
// failed. An empty window never breaches.
func (w *Window) Breached(pct int) bool {
	if pct <= 0 {
		return false
	}
	errors, total := w.ErrorRate()
	return total > 0 && errors*100 >= pct*total
}

// pruneLocked drops outcomes older than the span. Outcomes are appended in time order.
func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.outcomes) && w.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.outcomes = append(w.outcomes[:0], w.outcomes[i:]...)
	}
}
