package traffic

import (
	"testing"
	"time"
)

func newTestWindow(span time.Duration) (*Window, *time.Time) {
	now := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(span)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestErrorRate_Empty(t *testing.T) {
	w, _ := newTestWindow(time.Minute)
	if errs, total := w.ErrorRate(); errs != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errs, total)
	}
	if w.Breached(1) {
		t.Error("Breached() = true on empty window")
	}
}

func TestErrorRate_CountsOutcomes(t *testing.T) {
	w, _ := newTestWindow(time.Minute)
	w.RecordSuccess()
	w.RecordSuccess()
	w.RecordError()

	if errs, total := w.ErrorRate(); errs != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errs, total)
	}
}

func TestErrorRate_SlidesOutOldOutcomes(t *testing.T) {
	w, now := newTestWindow(time.Minute)
	w.RecordError()
	w.RecordError()
	*now = now.Add(45 * time.Second)
	w.RecordSuccess()
	*now = now.Add(30 * time.Second)

	if errs, total := w.ErrorRate(); errs != 0 || total != 1 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 1) after errors aged out", errs, total)
	}
}

func TestBreached(t *testing.T) {
	tests := []struct {
		name            string
		errors, success int
		pct             int
		want            bool
	}{
		{"below threshold", 1, 3, 50, false},
		{"at threshold", 2, 2, 50, true},
		{"all failed", 3, 0, 100, true},
		{"disabled", 5, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newTestWindow(time.Minute)
			for i := 0; i < tt.errors; i++ {
				w.RecordError()
			}
			for i := 0; i < tt.success; i++ {
				w.RecordSuccess()
			}
			if got := w.Breached(tt.pct); got != tt.want {
				t.Errorf("Breached(%d) = %v, want %v", tt.pct, got, tt.want)
			}
		})
	}
}

func TestNewWindow_CapsSpan(t *testing.T) {
	if w := NewWindow(time.Hour); w.span != maxRetention {
		t.Errorf("span = %v, want %v", w.span, maxRetention)
	}
	if w := NewWindow(0); w.span != maxRetention {
		t.Errorf("span = %v, want %v", w.span, maxRetention)
	}
}
