package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := New(Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "upstream_site",
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Call(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("Call() error = %v, want errBoom", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Call() while open error = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn called while circuit open")
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v, want [closed->open]", transitions)
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second})
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	now = now.Add(2 * time.Second)
	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("probe Call() error = %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half_open after one success", cb.State())
	}
	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("second probe Call() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, Timeout: time.Second})
	now := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	ctx := context.Background()

	_ = cb.Call(ctx, func() error { return errBoom })
	now = now.Add(2 * time.Second)
	_ = cb.Call(ctx, func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open after failed probe", cb.State())
	}
}

func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	cb := New(Config{FailureThreshold: 1})
	err := cb.Call(context.Background(), func() error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Call() error = %v, want context.Canceled", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed", cb.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := cb.Call(ctx, func() error { t.Fatal("fn called with cancelled ctx"); return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Call() with cancelled ctx error = %v", err)
	}
}
