package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerClock(func() time.Time { return now }),
	)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after 3 failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow when open")
	}

	now = now.Add(200 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(func() time.Time { return now }),
	)
	cb.RecordFailure()
	now = now.Add(100 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected re-open after failure in half-open")
	}
}

func testGuard() *Guard {
	g := NewGuard("test", nil)
	g.BaseBackoff = time.Millisecond
	return g
}

func TestGuardRetriesTransient(t *testing.T) {
	g := testGuard()
	attempts := 0
	err := g.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestGuardStopsOnPermanent(t *testing.T) {
	g := testGuard()
	base := errors.New("401 unauthorized")
	attempts := 0
	err := g.Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(base)
	})
	if !errors.Is(err, base) {
		t.Fatalf("err = %v, want %v", err, base)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestGuardContextCancelled(t *testing.T) {
	g := testGuard()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := g.Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("err=%v attempts=%d, want error after 1 attempt", err, attempts)
	}
}

func TestGuardCircuitOpen(t *testing.T) {
	g := testGuard()
	g.MaxRetries = 0
	g.Breaker = NewCircuitBreaker(WithBreakerThreshold(1))

	_ = g.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	err := g.Do(context.Background(), func(context.Context) error {
		t.Fatal("call should have been rejected")
		return nil
	})
	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Service != "test" {
		t.Fatalf("expected ErrCircuitOpen, got %T: %v", err, err)
	}
}
