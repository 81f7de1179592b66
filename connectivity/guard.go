package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying (bad request, auth failure).
// The guard returns the wrapped error unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Guard runs calls to one named service through a breaker with retries.
type Guard struct {
	Service     string
	MaxRetries  int
	BaseBackoff time.Duration
	Breaker     *CircuitBreaker
	Logger      *slog.Logger
}

// NewGuard returns a Guard with 2 retries, 500ms base backoff and a
// default breaker.
func NewGuard(service string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		Service:     service,
		MaxRetries:  2,
		BaseBackoff: 500 * time.Millisecond,
		Breaker:     NewCircuitBreaker(),
		Logger:      logger,
	}
}

// Do calls fn until it succeeds, returns a Permanent error, the context
// ends, or MaxRetries retries are spent. Backoff doubles per attempt.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.MaxRetries; attempt++ {
		if g.Breaker != nil && !g.Breaker.Allow() {
			return &ErrCircuitOpen{Service: g.Service}
		}
		err := fn(ctx)
		if err == nil {
			if g.Breaker != nil {
				g.Breaker.RecordSuccess()
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if g.Breaker != nil {
			g.Breaker.RecordFailure()
		}
		lastErr = err
		if ctx.Err() != nil || attempt == g.MaxRetries {
			break
		}

		wait := g.BaseBackoff * (1 << uint(attempt))
		if g.Logger != nil {
			g.Logger.WarnContext(ctx, "connectivity: retrying call",
				"service", g.Service, "attempt", attempt+1,
				"backoff_ms", wait.Milliseconds(), "error", err)
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(wait):
		}
	}
	return lastErr
}
