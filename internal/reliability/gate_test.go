package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlasview/layerd/pkg/logger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
func (c *fakeClock) Sleep(d time.Duration)   { c.Advance(d) }

func newTestGate(cfg Config) (*Gate, *fakeClock) {
	g := NewGate(cfg, logger.NewNoOp())
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	g.SetClockForTest(clock.Now, clock.Sleep, 1)
	return g, clock
}

func failingFn(calls *int, err error) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		*calls++
		return nil, err
	}
}

func TestGateRetriesTransientErrors(t *testing.T) {
	g, _ := newTestGate(Config{MaxAttempts: 5, FailureThreshold: 5})

	calls := 0
	_, err := g.Call(context.Background(), "earth-engine", 0, func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, &TransientNetworkError{Err: errors.New("reset")}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGateDoesNotRetryValidationErrors(t *testing.T) {
	g, _ := newTestGate(Config{MaxAttempts: 5, FailureThreshold: 5})

	calls := 0
	_, err := g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 400, Body: []byte("bad params")}))

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("validation error must not be retried, got %d attempts", calls)
	}
}

func TestGateOpensAfterConsecutiveFailures(t *testing.T) {
	g, _ := newTestGate(Config{MaxAttempts: 1, FailureThreshold: 5, Cooldown: 5 * time.Second})

	calls := 0
	for i := 0; i < 5; i++ {
		_, err := g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
		if err == nil {
			t.Fatal("expected failure")
		}
	}
	if calls != 5 {
		t.Fatalf("expected 5 upstream attempts, got %d", calls)
	}

	snap := g.Snapshot("earth-engine")
	if snap.State != CircuitOpen {
		t.Fatalf("circuit state = %q, want open", snap.State)
	}
	if snap.ConsecutiveFailures != 5 {
		t.Fatalf("consecutive failures = %d, want 5", snap.ConsecutiveFailures)
	}

	// The 6th call must fail fast without touching the upstream.
	_, err := g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
	var coe *CircuitOpenError
	if !errors.As(err, &coe) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("open circuit invoked the upstream, %d attempts", calls)
	}
}

func TestGateHalfOpenProbeSuccessCloses(t *testing.T) {
	g, clock := newTestGate(Config{MaxAttempts: 1, FailureThreshold: 5, Cooldown: 5 * time.Second})

	calls := 0
	for i := 0; i < 5; i++ {
		g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
	}

	clock.Advance(6 * time.Second)

	// Exactly one probe is admitted and its success closes the circuit.
	_, err := g.Call(context.Background(), "earth-engine", 0, func(context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("probe should pass through, got %v", err)
	}

	snap := g.Snapshot("earth-engine")
	if snap.State != CircuitClosed {
		t.Fatalf("circuit state = %q, want closed", snap.State)
	}
	if snap.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0 after probe success", snap.ConsecutiveFailures)
	}
}

func TestGateFailedProbeDoublesCooldown(t *testing.T) {
	g, clock := newTestGate(Config{MaxAttempts: 1, FailureThreshold: 5, Cooldown: 5 * time.Second, MaxCooldown: 60 * time.Second})

	calls := 0
	for i := 0; i < 5; i++ {
		g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
	}

	clock.Advance(6 * time.Second)

	_, err := g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
	if err == nil {
		t.Fatal("expected probe failure")
	}

	snap := g.Snapshot("earth-engine")
	if snap.State != CircuitOpen {
		t.Fatalf("circuit state = %q, want open after failed probe", snap.State)
	}
	if got, want := snap.NextRetryAt.Sub(clock.Now()), 10*time.Second; got != want {
		t.Fatalf("cooldown after failed probe = %v, want %v", got, want)
	}
}

func TestGateTimeoutClassifiedTransient(t *testing.T) {
	g, _ := newTestGate(Config{MaxAttempts: 2, FailureThreshold: 5})

	calls := 0
	_, err := g.Call(context.Background(), "earth-engine", time.Millisecond, func(ctx context.Context) (any, error) {
		calls++
		<-ctx.Done()
		return nil, ctx.Err()
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("timeouts should be retried, got %d attempts", calls)
	}
}

func TestGateCancelledProbeReleasesHalfOpenSlot(t *testing.T) {
	g, clock := newTestGate(Config{MaxAttempts: 1, FailureThreshold: 5, Cooldown: 5 * time.Second})

	calls := 0
	for i := 0; i < 5; i++ {
		g.Call(context.Background(), "earth-engine", 0, failingFn(&calls, &UpstreamError{Status: 500}))
	}

	clock.Advance(6 * time.Second)

	// The probe's caller goes away mid-flight.
	ctx, cancel := context.WithCancel(context.Background())
	_, err := g.Call(ctx, "earth-engine", 0, func(ctx context.Context) (any, error) {
		cancel()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The upstream has recovered; a fresh probe must be admitted and its
	// success must close the circuit.
	clock.Advance(6 * time.Second)
	probed := 0
	_, err = g.Call(context.Background(), "earth-engine", 0, func(context.Context) (any, error) {
		probed++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("probe after cancelled probe rejected: %v", err)
	}
	if probed != 1 {
		t.Fatalf("upstream probed %d times, want 1", probed)
	}
	if snap := g.Snapshot("earth-engine"); snap.State != CircuitClosed {
		t.Fatalf("circuit state = %q, want closed", snap.State)
	}
}

func TestGateCallerDeadlineDuringBackoffIsTimeout(t *testing.T) {
	g := NewGate(Config{MaxAttempts: 3, FailureThreshold: 5, BackoffBase: time.Millisecond}, logger.NewNoOp())
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	// Real sleep so the caller's deadline can fire during the backoff.
	g.SetClockForTest(clock.Now, func(time.Duration) { time.Sleep(20 * time.Millisecond) }, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := g.Call(ctx, "earth-engine", 0, failingFn(&calls, &TransientNetworkError{Err: errors.New("reset")}))

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before the deadline fired, got %d", calls)
	}
}

func TestGateCallerCancellationNotCounted(t *testing.T) {
	g, _ := newTestGate(Config{MaxAttempts: 5, FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Call(ctx, "earth-engine", 0, func(ctx context.Context) (any, error) {
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if snap := g.Snapshot("earth-engine"); snap.State != CircuitClosed || snap.ConsecutiveFailures != 0 {
		t.Fatalf("cancellation must not count against the circuit: %+v", snap)
	}
}
