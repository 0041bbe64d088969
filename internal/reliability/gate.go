package reliability

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/metrics"
)

// CircuitState is the breaker state for one logical upstream endpoint.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// CircuitSnapshot is a point-in-time copy of an endpoint's breaker.
type CircuitSnapshot struct {
	State               CircuitState
	ConsecutiveFailures int
	LastFailureAt       time.Time
	NextRetryAt         time.Time
}

type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int
	// Cooldown is the initial open interval; it doubles on every failed
	// probe up to MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration
	// MaxAttempts bounds the retry loop for transient errors within a single
	// Call. The whole loop counts as one failure against the circuit.
	MaxAttempts int
	BackoffBase time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         5 * time.Second,
		MaxCooldown:      60 * time.Second,
		MaxAttempts:      5,
		BackoffBase:      500 * time.Millisecond,
	}
}

type breaker struct {
	state    CircuitState
	failures int
	lastFail time.Time
	retryAt  time.Time
	cooldown time.Duration
	probing  bool
}

// Gate wraps outbound upstream calls with a per-endpoint circuit breaker and
// an exponential-backoff retry loop for transient errors.
type Gate struct {
	cfg    Config
	logger logger.Logger

	mu       sync.Mutex
	breakers map[string]*breaker

	now   func() time.Time
	sleep func(time.Duration)
	rand  *rand.Rand
}

func NewGate(cfg Config, l logger.Logger) *Gate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = 60 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}

	return &Gate{
		cfg:      cfg,
		logger:   l,
		breakers: make(map[string]*breaker),
		now:      time.Now,
		sleep:    time.Sleep,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClockForTest replaces the time source, sleep and jitter randomness so
// tests run deterministically without real waiting.
func (g *Gate) SetClockForTest(now func() time.Time, sleep func(time.Duration), seed int64) {
	g.now = now
	g.sleep = sleep
	g.rand = rand.New(rand.NewSource(seed))
}

// Call invokes fn through the endpoint's circuit breaker. Transient failures
// are retried with exponential backoff and jitter up to the attempt budget;
// each attempt gets its own deadline. Call never panics and always returns a
// typed error on failure.
func (g *Gate) Call(ctx context.Context, endpointID string, attemptTimeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	if err := g.admit(endpointID); err != nil {
		metrics.CircuitRejections.WithLabelValues(endpointID).Inc()
		return nil, err
	}

	start := g.now()
	result, err := g.execute(ctx, endpointID, attemptTimeout, fn)
	metrics.UpstreamCallDuration.WithLabelValues(endpointID).Observe(g.now().Sub(start).Seconds())

	g.record(endpointID, err)
	return result, err
}

// Snapshot returns the current breaker state for an endpoint.
func (g *Gate) Snapshot(endpointID string) CircuitSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[endpointID]
	if !ok {
		return CircuitSnapshot{State: CircuitClosed}
	}
	return CircuitSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFail,
		NextRetryAt:         b.retryAt,
	}
}

// admit decides whether a call may pass through the endpoint's breaker. When
// an open circuit's cool-down has elapsed exactly one caller is admitted as
// the half-open probe.
func (g *Gate) admit(endpointID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[endpointID]
	if !ok {
		return nil
	}

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if g.now().Before(b.retryAt) {
			return &CircuitOpenError{Endpoint: endpointID, RetryAt: b.retryAt}
		}
		b.state = CircuitHalfOpen
		b.probing = true
		metrics.CircuitTransitions.WithLabelValues(endpointID, string(CircuitHalfOpen)).Inc()
		g.logger.Info("circuit half-open, admitting probe", "endpoint", endpointID)
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return &CircuitOpenError{Endpoint: endpointID, RetryAt: b.retryAt}
		}
		b.probing = true
		return nil
	}
	return nil
}

func (g *Gate) execute(ctx context.Context, endpointID string, attemptTimeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attemptTimeout)
		}

		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// The caller went away; not an upstream failure.
			return nil, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{Endpoint: endpointID}
		}
		lastErr = err

		if !IsTransient(err) {
			g.logger.Warn("non-retryable upstream error", "endpoint", endpointID, "error", err)
			return nil, err
		}

		if attempt == g.cfg.MaxAttempts {
			break
		}

		backoff := g.backoff(attempt)
		g.logger.Debug("retrying upstream call",
			"endpoint", endpointID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		metrics.UpstreamRetries.WithLabelValues(endpointID).Inc()
		g.sleep(backoff)

		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(cerr, context.DeadlineExceeded) {
				return nil, &TimeoutError{Endpoint: endpointID}
			}
			return nil, cerr
		}
	}

	return nil, lastErr
}

// backoff doubles the base per attempt and adds jitter up to half the step.
func (g *Gate) backoff(attempt int) time.Duration {
	step := g.cfg.BackoffBase << (attempt - 1)

	g.mu.Lock()
	jitter := time.Duration(g.rand.Int63n(int64(step)/2 + 1))
	g.mu.Unlock()

	return step + jitter
}

// record updates the endpoint's breaker after a settled call. Cancellations
// count neither as success nor failure, but a cancelled probe must hand the
// half-open slot back or the circuit can never recover.
func (g *Gate) record(endpointID string, err error) {
	if errors.Is(err, context.Canceled) {
		g.mu.Lock()
		if b, ok := g.breakers[endpointID]; ok && b.state == CircuitHalfOpen {
			b.state = CircuitOpen
			b.probing = false
		}
		g.mu.Unlock()
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[endpointID]

	if err == nil {
		if !ok {
			return
		}
		if b.state != CircuitClosed {
			g.logger.Info("circuit closed", "endpoint", endpointID)
			metrics.CircuitTransitions.WithLabelValues(endpointID, string(CircuitClosed)).Inc()
		}
		b.state = CircuitClosed
		b.failures = 0
		b.cooldown = g.cfg.Cooldown
		b.probing = false
		return
	}

	if !ok {
		b = &breaker{state: CircuitClosed, cooldown: g.cfg.Cooldown}
		g.breakers[endpointID] = b
	}

	b.failures++
	b.lastFail = g.now()

	switch {
	case b.state == CircuitHalfOpen:
		// Failed probe: reopen and double the cool-down.
		b.cooldown = min(b.cooldown*2, g.cfg.MaxCooldown)
		b.state = CircuitOpen
		b.retryAt = g.now().Add(b.cooldown)
		b.probing = false
		metrics.CircuitTransitions.WithLabelValues(endpointID, string(CircuitOpen)).Inc()
		g.logger.Warn("probe failed, circuit reopened",
			"endpoint", endpointID,
			"cooldown", b.cooldown,
			"error", err,
		)
	case b.state == CircuitClosed && b.failures >= g.cfg.FailureThreshold:
		b.state = CircuitOpen
		b.retryAt = g.now().Add(b.cooldown)
		metrics.CircuitTransitions.WithLabelValues(endpointID, string(CircuitOpen)).Inc()
		g.logger.Warn("circuit opened",
			"endpoint", endpointID,
			"consecutive_failures", b.failures,
			"retry_at", b.retryAt,
			"error", err,
		)
	}
}
