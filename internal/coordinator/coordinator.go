package coordinator

import (
	"context"
	"sync"

	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/metrics"
)

type flight struct {
	cancel context.CancelFunc
	done   chan struct{}

	// set before done is closed
	result any
	err    error
}

// Coordinator deduplicates concurrent requests for the same cache key: the
// first caller starts the physical call, later callers attach to it and
// receive the same result. At most one physical call per key is in flight.
type Coordinator struct {
	logger logger.Logger

	mu       sync.Mutex
	inflight map[string]*flight
}

func New(l logger.Logger) *Coordinator {
	return &Coordinator{
		logger:   l,
		inflight: make(map[string]*flight),
	}
}

// Do runs fn under key, or attaches to the in-flight call for key if one
// exists. fn runs on its own context detached from any single caller, so a
// caller's cancellation only detaches that waiter. A flight cancelled via
// Cancel settles with the context error and its result is discarded, which
// guarantees a superseded fetch can never be written to the cache.
func (c *Coordinator) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		metrics.CoordinatorDedups.Inc()
		c.logger.Debug("attached to in-flight request", "key", key)
		return c.wait(ctx, f)
	}

	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{cancel: cancel, done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	go func() {
		result, err := fn(fctx)
		if fctx.Err() != nil {
			// Cancelled mid-flight: discard whatever fn produced.
			result, err = nil, fctx.Err()
		}

		c.mu.Lock()
		if c.inflight[key] == f {
			delete(c.inflight, key)
		}
		c.mu.Unlock()

		f.result, f.err = result, err
		close(f.done)
		cancel()
	}()

	return c.wait(ctx, f)
}

// Cancel cancels the in-flight call for key, if any. Waiters receive the
// context error; a new Do for the same key starts a fresh call immediately.
func (c *Coordinator) Cancel(key string) bool {
	c.mu.Lock()
	f, ok := c.inflight[key]
	if ok {
		delete(c.inflight, key)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.logger.Debug("cancelling in-flight request", "key", key)
	f.cancel()
	return true
}

// InFlight reports whether a call for key is currently registered.
func (c *Coordinator) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[key]
	return ok
}

func (c *Coordinator) wait(ctx context.Context, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		// Detach this waiter only; the underlying call keeps running for
		// anyone else attached to it.
		return nil, ctx.Err()
	}
}
