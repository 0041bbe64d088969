// Package orchestrator decides, for every layer+parameter request, whether to
// serve cached data, issue exactly one upstream call, fail over to stale data
// or report an error. It is the only component that mutates layer state.
package orchestrator

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atlasview/layerd/internal/coordinator"
	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/internal/reliability"
	"github.com/atlasview/layerd/internal/repository/cache"
	"github.com/atlasview/layerd/internal/session"
	"github.com/atlasview/layerd/internal/state"
	"github.com/atlasview/layerd/internal/upstream"
	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/metrics"
)

// Viewport change below these deltas is noise from map interaction and is not
// persisted.
const (
	viewportZoomThreshold   = 0.25
	viewportCenterThreshold = 0.001 // degrees
)

// LayerSelection is one entry of the desired enabled-layer set.
type LayerSelection struct {
	LayerID string
	Params  map[string]any
	Opacity float64
}

type Orchestrator struct {
	cache    *cache.Store
	gate     *reliability.Gate
	coord    *coordinator.Coordinator
	machine  *state.Machine
	session  *session.Memory
	upstream upstream.Client
	registry *Registry
	logger   logger.Logger

	mu        sync.Mutex
	activeKey map[string]string // layer id -> in-flight cache key
	enabled   map[string]string // layer id -> cache key of enabled params
	viewport  map[string]session.Viewport
}

func New(
	cacheStore *cache.Store,
	gate *reliability.Gate,
	coord *coordinator.Coordinator,
	machine *state.Machine,
	sess *session.Memory,
	client upstream.Client,
	registry *Registry,
	l logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cache:     cacheStore,
		gate:      gate,
		coord:     coord,
		machine:   machine,
		session:   sess,
		upstream:  client,
		registry:  registry,
		logger:    l,
		activeKey: make(map[string]string),
		enabled:   make(map[string]string),
		viewport:  make(map[string]session.Viewport),
	}
}

// FetchLayer resolves the layer's data: cache hit, one deduplicated upstream
// call, stale fallback or error. It never fails across this boundary; every
// outcome is a valid LayerState and errors land in LayerState.LastError.
func (o *Orchestrator) FetchLayer(ctx context.Context, layerID string, params map[string]any) state.LayerState {
	cfg := o.registry.For(layerID)
	key := cache.Key(layerID, params)

	// A fetch for the same layer with different parameters supersedes the
	// previous one however it resolves: the stale in-flight call is cancelled
	// and its result discarded, even when this fetch is served from cache.
	o.mu.Lock()
	if prev, ok := o.activeKey[layerID]; ok && prev != key {
		o.coord.Cancel(prev)
		delete(o.activeKey, layerID)
	}
	o.mu.Unlock()

	if e, ok := o.cache.Get(key); ok {
		st, err := o.machine.Transition(layerID, statusFor(e.Source), e.Source, "", map[string]any{"cached": true})
		if err != nil {
			return o.machine.Latest(layerID)
		}
		return st
	}

	if _, err := o.machine.Transition(layerID, state.StatusLoading, layer.SourceUnknown, "", nil); err != nil {
		return o.machine.Latest(layerID)
	}

	o.mu.Lock()
	o.activeKey[layerID] = key
	o.mu.Unlock()

	result, err := o.coord.Do(ctx, key, func(fctx context.Context) (any, error) {
		return o.gate.Call(fctx, cfg.Endpoint, cfg.AttemptTimeout, func(actx context.Context) (any, error) {
			return o.upstream.Compute(actx, layerID, params)
		})
	})

	o.mu.Lock()
	if o.activeKey[layerID] == key {
		delete(o.activeKey, layerID)
	}
	o.mu.Unlock()

	if err == nil {
		payload := result.(*upstream.Payload)
		source, known := layer.ParseSourceKind(payload.Metadata.DataSource)
		if !known {
			o.logger.Warn("upstream payload missing data source flag, classifying as unknown",
				"layer", layerID,
				"declared", payload.Metadata.DataSource,
			)
		}

		o.cache.Put(key, payload.Data, cfg.TTL, source)

		st, terr := o.machine.Transition(layerID, statusFor(source), source, "", map[string]any{"stale": false})
		if terr != nil {
			return o.machine.Latest(layerID)
		}
		return st
	}

	if errors.Is(err, context.Canceled) {
		// Superseded or the caller went away; a newer fetch owns this
		// layer's state now.
		o.logger.Debug("fetch cancelled", "layer", layerID, "key", key)
		return o.machine.Latest(layerID)
	}

	if stale, ok := o.cache.GetStale(key); ok {
		metrics.CacheStaleServes.Inc()
		o.logger.Warn("serving stale cache entry after upstream failure",
			"layer", layerID,
			"age", time.Since(stale.CreatedAt),
			"error", err,
		)
		st, terr := o.machine.Transition(layerID, state.StatusFallback, stale.Source, humanReason(err), map[string]any{"stale": true})
		if terr != nil {
			return o.machine.Latest(layerID)
		}
		return st
	}

	o.logger.Error("layer fetch failed with no fallback", "layer", layerID, "error", err)
	st, terr := o.machine.Transition(layerID, state.StatusError, layer.SourceUnknown, humanReason(err), nil)
	if terr != nil {
		return o.machine.Latest(layerID)
	}
	return st
}

// SyncEnabledLayers diffs the desired set against the currently enabled one,
// fetches newly enabled (or re-parameterized) layers, cancels fetches for
// disabled ones and persists the set through the session.
func (o *Orchestrator) SyncEnabledLayers(ctx context.Context, desired []LayerSelection) {
	type fetch struct {
		layerID string
		params  map[string]any
	}

	desiredKeys := make(map[string]string, len(desired))
	for _, sel := range desired {
		desiredKeys[sel.LayerID] = cache.Key(sel.LayerID, sel.Params)
	}

	var toFetch []fetch

	o.mu.Lock()
	for _, sel := range desired {
		if o.enabled[sel.LayerID] != desiredKeys[sel.LayerID] {
			toFetch = append(toFetch, fetch{layerID: sel.LayerID, params: sel.Params})
		}
	}
	for layerID := range o.enabled {
		if _, ok := desiredKeys[layerID]; !ok {
			if key, active := o.activeKey[layerID]; active {
				o.coord.Cancel(key)
			}
		}
	}
	o.enabled = desiredKeys
	o.mu.Unlock()

	// One lightweight task per fetch; detached from the caller's context so
	// an unrelated request teardown does not abort the fetches it triggered.
	fetchCtx := context.WithoutCancel(ctx)
	for _, f := range toFetch {
		go o.FetchLayer(fetchCtx, f.layerID, f.params)
	}

	selections := make([]LayerSelection, len(desired))
	copy(selections, desired)
	sort.Slice(selections, func(i, j int) bool { return selections[i].LayerID < selections[j].LayerID })

	o.session.Save(func(snap *session.Snapshot) {
		if !snap.Preferences.RememberLayers {
			return
		}
		previous := make(map[string]session.EnabledLayer, len(snap.EnabledLayers))
		for _, el := range snap.EnabledLayers {
			previous[el.LayerID] = el
		}
		layers := make([]session.EnabledLayer, 0, len(selections))
		for _, sel := range selections {
			enabledAt := time.Now()
			if prev, ok := previous[sel.LayerID]; ok {
				enabledAt = prev.EnabledAt
			}
			layers = append(layers, session.EnabledLayer{
				LayerID:   sel.LayerID,
				Params:    sel.Params,
				Opacity:   sel.Opacity,
				EnabledAt: enabledAt,
			})
		}
		snap.EnabledLayers = layers
	})
}

// UpdateViewport persists a viewport change for a map context, ignoring
// movements below the noise threshold.
func (o *Orchestrator) UpdateViewport(contextID string, vp session.Viewport) {
	o.mu.Lock()
	last, seen := o.viewport[contextID]
	if seen &&
		math.Abs(vp.Zoom-last.Zoom) < viewportZoomThreshold &&
		math.Abs(vp.CenterLat-last.CenterLat) < viewportCenterThreshold &&
		math.Abs(vp.CenterLng-last.CenterLng) < viewportCenterThreshold {
		o.mu.Unlock()
		return
	}
	o.viewport[contextID] = vp
	o.mu.Unlock()

	o.session.Save(func(snap *session.Snapshot) {
		if !snap.Preferences.RememberViewport {
			return
		}
		snap.ViewportByContext[contextID] = vp
	})
}

// RestoreSession loads the persisted snapshot and re-enables its layers.
func (o *Orchestrator) RestoreSession(ctx context.Context) session.Snapshot {
	snap := o.session.Load()

	selections := make([]LayerSelection, 0, len(snap.EnabledLayers))
	for _, el := range snap.EnabledLayers {
		selections = append(selections, LayerSelection{
			LayerID: el.LayerID,
			Params:  el.Params,
			Opacity: el.Opacity,
		})
	}
	if len(selections) > 0 {
		o.SyncEnabledLayers(ctx, selections)
	}

	o.mu.Lock()
	for contextID, vp := range snap.ViewportByContext {
		o.viewport[contextID] = vp
	}
	o.mu.Unlock()

	return snap
}

// Subscribe registers a callback for a layer's state transitions.
func (o *Orchestrator) Subscribe(layerID string, fn func(state.Event)) func() {
	return o.machine.Subscribe(layerID, fn)
}

// GetLatestState returns the current state of a layer.
func (o *Orchestrator) GetLatestState(layerID string) state.LayerState {
	return o.machine.Latest(layerID)
}

func (o *Orchestrator) ExportSnapshot() ([]byte, error) {
	return o.session.Export()
}

func (o *Orchestrator) ImportSnapshot(data []byte) error {
	return o.session.Import(data)
}

// ClearAll drops the cache and the persisted session.
func (o *Orchestrator) ClearAll() error {
	if err := o.cache.Clear(); err != nil {
		return err
	}
	o.mu.Lock()
	o.enabled = make(map[string]string)
	o.viewport = make(map[string]session.Viewport)
	o.mu.Unlock()
	return o.session.Clear()
}

// InvalidateLayer drops the cached entry for one layer+parameter combination.
func (o *Orchestrator) InvalidateLayer(layerID string, params map[string]any) {
	o.cache.Invalidate(cache.Key(layerID, params))
}

// CircuitState exposes an endpoint's breaker for observability.
func (o *Orchestrator) CircuitState(endpointID string) reliability.CircuitSnapshot {
	return o.gate.Snapshot(endpointID)
}

// Shutdown flushes pending session state.
func (o *Orchestrator) Shutdown() error {
	return o.session.Close()
}

// statusFor maps a payload's provenance to the layer status. Real and unknown
// provenance settle as success (unknown is surfaced via the data source field
// and a warning, not by downgrading the status); declared fallback data
// settles as fallback.
func statusFor(source layer.SourceKind) state.Status {
	if source == layer.SourceFallback {
		return state.StatusFallback
	}
	return state.StatusSuccess
}

// humanReason converts a typed failure into a message fit for the UI.
func humanReason(err error) string {
	var (
		circuit  *reliability.CircuitOpenError
		timeout  *reliability.TimeoutError
		upstream *reliability.UpstreamError
		network  *reliability.TransientNetworkError
	)
	switch {
	case errors.As(err, &circuit):
		return "the computation service is temporarily unavailable; please try again shortly"
	case errors.As(err, &timeout):
		return "the computation took too long and was aborted"
	case errors.As(err, &upstream):
		if upstream.Validation() {
			return "the computation service rejected the layer parameters"
		}
		return "the computation service reported an internal error"
	case errors.As(err, &network):
		return "could not reach the computation service"
	}
	return err.Error()
}
