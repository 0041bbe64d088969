package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/pkg/logger"
)

// allowed transitions. Cache hits may settle a layer without passing through
// loading; there is no terminal state, layers can be re-fetched indefinitely.
var allowed = map[Status][]Status{
	StatusIdle:     {StatusLoading, StatusSuccess, StatusFallback},
	StatusLoading:  {StatusLoading, StatusSuccess, StatusError, StatusFallback},
	StatusSuccess:  {StatusLoading, StatusSuccess, StatusFallback},
	StatusError:    {StatusLoading, StatusSuccess, StatusFallback},
	StatusFallback: {StatusLoading, StatusSuccess, StatusFallback},
}

// Machine holds every layer's state and an observer list per layer.
type Machine struct {
	logger logger.Logger

	mu     sync.Mutex
	states map[string]*LayerState
	subs   map[string]map[int]func(Event)
	nextID int

	now func() time.Time
}

func NewMachine(l logger.Logger) *Machine {
	return &Machine{
		logger: l,
		states: make(map[string]*LayerState),
		subs:   make(map[string]map[int]func(Event)),
		now:    time.Now,
	}
}

// Latest returns the current state for a layer, creating an idle record the
// first time the layer is referenced.
func (m *Machine) Latest(layerID string) LayerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.getLocked(layerID)
}

// Transition moves a layer to a new status and notifies subscribers.
// Invalid transitions leave the state untouched and return an error.
func (m *Machine) Transition(layerID string, to Status, source layer.SourceKind, lastError string, metadata map[string]any) (LayerState, error) {
	m.mu.Lock()

	st := m.getLocked(layerID)
	from := st.Status

	if !transitionAllowed(from, to) {
		m.mu.Unlock()
		m.logger.Error("invalid layer state transition", "layer", layerID, "from", from, "to", to)
		return *st, fmt.Errorf("invalid transition for layer %q: %s -> %s", layerID, from, to)
	}

	st.Status = to
	st.DataSource = source
	st.LastError = lastError
	st.Metadata = metadata
	st.LastUpdated = m.now()

	event := Event{
		LayerID:    layerID,
		Previous:   from,
		New:        to,
		DataSource: source,
		Metadata:   metadata,
		Timestamp:  st.LastUpdated,
	}
	snapshot := *st

	// Copy the callbacks so subscribers can unsubscribe (or subscribe) from
	// within a callback without deadlocking.
	var callbacks []func(Event)
	for _, fn := range m.subs[layerID] {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("layer transition", "layer", layerID, "from", from, "to", to, "source", source)

	for _, fn := range callbacks {
		fn(event)
	}

	return snapshot, nil
}

// Subscribe registers a callback for a layer's transitions and returns an
// idempotent unsubscribe function.
func (m *Machine) Subscribe(layerID string, fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subs[layerID] == nil {
		m.subs[layerID] = make(map[int]func(Event))
	}
	id := m.nextID
	m.nextID++
	m.subs[layerID][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[layerID], id)
	}
}

func (m *Machine) getLocked(layerID string) *LayerState {
	st, ok := m.states[layerID]
	if !ok {
		st = &LayerState{
			LayerID:     layerID,
			Status:      StatusIdle,
			DataSource:  layer.SourceUnknown,
			LastUpdated: m.now(),
		}
		m.states[layerID] = st
	}
	return st
}

func transitionAllowed(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
