package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atlasview/layerd/pkg/logger"
	"github.com/atlasview/layerd/pkg/metrics"
)

const DefaultDebounce = 500 * time.Millisecond

// Memory owns the session snapshot: the in-memory copy is authoritative and
// flushes to the blob store on a debounce timer, so bursts of mutations
// coalesce into a single durable write. No other component touches durable
// session storage.
type Memory struct {
	store    BlobStore
	logger   logger.Logger
	debounce time.Duration

	mu    sync.Mutex
	snap  Snapshot
	timer *time.Timer
	dirty bool
}

func NewMemory(store BlobStore, debounce time.Duration, l logger.Logger) *Memory {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Memory{
		store:    store,
		logger:   l,
		debounce: debounce,
		snap:     DefaultSnapshot(),
	}
}

// Load reads the persisted snapshot once at startup. A corrupt or unreadable
// snapshot means "no prior session"; an unknown version falls back to
// defaults after a best-effort migration. Restore is gated by the stored
// preferences.
func (m *Memory) Load() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, found, err := m.store.Load()
	if err != nil {
		m.logger.Warn("failed to read session snapshot, starting fresh", "error", err)
		return m.snap.clone()
	}
	if !found {
		m.logger.Debug("no prior session snapshot")
		return m.snap.clone()
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.logger.Warn("corrupt session snapshot, starting fresh", "error", err)
		return m.snap.clone()
	}

	snap, err = migrate(snap)
	if err != nil {
		m.logger.Warn("session snapshot migration failed, starting fresh", "version", snap.Version, "error", err)
		return m.snap.clone()
	}

	if !snap.Preferences.AutoRestore {
		m.logger.Info("session auto-restore disabled, keeping preferences only")
		defaults := DefaultSnapshot()
		defaults.Preferences = snap.Preferences
		m.snap = defaults
		return m.snap.clone()
	}
	if !snap.Preferences.RememberLayers {
		snap.EnabledLayers = []EnabledLayer{}
	}
	if !snap.Preferences.RememberViewport {
		snap.ViewportByContext = map[string]Viewport{}
	}

	m.snap = snap
	m.logger.Info("session restored", "layers", len(snap.EnabledLayers))
	return m.snap.clone()
}

// Save applies the mutator to the in-memory snapshot and schedules a
// debounced flush.
func (m *Memory) Save(mutator func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mutator(&m.snap)
	m.snap.Version = CurrentVersion
	m.dirty = true

	if m.timer == nil {
		m.timer = time.AfterFunc(m.debounce, m.flushTimer)
	} else {
		m.timer.Reset(m.debounce)
	}
}

// Current returns a copy of the in-memory snapshot, including mutations that
// have not flushed yet.
func (m *Memory) Current() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.clone()
}

// Export serializes the current snapshot. The schema matches Import exactly,
// so a dumped snapshot can be re-imported verbatim.
func (m *Memory) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.snap)
}

// Import replaces the snapshot with the given export and flushes immediately.
func (m *Memory) Import(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("invalid session snapshot: %w", err)
	}

	snap, err := migrate(snap)
	if err != nil {
		return fmt.Errorf("unsupported session snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap = snap
	m.dirty = true
	return m.flushLocked()
}

// Clear resets the snapshot to defaults and removes the persisted blob.
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snap = DefaultSnapshot()
	m.dirty = false
	m.stopTimerLocked()

	if err := m.store.Delete(); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}
	return nil
}

// Close flushes any pending mutation and stops the debounce timer.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimerLocked()
	if !m.dirty {
		return nil
	}
	return m.flushLocked()
}

func (m *Memory) flushTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.timer = nil
	if !m.dirty {
		return
	}
	if err := m.flushLocked(); err != nil {
		m.logger.Error("debounced session flush failed", "error", err)
	}
}

func (m *Memory) flushLocked() error {
	data, err := json.Marshal(m.snap)
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}
	if err := m.store.Save(data); err != nil {
		return fmt.Errorf("failed to persist session snapshot: %w", err)
	}
	m.dirty = false
	metrics.SnapshotFlushes.Inc()
	return nil
}

func (m *Memory) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// migrate upgrades older snapshot versions to the current schema. Today the
// only known version is "1"; it just normalizes absent collections.
func migrate(snap Snapshot) (Snapshot, error) {
	switch snap.Version {
	case CurrentVersion:
	case "":
		// Pre-versioned snapshots are treated as version 1.
		snap.Version = CurrentVersion
	default:
		return snap, fmt.Errorf("unknown snapshot version %q", snap.Version)
	}

	if snap.EnabledLayers == nil {
		snap.EnabledLayers = []EnabledLayer{}
	}
	if snap.ViewportByContext == nil {
		snap.ViewportByContext = map[string]Viewport{}
	}
	return snap, nil
}
