package session

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/atlasview/layerd/pkg/logger"
)

type fakeBlobStore struct {
	mu    sync.Mutex
	data  []byte
	found bool
	saves int
}

func (s *fakeBlobStore) Load() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data, s.found, nil
}

func (s *fakeBlobStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	s.found = true
	s.saves++
	return nil
}

func (s *fakeBlobStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.found = false
	return nil
}

func (s *fakeBlobStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestExportClearImportRoundTrip(t *testing.T) {
	m := NewMemory(&fakeBlobStore{}, time.Millisecond, logger.NewNoOp())

	m.Save(func(snap *Snapshot) {
		snap.EnabledLayers = []EnabledLayer{{
			LayerID:   "temperature",
			Params:    map[string]any{"year": float64(2050), "scenario": "ssp245"},
			Opacity:   0.8,
			EnabledAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}}
		snap.ViewportByContext["main"] = Viewport{CenterLat: 59.9, CenterLng: 10.7, Zoom: 8}
	})

	exported, err := m.Export()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if got := m.Current(); len(got.EnabledLayers) != 0 {
		t.Fatalf("clear left %d enabled layers", len(got.EnabledLayers))
	}

	if err := m.Import(exported); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	reexported, err := m.Export()
	if err != nil {
		t.Fatalf("re-export failed: %v", err)
	}
	if !bytes.Equal(exported, reexported) {
		t.Fatalf("round trip mismatch:\n%s\nvs\n%s", exported, reexported)
	}
}

func TestSaveDebounceCoalesces(t *testing.T) {
	store := &fakeBlobStore{}
	m := NewMemory(store, 20*time.Millisecond, logger.NewNoOp())

	for i := 0; i < 10; i++ {
		m.Save(func(snap *Snapshot) {
			snap.ViewportByContext["main"] = Viewport{Zoom: float64(i)}
		})
	}

	if store.saveCount() != 0 {
		t.Fatalf("flush happened inside the debounce window: %d saves", store.saveCount())
	}

	waitFor(t, func() bool { return store.saveCount() == 1 })

	// No further writes once settled.
	time.Sleep(50 * time.Millisecond)
	if store.saveCount() != 1 {
		t.Fatalf("expected a single coalesced write, got %d", store.saveCount())
	}
}

func TestLoadCorruptSnapshotFallsBackToDefaults(t *testing.T) {
	store := &fakeBlobStore{data: []byte("{not json"), found: true}
	m := NewMemory(store, time.Millisecond, logger.NewNoOp())

	snap := m.Load()
	if len(snap.EnabledLayers) != 0 || snap.Version != CurrentVersion {
		t.Fatalf("corrupt snapshot should load as defaults, got %+v", snap)
	}
}

func TestLoadUnknownVersionFallsBackToDefaults(t *testing.T) {
	future := Snapshot{Version: "99", EnabledLayers: []EnabledLayer{{LayerID: "temperature"}}}
	data, _ := json.Marshal(future)
	store := &fakeBlobStore{data: data, found: true}
	m := NewMemory(store, time.Millisecond, logger.NewNoOp())

	snap := m.Load()
	if len(snap.EnabledLayers) != 0 {
		t.Fatal("unknown version must not restore layers")
	}
}

func TestLoadRespectsAutoRestore(t *testing.T) {
	prior := DefaultSnapshot()
	prior.EnabledLayers = []EnabledLayer{{LayerID: "temperature"}}
	prior.Preferences.AutoRestore = false
	data, _ := json.Marshal(prior)
	store := &fakeBlobStore{data: data, found: true}
	m := NewMemory(store, time.Millisecond, logger.NewNoOp())

	snap := m.Load()
	if len(snap.EnabledLayers) != 0 {
		t.Fatal("auto-restore disabled but layers were restored")
	}
	if snap.Preferences.AutoRestore {
		t.Fatal("stored preferences were not kept")
	}
}

func TestLoadRespectsRememberFlags(t *testing.T) {
	prior := DefaultSnapshot()
	prior.EnabledLayers = []EnabledLayer{{LayerID: "temperature"}}
	prior.ViewportByContext["main"] = Viewport{Zoom: 8}
	prior.Preferences.RememberLayers = false
	data, _ := json.Marshal(prior)
	store := &fakeBlobStore{data: data, found: true}
	m := NewMemory(store, time.Millisecond, logger.NewNoOp())

	snap := m.Load()
	if len(snap.EnabledLayers) != 0 {
		t.Fatal("rememberLayers disabled but layers were restored")
	}
	if len(snap.ViewportByContext) != 1 {
		t.Fatal("viewport should still be restored")
	}
}

func TestCloseFlushesPendingSave(t *testing.T) {
	store := &fakeBlobStore{}
	m := NewMemory(store, time.Hour, logger.NewNoOp())

	m.Save(func(snap *Snapshot) {
		snap.ViewportByContext["main"] = Viewport{Zoom: 5}
	})

	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if store.saveCount() != 1 {
		t.Fatalf("pending mutation was not flushed on close, %d saves", store.saveCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
