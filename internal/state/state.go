package state

import (
	"time"

	"github.com/atlasview/layerd/internal/layer"
)

// Status is the lifecycle state of a layer's data.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusLoading  Status = "loading"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusFallback Status = "fallback"
)

// LayerState is the single source of truth for a layer's data status.
// Exactly one exists per layer; only the orchestrator mutates it.
type LayerState struct {
	LayerID     string           `json:"layerId"`
	Status      Status           `json:"status"`
	DataSource  layer.SourceKind `json:"dataSource"`
	LastError   string           `json:"lastError,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

// Event is emitted to subscribers on every transition.
type Event struct {
	LayerID    string           `json:"layerId"`
	Previous   Status           `json:"previousStatus"`
	New        Status           `json:"newStatus"`
	DataSource layer.SourceKind `json:"dataSource"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
