package session

import "time"

// CurrentVersion is the snapshot schema version written by this build.
const CurrentVersion = "1"

type EnabledLayer struct {
	LayerID   string         `json:"layerId"`
	Params    map[string]any `json:"params"`
	Opacity   float64        `json:"opacity"`
	EnabledAt time.Time      `json:"enabledAt"`
}

type Viewport struct {
	CenterLat float64 `json:"centerLat"`
	CenterLng float64 `json:"centerLng"`
	Zoom      float64 `json:"zoom"`
}

type Preferences struct {
	AutoRestore      bool `json:"autoRestore"`
	RememberLayers   bool `json:"rememberLayers"`
	RememberViewport bool `json:"rememberViewport"`
}

// Snapshot is the whole persisted session. It is always written as one blob,
// replacing the prior value, never partially.
type Snapshot struct {
	Version           string              `json:"version"`
	EnabledLayers     []EnabledLayer      `json:"enabledLayers"`
	ViewportByContext map[string]Viewport `json:"viewportByContext"`
	Preferences       Preferences         `json:"preferences"`
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		Version:           CurrentVersion,
		EnabledLayers:     []EnabledLayer{},
		ViewportByContext: map[string]Viewport{},
		Preferences: Preferences{
			AutoRestore:      true,
			RememberLayers:   true,
			RememberViewport: true,
		},
	}
}

// clone deep-copies the snapshot so callers never share internal state.
func (s Snapshot) clone() Snapshot {
	out := s
	out.EnabledLayers = make([]EnabledLayer, len(s.EnabledLayers))
	copy(out.EnabledLayers, s.EnabledLayers)
	for i, el := range out.EnabledLayers {
		if el.Params != nil {
			params := make(map[string]any, len(el.Params))
			for k, v := range el.Params {
				params[k] = v
			}
			out.EnabledLayers[i].Params = params
		}
	}
	out.ViewportByContext = make(map[string]Viewport, len(s.ViewportByContext))
	for k, v := range s.ViewportByContext {
		out.ViewportByContext[k] = v
	}
	return out
}
