package dto

import (
	"github.com/atlasview/layerd/internal/state"
)

type FetchLayerRequest struct {
	Params map[string]any `json:"params"`
}

type LayerSelectionDTO struct {
	LayerID string         `json:"layerId" validate:"required"`
	Params  map[string]any `json:"params"`
	Opacity float64        `json:"opacity" validate:"gte=0,lte=1"`
}

type SyncLayersRequest struct {
	Layers []LayerSelectionDTO `json:"layers" validate:"dive"`
}

type UpdateViewportRequest struct {
	CenterLat float64 `json:"centerLat" validate:"gte=-90,lte=90"`
	CenterLng float64 `json:"centerLng" validate:"gte=-180,lte=180"`
	Zoom      float64 `json:"zoom" validate:"gte=0"`
}

type LayerStateResponse struct {
	State state.LayerState `json:"state"`
}

type CircuitStateResponse struct {
	Endpoint            string `json:"endpoint"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	NextRetryAt         string `json:"nextRetryAt,omitempty"`
}
