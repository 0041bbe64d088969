package handler

import (
	"net/http"
	"time"

	"github.com/atlasview/layerd/internal/infrastructure/http/v1/dto"
	"github.com/atlasview/layerd/internal/orchestrator"
	"github.com/gin-gonic/gin"
)

// Fetch resolves a layer's data for the given parameters. The orchestrator
// never fails across this boundary; failures arrive as an error-status state.
func (h *Handler) Fetch(c *gin.Context) {
	layerID := c.Param("id")

	var req dto.FetchLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request body should be a JSON object with a params field",
		})
		return
	}

	st := h.orchestrator.FetchLayer(c.Request.Context(), layerID, req.Params)

	h.RespondWithJSON(c, http.StatusOK, "layer resolved", dto.LayerStateResponse{State: st})
}

// State returns the latest known state of a layer without fetching.
func (h *Handler) State(c *gin.Context) {
	layerID := c.Param("id")

	st := h.orchestrator.GetLatestState(layerID)

	h.RespondWithJSON(c, http.StatusOK, "got layer state", dto.LayerStateResponse{State: st})
}

// Sync replaces the enabled-layer set with the desired one.
func (h *Handler) Sync(c *gin.Context) {
	var req dto.SyncLayersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request body should be a JSON object with a layers array",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	desired := make([]orchestrator.LayerSelection, 0, len(req.Layers))
	for _, l := range req.Layers {
		desired = append(desired, orchestrator.LayerSelection{
			LayerID: l.LayerID,
			Params:  l.Params,
			Opacity: l.Opacity,
		})
	}

	h.orchestrator.SyncEnabledLayers(c.Request.Context(), desired)

	h.RespondWithJSON(c, http.StatusOK, "layers synced", nil)
}

// Invalidate drops the cached entry for one layer+parameter combination.
func (h *Handler) Invalidate(c *gin.Context) {
	layerID := c.Param("id")

	var req dto.FetchLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request body should be a JSON object with a params field",
		})
		return
	}

	h.orchestrator.InvalidateLayer(layerID, req.Params)

	h.RespondWithJSON(c, http.StatusOK, "layer cache invalidated", nil)
}

// Circuit reports the breaker state for an upstream endpoint.
func (h *Handler) Circuit(c *gin.Context) {
	endpoint := c.Param("endpoint")

	snap := h.orchestrator.CircuitState(endpoint)

	resp := dto.CircuitStateResponse{
		Endpoint:            endpoint,
		State:               string(snap.State),
		ConsecutiveFailures: snap.ConsecutiveFailures,
	}
	if !snap.NextRetryAt.IsZero() {
		resp.NextRetryAt = snap.NextRetryAt.UTC().Format(time.RFC3339)
	}

	h.RespondWithJSON(c, http.StatusOK, "got circuit state", resp)
}
