package handler

import (
	"io"
	"net/http"

	"github.com/atlasview/layerd/internal/infrastructure/http/v1/dto"
	"github.com/atlasview/layerd/internal/session"
	"github.com/gin-gonic/gin"
)

// ExportSession dumps the session snapshot. The output can be re-imported
// verbatim.
func (h *Handler) ExportSession(c *gin.Context) {
	data, err := h.orchestrator.ExportSnapshot()
	if err != nil {
		h.RespondWithInternalServerError(c)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// ImportSession replaces the session snapshot with an exported one.
func (h *Handler) ImportSession(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read request body",
		})
		return
	}

	if err := h.orchestrator.ImportSnapshot(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "session imported", nil)
}

// UpdateViewport records the viewport of a map context. Sub-threshold moves
// are accepted but not persisted.
func (h *Handler) UpdateViewport(c *gin.Context) {
	contextID := c.Param("context")

	var req dto.UpdateViewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request body should be a JSON object with centerLat, centerLng and zoom",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	h.orchestrator.UpdateViewport(contextID, session.Viewport{
		CenterLat: req.CenterLat,
		CenterLng: req.CenterLng,
		Zoom:      req.Zoom,
	})

	h.RespondWithJSON(c, http.StatusOK, "viewport updated", nil)
}

// ClearAll drops the layer cache and the persisted session.
func (h *Handler) ClearAll(c *gin.Context) {
	if err := h.orchestrator.ClearAll(); err != nil {
		h.RespondWithInternalServerError(c)
		return
	}

	h.RespondWithJSON(c, http.StatusOK, "cache and session cleared", nil)
}
