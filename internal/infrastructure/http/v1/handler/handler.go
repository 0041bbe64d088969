package handler

import (
	"net/http"

	"github.com/atlasview/layerd/internal/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	internalServerErrorText = "the server encountered an error and could not process your request"
)

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Handler struct {
	validate     *validator.Validate
	orchestrator *orchestrator.Orchestrator
}

func NewHandler(v *validator.Validate, o *orchestrator.Orchestrator) *Handler {
	return &Handler{
		validate:     v,
		orchestrator: o,
	}
}

func (h *Handler) RespondWithInternalServerError(c *gin.Context) {
	h.RespondWithJSON(c, http.StatusInternalServerError, internalServerErrorText, nil)
}

func (h *Handler) RespondWithJSON(c *gin.Context, code int, message string, data any) {
	success := code < 400

	r := response{
		Success: success,
		Message: message,
		Data:    data,
	}

	c.JSON(code, r)
}
