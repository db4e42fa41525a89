package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type StatusResponse struct {
	Busy    bool   `json:"busy"`
	Model   string `json:"model"`
	Backend string `json:"backend"`
	Printer string `json:"printer"`
}

type StatusHandler struct {
	service PrintService
}

func NewStatusHandler(service PrintService) *StatusHandler {
	return &StatusHandler{service: service}
}

func (h *StatusHandler) Status(c *gin.Context) {
	printer := h.service.Printer()
	c.JSON(http.StatusOK, StatusResponse{
		Busy:    h.service.Busy(),
		Model:   printer.Model,
		Backend: printer.Backend,
		Printer: printer.Identifier,
	})
}

func (h *StatusHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
