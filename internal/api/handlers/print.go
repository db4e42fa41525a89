package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/label-api/internal/core"
	"github.com/orrn/label-api/internal/logger"
)

// PrintService is the part of core.Service the HTTP layer depends on.
type PrintService interface {
	Submit(ctx context.Context, req core.PrintRequest) core.PrintResult
	Invalid(err error) core.PrintResult
	Busy() bool
	Printer() core.PrinterSettings
}

type PrintHandler struct {
	service PrintService
}

func NewPrintHandler(service PrintService) *PrintHandler {
	return &PrintHandler{service: service}
}

// Print handles POST /api/print. Every outcome, including a busy printer, is
// reported in the body with HTTP 200.
func (h *PrintHandler) Print(c *gin.Context) {
	log := logger.FromContext(c)

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, core.PrintResult{
				Success: false,
				Error:   "Request body exceeds maximum allowed size",
			})
			return
		}
		log.Debug("Rejected print request body", zap.Error(err))
		c.JSON(http.StatusOK, h.service.Invalid(fmt.Errorf("invalid JSON body: %w", err)))
		return
	}

	req, err := core.ParsePrintRequest(body)
	if err != nil {
		c.JSON(http.StatusOK, h.service.Invalid(err))
		return
	}

	res := h.service.Submit(c.Request.Context(), req)
	if res.JobID != "" {
		log.Debug("Print request handled", zap.String("job_id", res.JobID), zap.Bool("success", res.Success))
	}
	c.JSON(http.StatusOK, res)
}
