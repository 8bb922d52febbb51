package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nimbusops/nimbus/internal/service"
	"gorm.io/gorm"
)

// CostsHandler exposes cost reports for cloud connections.
type CostsHandler struct {
	costs *service.CostReportService
}

// NewCostsHandler creates a new costs handler.
// Parameters:
//   - costs: cost report service.
// Returns:
//   - *CostsHandler: initialized handler.
func NewCostsHandler(costs *service.CostReportService) *CostsHandler {
	return &CostsHandler{costs: costs}
}

// Report handles GET /api/v1/connections/:id/costs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CostsHandler) Report(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Query parameter 'days' must be between 1 and 365",
			})
			return
		}
		days = parsed
	}

	report, err := h.costs.Report(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Connection not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build cost report: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
