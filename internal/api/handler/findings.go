package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nimbusops/nimbus/internal/service"
	"gorm.io/gorm"
)

// FindingsHandler exposes the customer findings ledger.
type FindingsHandler struct {
	findings *service.FindingsService
}

// NewFindingsHandler creates a new findings handler.
// Parameters:
//   - findings: findings read service.
// Returns:
//   - *FindingsHandler: initialized handler.
func NewFindingsHandler(findings *service.FindingsService) *FindingsHandler {
	return &FindingsHandler{findings: findings}
}

// ListOpen handles GET /api/v1/customers/:id/findings.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FindingsHandler) ListOpen(c *gin.Context) {
	entries, err := h.findings.OpenFindings(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list findings: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"findings": entries,
		"total":    len(entries),
	})
}

// Changes handles GET /api/v1/customers/:id/findings/changes.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FindingsHandler) Changes(c *gin.Context) {
	changes, err := h.findings.Changes(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No completed assessment for customer"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get finding changes: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, changes)
}
