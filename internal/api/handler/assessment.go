package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/modules"
	"github.com/nimbusops/nimbus/internal/repository"
	"github.com/nimbusops/nimbus/internal/service"
	"gorm.io/gorm"
)

// AssessmentHandler handles assessment job endpoints.
type AssessmentHandler struct {
	orchestrator *service.Orchestrator
	assessments  *repository.AssessmentRepository
	registry     *modules.Registry
}

// NewAssessmentHandler creates a new assessment handler.
// Parameters:
//   - orchestrator: assessment orchestrator.
//   - assessments: assessment repository for job listings.
//   - registry: module registry for the module catalog endpoint.
// Returns:
//   - *AssessmentHandler: initialized handler.
func NewAssessmentHandler(orchestrator *service.Orchestrator, assessments *repository.AssessmentRepository, registry *modules.Registry) *AssessmentHandler {
	return &AssessmentHandler{
		orchestrator: orchestrator,
		assessments:  assessments,
		registry:     registry,
	}
}

// StartRequest is the payload for POST /api/v1/assessments.
type StartRequest struct {
	CustomerID   string   `json:"customer_id" binding:"required"`
	ConnectionID string   `json:"connection_id" binding:"required"`
	Modules      []string `json:"modules" binding:"required"`
}

// Start handles POST /api/v1/assessments.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	jobID, err := h.orchestrator.Start(c.Request.Context(), req.CustomerID, req.ConnectionID, req.Modules, domain.TriggerManual)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start assessment: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusQueued,
	})
}

// GetStatus handles GET /api/v1/assessments/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) GetStatus(c *gin.Context) {
	view, err := h.orchestrator.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assessment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get assessment: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, view)
}

// ListByCustomer handles GET /api/v1/customers/:id/assessments.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) ListByCustomer(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	jobs, err := h.assessments.ListRecentJobs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list assessments: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"assessments": jobs,
		"total":       len(jobs),
	})
}

// Restart handles POST /api/v1/assessments/:id/restart?force=true. Only jobs
// the watchdog flagged as stuck can be restarted, and the caller must pass
// force=true to confirm.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) Restart(c *gin.Context) {
	if c.Query("force") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Restart requires force=true",
		})
		return
	}

	err := h.orchestrator.ForceRestart(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Assessment not found"})
			return
		}
		if errors.Is(err, service.ErrNotStuck) {
			c.JSON(http.StatusConflict, gin.H{"error": "Assessment is not flagged as stuck"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to restart assessment: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "requeued"})
}

// Cancel handles POST /api/v1/assessments/:id/cancel. Cancellation takes
// effect at the next module boundary.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) Cancel(c *gin.Context) {
	if err := h.orchestrator.RequestCancel(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to request cancellation: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancel_requested"})
}

// ListModules handles GET /api/v1/modules.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AssessmentHandler) ListModules(c *gin.Context) {
	codes := h.registry.Codes()
	c.JSON(http.StatusOK, gin.H{
		"modules": codes,
		"total":   len(codes),
	})
}
