package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimbusops/nimbus/internal/domain"
	"github.com/nimbusops/nimbus/internal/repository"
	"gorm.io/gorm"
)

// CustomerHandler handles customer and cloud connection endpoints.
type CustomerHandler struct {
	customers *repository.CustomerRepository
}

// NewCustomerHandler creates a new customer handler.
// Parameters:
//   - customers: customer repository.
// Returns:
//   - *CustomerHandler: initialized handler.
func NewCustomerHandler(customers *repository.CustomerRepository) *CustomerHandler {
	return &CustomerHandler{customers: customers}
}

// CreateCustomerRequest is the payload for POST /api/v1/customers.
type CreateCustomerRequest struct {
	Name                   string `json:"name" binding:"required"`
	Tier                   string `json:"tier"`
	AssessmentIntervalDays int    `json:"assessment_interval_days"`
}

// CreateCustomer handles POST /api/v1/customers.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	tier := domain.ServiceTier(req.Tier)
	if tier == "" {
		tier = domain.TierStandard
	}
	interval := req.AssessmentIntervalDays
	if interval < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "assessment_interval_days must not be negative",
		})
		return
	}

	customer := &domain.Customer{
		ID:                     uuid.New().String(),
		Name:                   req.Name,
		Tier:                   tier,
		AssessmentIntervalDays: interval,
	}
	if err := h.customers.CreateCustomer(c.Request.Context(), customer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create customer: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, customer)
}

// GetCustomer handles GET /api/v1/customers/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customer, err := h.customers.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get customer: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, customer)
}

// ListCustomers handles GET /api/v1/customers.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	customers, err := h.customers.ListCustomers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list customers: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"customers": customers,
		"total":     len(customers),
	})
}

// CreateConnectionRequest is the payload for POST /api/v1/customers/:id/connections.
type CreateConnectionRequest struct {
	Name            string `json:"name" binding:"required"`
	TenantID        string `json:"tenant_id" binding:"required"`
	SubscriptionID  string `json:"subscription_id" binding:"required"`
	ClientID        string `json:"client_id" binding:"required"`
	ClientSecretRef string `json:"client_secret_ref" binding:"required"`
}

// CreateConnection handles POST /api/v1/customers/:id/connections.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CustomerHandler) CreateConnection(c *gin.Context) {
	customerID := c.Param("id")
	if _, err := h.customers.GetCustomer(c.Request.Context(), customerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get customer: " + err.Error(),
		})
		return
	}

	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	conn := &domain.CloudConnection{
		ID:              uuid.New().String(),
		CustomerID:      customerID,
		Name:            req.Name,
		TenantID:        req.TenantID,
		SubscriptionID:  req.SubscriptionID,
		ClientID:        req.ClientID,
		ClientSecretRef: req.ClientSecretRef,
		IsEnabled:       true,
	}
	if err := h.customers.CreateConnection(c.Request.Context(), conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create connection: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, conn)
}

// ListConnections handles GET /api/v1/customers/:id/connections.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CustomerHandler) ListConnections(c *gin.Context) {
	conns, err := h.customers.ListConnections(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list connections: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"total":       len(conns),
	})
}
