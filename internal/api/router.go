package api

import (
	"github.com/gin-gonic/gin"
	"github.com/nimbusops/nimbus/internal/api/handler"
	"github.com/nimbusops/nimbus/internal/api/middleware"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/modules"
	"github.com/nimbusops/nimbus/internal/repository"
	"github.com/nimbusops/nimbus/internal/service"
	"gorm.io/gorm"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	DB           *gorm.DB
	Orchestrator *service.Orchestrator
	Assessments  *repository.AssessmentRepository
	Customers    *repository.CustomerRepository
	Findings     *service.FindingsService
	Costs        *service.CostReportService
	Registry     *modules.Registry
	Log          *logger.Logger
	CORS         middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *RouterDeps, mode string) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(middleware.CORS(deps.CORS))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	assessmentHandler := handler.NewAssessmentHandler(deps.Orchestrator, deps.Assessments, deps.Registry)
	customerHandler := handler.NewCustomerHandler(deps.Customers)
	findingsHandler := handler.NewFindingsHandler(deps.Findings)
	costsHandler := handler.NewCostsHandler(deps.Costs)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Assessments
		v1.POST("/assessments", assessmentHandler.Start)
		v1.GET("/assessments/:id", assessmentHandler.GetStatus)
		v1.POST("/assessments/:id/restart", assessmentHandler.Restart)
		v1.POST("/assessments/:id/cancel", assessmentHandler.Cancel)

		// Module catalog
		v1.GET("/modules", assessmentHandler.ListModules)

		// Customers
		v1.POST("/customers", customerHandler.CreateCustomer)
		v1.GET("/customers", customerHandler.ListCustomers)
		v1.GET("/customers/:id", customerHandler.GetCustomer)
		v1.GET("/customers/:id/assessments", assessmentHandler.ListByCustomer)

		// Connections
		v1.POST("/customers/:id/connections", customerHandler.CreateConnection)
		v1.GET("/customers/:id/connections", customerHandler.ListConnections)
		v1.GET("/connections/:id/costs", costsHandler.Report)

		// Findings ledger
		v1.GET("/customers/:id/findings", findingsHandler.ListOpen)
		v1.GET("/customers/:id/findings/changes", findingsHandler.Changes)
	}

	return r
}
