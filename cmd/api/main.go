package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusops/nimbus/internal/api"
	"github.com/nimbusops/nimbus/internal/api/middleware"
	"github.com/nimbusops/nimbus/internal/azure"
	"github.com/nimbusops/nimbus/internal/config"
	"github.com/nimbusops/nimbus/internal/logger"
	"github.com/nimbusops/nimbus/internal/metricsapi"
	"github.com/nimbusops/nimbus/internal/modules"
	"github.com/nimbusops/nimbus/internal/repository"
	"github.com/nimbusops/nimbus/internal/service"
	"github.com/nimbusops/nimbus/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.New(&logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "json",
		ServiceName: "nimbus-api",
	})
	logger.SetDefaultLogger(appLog)

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	assessmentRepo := repository.NewAssessmentRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	// Shared monitoring API client; one instance so quota state is global
	metricsClient := metricsapi.New(&metricsapi.Config{
		BaseURL:       cfg.Monitor.BaseURL,
		APIKey:        cfg.Monitor.APIKey,
		MaxConcurrent: cfg.Monitor.MaxConcurrent,
		QuotaBuffer:   cfg.Monitor.QuotaBuffer,
		MaxRetries:    cfg.Monitor.MaxRetries,
		Timeout:       cfg.Monitor.Timeout,
	}, appLog)

	// Module registry
	registry := modules.NewRegistry()
	registry.Register(10, modules.NetworkModule{})
	registry.Register(20, modules.BackupModule{})
	registry.Register(30, modules.StorageModule{})
	registry.Register(40, modules.MonitorModule{})
	registry.Register(50, modules.CostModule{Days: 30})

	// Azure credential resolution and target assembly
	resolver := azure.NewCredentialResolver(azure.EnvSecretStore{})
	targets := service.NewAzureTargetBuilder(resolver, metricsClient)

	// Optional artifact export to object storage
	var exporter *service.Exporter
	if cfg.Export.Enabled {
		store, err := storage.NewS3Storage(&storage.Config{
			Endpoint:  cfg.Export.Endpoint,
			AccessKey: cfg.Export.AccessKey,
			SecretKey: cfg.Export.SecretKey,
			UseSSL:    cfg.Export.UseSSL,
			Bucket:    cfg.Export.Bucket,
			Region:    cfg.Export.Region,
		})
		if err != nil {
			appLog.WithError(err).Fatal("Failed to initialize export storage")
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			appLog.WithError(err).Fatal("Failed to ensure export bucket")
		}
		exporter = service.NewExporter(store)
	}

	// Initialize services
	queue := service.NewJobQueue(cfg.Assessment.QueueBufferSize)
	reconciler := service.NewReconciler(ledgerRepo, appLog)
	executor := service.NewExecutor(registry, cfg.Assessment.ModuleTimeout)
	orchestrator := service.NewOrchestrator(
		assessmentRepo,
		customerRepo,
		reconciler,
		executor,
		targets,
		exporter,
		registry,
		queue,
		appLog,
		&service.OrchestratorConfig{
			ModuleWorkers:  cfg.Assessment.ModuleWorkers,
			StaleThreshold: cfg.Watchdog.StaleThreshold,
		},
	)
	findingsService := service.NewFindingsService(ledgerRepo, assessmentRepo)
	costService := service.NewCostReportService(customerRepo, resolver)

	// Background workers, watchdog, and scheduler share one lifecycle context
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	orchestrator.StartWorkers(bgCtx, cfg.Assessment.JobWorkers, cfg.Assessment.QueuePollEvery)

	watchdog := service.NewWatchdog(assessmentRepo, orchestrator, queue, appLog, cfg.Watchdog.Interval, cfg.Watchdog.StaleThreshold)
	go watchdog.Start(bgCtx)

	if cfg.Scheduler.Enabled {
		scheduler := service.NewScheduler(customerRepo, orchestrator, cfg.Assessment.DefaultModules, cfg.Scheduler.Interval, appLog)
		go scheduler.Start(bgCtx)
	}

	// Setup router
	router := api.SetupRouter(&api.RouterDeps{
		DB:           db,
		Orchestrator: orchestrator,
		Assessments:  assessmentRepo,
		Customers:    customerRepo,
		Findings:     findingsService,
		Costs:        costService,
		Registry:     registry,
		Log:          appLog,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	}, cfg.Server.Mode)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.Infof("Starting API server on port %d (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server...")
	bgCancel()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
