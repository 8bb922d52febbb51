// Command worker runs the assessment workers, watchdog, and scheduler
// without the HTTP surface. Deploy it separately when API and execution
// need independent scaling.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

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
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.New(&logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      "json",
		ServiceName: "nimbus-worker",
	})
	logger.SetDefaultLogger(appLog)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	assessmentRepo := repository.NewAssessmentRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	metricsClient := metricsapi.New(&metricsapi.Config{
		BaseURL:       cfg.Monitor.BaseURL,
		APIKey:        cfg.Monitor.APIKey,
		MaxConcurrent: cfg.Monitor.MaxConcurrent,
		QuotaBuffer:   cfg.Monitor.QuotaBuffer,
		MaxRetries:    cfg.Monitor.MaxRetries,
		Timeout:       cfg.Monitor.Timeout,
	}, appLog)

	registry := modules.NewRegistry()
	registry.Register(10, modules.NetworkModule{})
	registry.Register(20, modules.BackupModule{})
	registry.Register(30, modules.StorageModule{})
	registry.Register(40, modules.MonitorModule{})
	registry.Register(50, modules.CostModule{Days: 30})

	resolver := azure.NewCredentialResolver(azure.EnvSecretStore{})
	targets := service.NewAzureTargetBuilder(resolver, metricsClient)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator.StartWorkers(ctx, cfg.Assessment.JobWorkers, cfg.Assessment.QueuePollEvery)

	watchdog := service.NewWatchdog(assessmentRepo, orchestrator, queue, appLog, cfg.Watchdog.Interval, cfg.Watchdog.StaleThreshold)
	go watchdog.Start(ctx)

	if cfg.Scheduler.Enabled {
		scheduler := service.NewScheduler(customerRepo, orchestrator, cfg.Assessment.DefaultModules, cfg.Scheduler.Interval, appLog)
		go scheduler.Start(ctx)
	}

	appLog.Infof("Worker started with %d job workers", cfg.Assessment.JobWorkers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down worker...")
	cancel()
	appLog.Info("Worker exited")
}
