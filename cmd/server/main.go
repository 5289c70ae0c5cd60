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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/leadpilot/adops-go/internal/api"
	"github.com/leadpilot/adops-go/internal/api/handlers"
	"github.com/leadpilot/adops-go/internal/config"
	"github.com/leadpilot/adops-go/internal/database"
	"github.com/leadpilot/adops-go/internal/logging"
	"github.com/leadpilot/adops-go/internal/services"
	"github.com/leadpilot/adops-go/internal/telemetry"
	"github.com/leadpilot/adops-go/pkg/adplatform"
)

func main() {
	// Load .env if present; real deployments use environment variables
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.Environment)

	// Telemetry
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.Init(context.Background(), cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			logger.WithError(err).Warn("Telemetry init failed, continuing without traces")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Warn("Telemetry shutdown failed")
				}
			}()
		}
	}

	// Initialize database
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize Redis
	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Repositories
	campaignRepo := database.NewCampaignRepository(db.Pool)
	metricsRepo := database.NewMetricsRepository(db.Pool)
	personaRepo := database.NewPersonaRepository(db.Pool)
	experimentRepo := database.NewExperimentRepository(db.Pool)
	creativeRepo := database.NewCreativeRepository(db.Pool)

	// External sync sidecar
	syncClient := adplatform.NewClient(&cfg.AdPlatform)

	// Services
	notifier := services.NewNotificationService(cfg.Telegram, logger)
	budgetOptimizer := services.NewBudgetOptimizer(cfg.Optimizer, campaignRepo, metricsRepo, logger)
	crossPlatform := services.NewCrossPlatformOptimizer(cfg.CrossPlatform, cfg.Optimizer, personaRepo, campaignRepo, metricsRepo, redis, syncClient, logger)
	experiments := services.NewExperimentService(cfg.Experiments, experimentRepo, creativeRepo, metricsRepo, logger)
	experiments.SetNotifier(notifier)
	monitor := services.NewResourceMonitor(logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(telemetry.ServiceName))

	api.SetupRoutes(router, db, redis, api.Handlers{
		Optimizer:     handlers.NewOptimizerHandler(budgetOptimizer, notifier, logger),
		CrossPlatform: handlers.NewCrossPlatformHandler(crossPlatform, notifier, logger),
		Experiments:   handlers.NewExperimentHandler(experiments, monitor, logger),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
