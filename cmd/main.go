package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"medfinder/docs/swagger"
	"medfinder/internal/ai"
	"medfinder/internal/api"
	"medfinder/internal/api/middleware"
	"medfinder/internal/authz"
	"medfinder/internal/billing"
	"medfinder/internal/config"
	"medfinder/internal/db"
	"medfinder/internal/events"
	"medfinder/internal/models"
	"medfinder/internal/services"
	"medfinder/internal/store"
	"medfinder/internal/tasks"
	"medfinder/internal/usage"
	"medfinder/internal/utils"
	"medfinder/internal/utils/logger"
)

func main() {

	logger := logger.New("medfinder")

	// check if .env file exists
	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		logger.Info("No .env file found, skipping environment variable loading")
	} else {
		logger.Info("Loading environment variables from .env file")
		if err := godotenv.Load(); err != nil {
			log.Fatalf("Failed to load environment variables: %v", err)
		}
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	if err := db.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	dbInstance := db.GetDB()
	bus := events.Default()

	// Audit trail for domain events
	bus.On("*", func(e events.Event) {
		logger.Debug("event %s at %s", e.Name, e.At.Format(time.RFC3339))
	})

	// Object storage is optional; uploads answer 503 without it
	var storage services.ObjectStorage
	if cfg.Storage.S3.Enabled() {
		s3Service, err := services.NewS3Service(context.Background(), cfg.Storage.S3, cfg.Storage.Provider)
		if err != nil {
			log.Fatalf("Failed to initialize S3 service: %v", err)
		}
		models.RegisterFileURLGenerator(s3Service)
		storage = s3Service
	} else {
		logger.Warn("S3 is not configured, medicine image uploads are disabled")
	}

	taskClient := tasks.NewTaskClient(cfg.Redis)
	defer taskClient.Close()

	// Billing
	autumn := billing.NewClient(cfg.Billing, &http.Client{Timeout: 15 * time.Second})
	var tracker billing.Tracker = billing.NopTracker{}
	if autumn.Configured() {
		inline := billing.NewSyncTracker(autumn, bus)
		tracker = inline
		if cfg.Billing.TrackAsync {
			tracker = billing.NewQueueTracker(taskClient, inline)
		}
	} else {
		logger.Warn("Billing is not configured, the free message quota is a hard cap")
	}

	// Assistant
	usageStore := store.NewUsage(dbInstance)
	meter := usage.NewMeter(usageStore, time.Now)
	responses := store.NewResponses(dbInstance)
	generator := ai.NewGenerator(ai.GeneratorDeps{
		Provider:     ai.NewCloudflare(cfg.AI),
		Responses:    responses,
		Meter:        meter,
		Entitlements: autumn,
		Tracker:      tracker,
		Bus:          bus,
	}, ai.GeneratorConfig{
		FreeLimit:     cfg.Usage.FreeMessageLimit,
		FlushBytes:    cfg.AI.FlushBytes,
		FlushInterval: cfg.AI.FlushInterval,
	})

	tokens, err := utils.NewTokenIssuer(cfg.JWT)
	if err != nil {
		log.Fatalf("Failed to initialize token issuer: %v", err)
	}

	users := store.NewUsers(dbInstance)
	roles := store.NewRoles(dbInstance)

	// Initialize task server
	taskHandler := tasks.NewTaskHandler(autumn, meter, cfg.Usage.StaleReservationTTL, bus)
	taskServer := tasks.NewServer(cfg.Redis, cfg.Worker, taskHandler, logger)
	go func() {
		if err := taskServer.Start(); err != nil {
			logger.Error("Task server error", err)
		}
	}()

	// Initialize task scheduler
	taskScheduler := tasks.NewScheduler(cfg.Redis, cfg.Usage, logger)
	go func() {
		if err := taskScheduler.Start(); err != nil {
			logger.Error("Task scheduler error", err)
		}
	}()

	// Initialize API server
	apiServer, err := api.NewServer(cfg, api.Deps{
		DB:        dbInstance,
		Resolver:  authz.NewResolver(roles, nil),
		Tokens:    tokens,
		Sessions:  store.NewSessions(dbInstance),
		Users:     services.NewUserService(users, bus),
		Catalog:   services.NewCatalogService(dbInstance, bus),
		Dashboard: services.NewDashboardService(users, usageStore, responses),
		Generator: generator,
		Responses: responses,
		Billing:   autumn,
		Storage:   storage,
		Limiter:   middleware.NewSlidingWindow(taskClient.Redis(), "ai_generate", cfg.RateLimit.GenerateWindow, cfg.RateLimit.GenerateMax),
	})
	if err != nil {
		log.Fatalf("Failed to initialize API server: %v", err)
	}

	// Swagger documentation
	swagger.SwaggerInfo.Title = "MedFinder API Documentation"
	swagger.SwaggerInfo.Description = "API documentation for the MedFinder service"
	swagger.SwaggerInfo.Version = "1.0"

	go func() {
		logger.Success("API server started")
		if err := apiServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the servers
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Create a deadline for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	taskScheduler.Stop()
	taskServer.Shutdown()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown API server", err)
	}

	// Let in-flight event handlers finish
	bus.Wait()

	logger.Info("Servers shutdown gracefully")
}
