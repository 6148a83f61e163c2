package main

import (
	"context"

	"provisioning-service/internal/handler"
	"provisioning-service/internal/mailer"
	"provisioning-service/internal/middleware"
	"provisioning-service/internal/provisioning"
	"provisioning-service/internal/schemadb"
	"provisioning-service/internal/soroban"
	"provisioning-service/internal/store"
	"provisioning-service/pkg/config"
	"provisioning-service/pkg/database"
	"provisioning-service/pkg/jwtutil"
	"provisioning-service/pkg/logger"
	"provisioning-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	logger.InitLogger(cfg)
	log := logger.GetLogger()
	log.Info("Starting provisioning service...", zap.String("environment", cfg.Server.Env))

	// Initialize database
	if err := database.InitDB(cfg); err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	log.Info("Database connection established")

	// Initialize JWT utility
	jwtutil.Initialize(&cfg.JWT)
	log.Info("JWT utility initialized")

	// Wire the provisioning pipeline
	db := database.GetDB()
	tenantStore := store.NewTenantStore(db)
	logStore := store.NewProvisioningLogStore(db)
	provisioner := schemadb.NewProvisioner(db, log)
	registrar := soroban.NewClient(cfg.Soroban.BaseURL, cfg.Soroban.Timeout)
	notifier := mailer.NewClient(cfg.Mail.BaseURL, cfg.Mail.Timeout, log)

	orch := provisioning.NewOrchestrator(tenantStore, logStore, provisioner, registrar,
		notifier, cfg.Mail.PortalBaseURL, cfg.Provision.StepTimeout, log)

	queue := provisioning.NewQueue(orch, cfg.Provision.QueueSize, log)
	queue.Start(context.Background(), cfg.Provision.Workers)
	defer queue.Stop()
	log.Info("Provisioning workers started", zap.Int("workers", cfg.Provision.Workers))

	handler.Init(queue, tenantStore, logStore)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover()) // Add recovery middleware
	e.Use(echomiddleware.CORS())    // Add CORS middleware
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// API routes - all require an operator token
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	// Tenant provisioning and administration
	tenants := api.Group("/tenants")
	tenants.POST("", handler.ProvisionTenant)
	tenants.GET("", handler.ListTenants)
	tenants.GET("/:id", handler.GetTenant)
	tenants.GET("/:id/status", handler.GetTenantStatus)
	tenants.DELETE("/:id", handler.ArchiveTenant)

	// Get server port from configuration
	port := cfg.Server.Port

	// Start server
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
