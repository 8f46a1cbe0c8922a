package main

import (
	"context"

	"contentflow/internal/events"
	"contentflow/internal/handlers"
	"contentflow/internal/metrics"
	"contentflow/internal/notifications"
	"contentflow/internal/pipeline"
	"contentflow/internal/publisher"
	"contentflow/internal/scheduler"
	"contentflow/internal/tokens"
	"contentflow/internal/websocket"
	"contentflow/pkg/config"
	"contentflow/pkg/database"
	"contentflow/pkg/logging"
	"contentflow/pkg/middleware"
	"contentflow/pkg/monitoring"
	"contentflow/pkg/server"
	"contentflow/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("conductor")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Conductor (Content Pipeline API)")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.GetEnv("DATABASE_URL", "")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("conductor", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("conductor", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":  config.GetEnv("DATABASE_URL", ""),
		"SERVICE_TOKEN": config.GetEnv("SERVICE_TOKEN", ""),
	}))

	domainMetrics := metrics.New(metricsCollector)

	// Event fan-out: bus, websocket hub and notification bridge
	bus := events.NewBus(logger)
	hub := websocket.NewHub(logger)
	go hub.Run()

	notificationService := notifications.NewService(db, logger)
	fanout := notifications.NewFanout(notificationService, hub, logger)
	fanout.Register(bus)

	// Pipeline core
	repo := pipeline.NewRepository(db)
	orchestrator := pipeline.NewOrchestrator(repo, bus, logger)

	// OAuth token lifecycle and platform publishers
	tokenService := tokens.NewService(db, tokens.NewHTTPRefresher(logger), logger).WithMetrics(domainMetrics)
	publisherFactory := publisher.NewFactory(logger)

	// Background publish runner
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := scheduler.NewRunner(repo, tokenService, publisherFactory, bus, logger).
		WithMetrics(domainMetrics)
	runner.Start(ctx)
	defer runner.Stop()

	// Initialize handlers
	handlers.Init(orchestrator, repo, tokenService, notificationService, hub, domainMetrics, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "conductor", healthChecker, metricsCollector)

	// Real-time notification subscriptions
	router.GET("/ws/notifications", handlers.NotificationsWebSocket)

	// Protected routes (require service token authentication)
	protected := router.Group("/api")
	protected.Use(middleware.ServiceAuthMiddleware(config.GetEnv("SERVICE_TOKEN", "default-service-token")))
	{
		// Pipeline commands
		protected.POST("/content/:id/status", handlers.UpdateContentStatus)
		protected.POST("/content/:id/approve", handlers.ApproveContent)
		protected.POST("/content/:id/reject", handlers.RejectContent)
		protected.POST("/content/:id/schedule", handlers.ScheduleContent)
		protected.GET("/content/:id", handlers.GetContent)

		// OAuth credential management
		protected.POST("/accounts/tokens", handlers.StoreAccountTokens)
		protected.DELETE("/accounts/:platform", handlers.RevokeAccountTokens)
		protected.GET("/accounts/:platform/valid", handlers.CheckTokenValidity)

		// Notifications
		protected.GET("/notifications", handlers.ListNotifications)
		protected.POST("/notifications/:id/read", handlers.MarkNotificationRead)
		protected.GET("/notifications/stream/stats", handlers.NotificationStreamStats)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("conductor", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
