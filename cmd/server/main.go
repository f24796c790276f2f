package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rutaviva/booking-backend/internal/config"
	"github.com/rutaviva/booking-backend/internal/handlers"
	"github.com/rutaviva/booking-backend/internal/ledger"
	"github.com/rutaviva/booking-backend/internal/middleware"
	"github.com/rutaviva/booking-backend/internal/payment"
	"github.com/rutaviva/booking-backend/internal/repository"
	"github.com/rutaviva/booking-backend/internal/services"
	"github.com/rutaviva/booking-backend/internal/store"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Infof("Starting RutaViva booking backend, version %s (built %s)", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Storage: Postgres when a DATABASE_URL is configured, in-memory
	// otherwise.
	var st store.Store
	if cfg.Database.URL != "" {
		logger.Info("Connecting to database...")
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			URL:                cfg.Database.URL,
			MaxConnections:     cfg.Database.MaxConnections,
			MaxIdleConnections: cfg.Database.MaxIdleConnections,
			ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		st = pg
		logger.Info("Database connection established")
	} else {
		logger.Warn("No DATABASE_URL configured, using in-memory store")
		st = store.NewMemoryStore()
	}
	defer st.Close()

	// Repositories and core services.
	intentRepo := repository.NewIntentRepository(st)
	ticketRepo := repository.NewTicketRepository(st)
	routeRepo := repository.NewRouteRepository(st)

	seatLedger := ledger.NewSeatLedger(st, logger)
	fareService := services.NewFareService(routeRepo, cfg.Booking.Currency)
	gateway := payment.NewCheckoutClient(payment.Config{
		Environment:   cfg.Payment.Environment,
		MerchantKey:   cfg.Payment.MerchantKey,
		MerchantToken: cfg.Payment.MerchantToken,
		WebhookSecret: cfg.Payment.WebhookSecret,
		SuccessURL:    cfg.Payment.SuccessURL,
		CancelURL:     cfg.Payment.CancelURL,
	}, logger)

	orchestratorCfg := services.DefaultOrchestratorConfig()
	orchestratorCfg.IntentTTL = cfg.Booking.IntentTTL
	orchestratorCfg.DefaultCurrency = cfg.Booking.Currency
	orchestrator := services.NewBookingOrchestratorService(
		intentRepo, ticketRepo, seatLedger, fareService, gateway, orchestratorCfg, logger,
	)

	sweeper := services.NewIntentExpirationService(intentRepo, cfg.Booking.SweepInterval, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// HTTP wiring.
	bookingHandler := handlers.NewBookingHandler(orchestrator, gateway, logger)
	routeHandler := handlers.NewRouteHandler(routeRepo, logger)
	limiter := middleware.NewRateLimiter(
		cfg.RateLimit.Requests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	v1 := router.Group("/api/v1", limiter.Middleware())
	{
		v1.GET("/availability", bookingHandler.CheckAvailability)
		v1.POST("/checkout", bookingHandler.StartCheckout)
		v1.POST("/bookings/confirm", bookingHandler.Confirm)
		v1.POST("/bookings/cancel", bookingHandler.Cancel)
		v1.GET("/tickets/:session_id", bookingHandler.GetTicket)
		v1.POST("/payments/webhook", bookingHandler.PaymentWebhook)

		admin := v1.Group("/admin")
		{
			admin.GET("/routes", routeHandler.List)
			admin.POST("/routes", routeHandler.Create)
			admin.GET("/routes/:key", routeHandler.Get)
			admin.PUT("/routes/:key", routeHandler.Update)
			admin.DELETE("/routes/:key", routeHandler.Delete)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Forced shutdown: %v", err)
	}
	logger.Info("Server stopped")
}
