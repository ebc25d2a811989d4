package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	config "github.com/avatarctic/admission-gate/configs"
	"github.com/avatarctic/admission-gate/internal/application/services"
	"github.com/avatarctic/admission-gate/internal/core/ports"
	"github.com/avatarctic/admission-gate/internal/infrastructure/clock"
	"github.com/avatarctic/admission-gate/internal/infrastructure/db"
	"github.com/avatarctic/admission-gate/internal/infrastructure/health"
	"github.com/avatarctic/admission-gate/internal/infrastructure/httpserver"
	"github.com/avatarctic/admission-gate/internal/infrastructure/redis"
	"github.com/avatarctic/admission-gate/internal/infrastructure/repositories"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Setup logger
	logger := logrus.New()
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(level)
	}

	logger.Info("Starting admission gate service...")

	// Deployment timezone drives all day and window boundaries
	clk, err := clock.New(cfg.Quota.Timezone)
	if err != nil {
		logger.Fatal("Failed to initialize clock:", err)
	}

	// Initialize database (apply pool settings from config)
	database, err := db.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}
	defer database.Close()

	logger.Info("Connected to database successfully")

	// Run migrations
	if err := database.Migrate("./migrations"); err != nil {
		logger.Warn("Failed to run migrations:", err)
	}

	healthCheckers := []ports.HealthChecker{health.NewDBHealthChecker(database)}

	// Redis backs the premium-flag cache and, when selected, the window store
	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis:", err)
	}
	defer redisClient.Close()

	logger.Info("Connected to Redis successfully")
	healthCheckers = append(healthCheckers, health.NewRedisHealthChecker(redisClient))

	// Select the window store backend
	var windowRepo ports.WindowRepository
	switch cfg.Window.Store {
	case "redis":
		windowRepo = repositories.NewWindowRedisRepository(redisClient, "admission", logger)
	case "memory":
		logger.Warn("Using in-memory window store; counts are per-process and reset on restart")
		windowRepo = repositories.NewMemoryWindowRepository()
	default:
		windowRepo = repositories.NewWindowDBRepository(database, logger)
	}

	quotaRepo := repositories.NewQuotaRepository(database, logger)

	// Premium lookups are cached; the flag is owned by user management
	premiumChecker := repositories.NewCachingPremiumChecker(
		repositories.NewPremiumDBRepository(database, logger),
		redis.NewRedisCache(redisClient, "admission"),
		5*time.Minute,
	)

	// Wire services
	quotaLedger := services.NewQuotaLedgerService(quotaRepo, premiumChecker, clk, &services.QuotaLedgerConfig{
		DailyLimit:   cfg.Quota.DailyLimit,
		FailOpen:     cfg.Quota.FailOpen,
		StoreTimeout: cfg.Quota.StoreTimeout,
	}, logger)

	windowCounter := services.NewWindowCounterService(windowRepo, clk, &services.WindowCounterConfig{
		Window:        cfg.Window.Length,
		SkewTolerance: cfg.Window.SkewTolerance,
		StoreTimeout:  cfg.Quota.StoreTimeout,
	}, logger)

	adaptiveGate := services.NewAdaptiveGateService(windowCounter, windowRepo, clk, &services.AdaptiveGateConfig{
		BaseLimit:           cfg.Gate.BaseLimit,
		HardLimit:           cfg.Gate.HardLimit,
		EscalationThreshold: cfg.Gate.EscalationThreshold,
		BaseBlockDuration:   cfg.Gate.BaseBlockDuration,
		BackoffMultiplier:   cfg.Gate.BackoffMultiplier,
		MaxBlockDuration:    cfg.Gate.MaxBlockDuration,
		StoreTimeout:        cfg.Quota.StoreTimeout,
	}, logger)

	admissionService := services.NewAdmissionService(quotaLedger, adaptiveGate, windowCounter, clk, logger)

	// HTTP server
	server := httpserver.NewServer(&httpserver.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		TLSCertFile:  cfg.Server.TLSCertFile,
		TLSKeyFile:   cfg.Server.TLSKeyFile,
	}, logger, httpserver.ServerDeps{
		AdmissionService: admissionService,
		QuotaLedger:      quotaLedger,
		WindowRepository: windowRepo,
		Clock:            clk,
		HealthCheckers:   healthCheckers,
	})

	go func() {
		if err := server.Start(); err != nil {
			logger.Info("Server stopped:", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown:", err)
	}
	logger.Info("Server exited")
}
