package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bulwark-auth/bulwark/internal/auth"
	"github.com/bulwark-auth/bulwark/internal/background"
	"github.com/bulwark-auth/bulwark/internal/config"
	"github.com/bulwark-auth/bulwark/internal/counter"
	"github.com/bulwark-auth/bulwark/internal/database"
	"github.com/bulwark-auth/bulwark/internal/handlers"
	middlewareCustom "github.com/bulwark-auth/bulwark/internal/middleware"
	"github.com/bulwark-auth/bulwark/internal/models"
	"github.com/bulwark-auth/bulwark/internal/repositories"
	"github.com/bulwark-auth/bulwark/internal/routes"
	"github.com/bulwark-auth/bulwark/internal/services"
	pkgauth "github.com/bulwark-auth/bulwark/pkg/auth"
	pkghttp "github.com/bulwark-auth/bulwark/pkg/http"
	pkglogger "github.com/bulwark-auth/bulwark/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := counter.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	counterStore := counter.NewRedisStore(redisClient, logger)

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	verificationRepo := repositories.NewDeviceVerificationRepository(db)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	threatLogger := pkglogger.NewThreatLogger(logger)

	emailService, err := services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}

	geoService := services.NewHTTPGeoIPService(cfg.Security.GeoIPEndpoint, cfg.Security.GeoIPTimeout, logger)

	eventService := services.NewSecurityEventService(
		eventRepo,
		userRepo,
		counterStore,
		geoService,
		emailService,
		services.SecurityEventConfig{
			AlertThreshold: cfg.Security.AlertThreshold,
			AlertWindow:    cfg.Security.AlertWindow,
			AlertEmail:     cfg.Email.AlertEmail,
			QueueSize:      cfg.Security.EventQueueSize,
			Workers:        cfg.Security.EventWorkers,
		},
		logger,
	)
	eventService.Start()

	rateLimiter := services.NewDistributedRateLimiter(counterStore, cfg.Security.RateLimitPolicies, logger)
	blocklist := services.NewIPBlocklist(cfg.Security.DefaultBlockHours, logger)
	classifier := services.NewPatternClassifier()

	verificationService := services.NewDeviceVerificationService(
		verificationRepo,
		emailService,
		cfg.Security.CodeExpiry,
		cfg.Security.MaxVerifyAttempts,
		logger,
	)

	authService := services.NewAuthService(
		userRepo,
		tokenManager,
		rateLimiter,
		blocklist,
		classifier,
		eventService,
		verificationService,
		emailService,
		threatLogger,
		logger,
	)

	cleanupManager := background.NewCleanupManager(verificationRepo, logger, cfg.Security.SweepInterval)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	securityHandler := handlers.NewSecurityHandler(eventService, blocklist)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(cfg.Server.Env))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.ThreatGate(blocklist, classifier, eventService, ipConfig))

	routes.RegisterRoutes(router, authHandler, securityHandler, tokenManager)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Drain the event queue after the listener stops so in-flight
	// requests can still record events.
	eventService.Stop()

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(adminPassword); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         "admin",
		Status:       "active",
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
