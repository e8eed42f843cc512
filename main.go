package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/hcpe-setisd/leitos-backend/internal/client"
	"github.com/hcpe-setisd/leitos-backend/internal/config"
	"github.com/hcpe-setisd/leitos-backend/internal/db"
	"github.com/hcpe-setisd/leitos-backend/internal/handler"
	"github.com/hcpe-setisd/leitos-backend/internal/logging"
	"github.com/hcpe-setisd/leitos-backend/internal/service"
)

// @title Leitos Backend API
// @version 1.0
// @description Bed management backend: directory authentication and session tokens.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel)

	if cfg.Server.GinMode != "" {
		gin.SetMode(cfg.Server.GinMode)
	}

	// Sentry는 DSN이 있을 때만 활성화
	sentryEnabled := false
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			sentryEnabled = true
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	pg := &db.Postgres{Pool: pool}
	if err := pg.Migrate(ctx); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		slog.Error("credential verifier misconfigured", "error", err)
		os.Exit(1)
	}

	authService, err := service.NewAuthService(pg, verifier, cfg.Auth)
	if err != nil {
		slog.Error("auth service misconfigured", "error", err)
		os.Exit(1)
	}
	if !authService.AuthEnabled() {
		slog.Warn("AUTH_ENABLED=false: every request is served as the development user")
	}
	authService.StartSweeper(ctx)

	router := handler.NewRouter(authService, handler.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Sentry:         sentryEnabled,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port, "provider", authService.Provider())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}

// newVerifier picks the directory verifier when AD_URL or AD_BASEDN is set
// and the offline mock otherwise.
func newVerifier(cfg config.Config) (service.CredentialVerifier, error) {
	if cfg.Directory.Configured() {
		return client.NewDirectoryVerifier(cfg.Directory)
	}
	slog.Warn("AD_URL/AD_BASEDN not set, using mock credential verifier")
	return client.NewMockVerifier(cfg.Auth.AdminGroup)
}
