package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"confirm-gate/internal/app"
	"confirm-gate/internal/observability"
)

func main() {
	_ = godotenv.Load()

	logger := observability.NewLogger()

	port := envOrDefault("PORT", "3051")
	addr := ":" + port

	cfg := app.Config{
		Addr:            addr,
		BaseURL:         envOrDefault("BASE_URL", "http://localhost:"+port),
		DataDir:         envOrDefault("DATA_DIR", defaultDataDir()),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		ConfirmPIN:      os.Getenv("CONFIRM_PIN"),
		TokenTTL:        envSecondsOrDefault("TOKEN_TTL_SECONDS", 300),
		PruneGrace:      envSecondsOrDefault("PRUNE_GRACE_SECONDS", 60),
		PruneInterval:   envMinutesOrDefault("PRUNE_INTERVAL_MINUTES", 60),
		SweepInterval:   envMinutesOrDefault("SWEEP_INTERVAL_MINUTES", 5),
		RateLimitMax:    envIntOrDefault("CONFIRM_RATE_LIMIT_MAX", 10),
		RateLimitWindow: envSecondsOrDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		ForgotPINMax:    envIntOrDefault("FORGOT_PIN_RATE_LIMIT_MAX", 3),
		ResetTTL:        envMinutesOrDefault("RESET_TTL_MINUTES", 15),
		MinPINLength:    envIntOrDefault("MIN_PIN_LENGTH", 4),
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        envIntOrDefault("SMTP_PORT", 587),
		SMTPUser:        os.Getenv("SMTP_USER"),
		SMTPPassword:    os.Getenv("SMTP_PASS"),
		SMTPFrom:        envOrDefault("SMTP_FROM", os.Getenv("SMTP_USER")),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
		AppEnv:          envOrDefault("APP_ENV", "development"),
		CronSecret:      os.Getenv("CRON_SECRET"),
	}

	runtime, err := app.Build(cfg)
	if err != nil {
		logger.Error("bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: runtime.Handler,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	logger.Info("server_start", map[string]any{"addr": addr, "base_url": cfg.BaseURL})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	if err := runtime.Close(); err != nil {
		logger.Error("shutdown_failed", map[string]any{"error": err.Error()})
	}
	logger.Info("server_stopped", nil)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".confirm-gate"
	}
	return filepath.Join(home, ".confirm-gate")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}
