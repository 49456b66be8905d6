package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"confirm-gate/internal/account"
	"confirm-gate/internal/confirm"
	"confirm-gate/internal/mail"
	"confirm-gate/internal/maintenance"
	"confirm-gate/internal/observability"
	"confirm-gate/internal/persist"
	"confirm-gate/internal/ratelimit"
)

// Config enumerates every option the service takes. main fills it from the
// environment; tests construct it directly.
type Config struct {
	Addr    string // listen address, default ":3051"
	BaseURL string // public base for confirmation links
	DataDir string // file snapshot directory, used when DatabaseURL is empty

	// DatabaseURL switches snapshot persistence to Postgres when set.
	DatabaseURL string

	// ConfirmPIN seeds a PIN from the environment without web setup.
	ConfirmPIN string

	TokenTTL      time.Duration // confirmation token lifetime, default 5m
	PruneGrace    time.Duration // kept past expiry before pruning, default 60s
	PruneInterval time.Duration // background prune cadence, default 1h
	SweepInterval time.Duration // limiter sweep cadence, default 5m

	RateLimitMax    int           // confirm/verify attempts per window, default 10
	RateLimitWindow time.Duration // sliding window, default 60s
	ForgotPINMax    int           // forgot-pin attempts per window, default 3

	ResetTTL     time.Duration // PIN reset token lifetime, default 15m
	MinPINLength int           // default 4

	SMTPHost     string // mail disabled when empty
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	SentryDSN  string
	AppEnv     string
	CronSecret string // enables the manual cleanup endpoint
}

func (c *Config) withDefaults() {
	if c.Addr == "" {
		c.Addr = ":3051"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost" + c.Addr
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 5 * time.Minute
	}
	if c.PruneGrace <= 0 {
		c.PruneGrace = time.Minute
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.RateLimitMax <= 0 {
		c.RateLimitMax = 10
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.ForgotPINMax <= 0 {
		c.ForgotPINMax = 3
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = 15 * time.Minute
	}
	if c.MinPINLength <= 0 {
		c.MinPINLength = 4
	}
	if c.AppEnv == "" {
		c.AppEnv = "development"
	}
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(cfg Config) (*Runtime, error) {
	cfg.withDefaults()

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var snapshots persist.Store
	var database *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		database, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := database.Ping(); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := persist.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		snapshots = persist.NewPostgresStore(database)
	} else {
		snapshots = persist.NewFileStore(cfg.DataDir)
	}

	store := confirm.NewStore(snapshots, logger, cfg.TokenTTL, cfg.PruneGrace)
	vault := account.NewVault(snapshots, logger, cfg.ResetTTL, cfg.MinPINLength)
	if cfg.ConfirmPIN != "" {
		if err := vault.SeedPIN(cfg.ConfirmPIN); err != nil {
			if database != nil {
				_ = database.Close()
			}
			return nil, fmt.Errorf("seed pin: %w", err)
		}
	}

	var sender mail.Sender
	if cfg.SMTPHost != "" {
		sender = mail.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
	}

	service := confirm.NewService(store, vault, cfg.BaseURL)
	confirmHandler := confirm.NewHandler(service)
	accountHandler := account.NewHandler(vault, sender, cfg.BaseURL, logger)

	confirmLimiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
	verifyLimiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)
	forgotLimiter := ratelimit.New(cfg.ForgotPINMax, cfg.RateLimitWindow)

	scheduler := maintenance.NewScheduler(
		store,
		vault,
		[]*ratelimit.Limiter{confirmLimiter, verifyLimiter, forgotLimiter},
		logger,
		cfg.PruneInterval,
		cfg.SweepInterval,
	)
	cleanupHandler := maintenance.NewCleanupHandler(scheduler, cfg.CronSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request", confirmHandler.Request)
	mux.HandleFunc("GET /api/token/{id}", confirmHandler.Describe)
	mux.Handle("POST /api/confirm/{id}", confirmLimiter.Middleware(http.HandlerFunc(confirmHandler.Confirm)))
	mux.Handle("POST /api/verify", verifyLimiter.Middleware(http.HandlerFunc(confirmHandler.Verify)))
	mux.HandleFunc("POST /api/setup", accountHandler.Setup)
	mux.Handle("POST /api/forgot-pin", forgotLimiter.Middleware(http.HandlerFunc(accountHandler.ForgotPIN)))
	mux.HandleFunc("GET /api/reset-token/{id}", accountHandler.CheckReset)
	mux.HandleFunc("POST /api/reset-pin/{id}", accountHandler.ResetPIN)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedulerCtx)

	return &Runtime{
		Handler: handler,
		Close: func() error {
			stopScheduler()
			observability.FlushSentry()
			if database != nil {
				return database.Close()
			}
			return nil
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
