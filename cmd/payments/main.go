package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"github.com/sachanni/brand-influencer-sub001/internal/commission"
	"github.com/sachanni/brand-influencer-sub001/internal/common/database"
	"github.com/sachanni/brand-influencer-sub001/internal/common/middleware"
	"github.com/sachanni/brand-influencer-sub001/internal/common/natsx"
	"github.com/sachanni/brand-influencer-sub001/internal/gateway"
	"github.com/sachanni/brand-influencer-sub001/internal/invoice"
	"github.com/sachanni/brand-influencer-sub001/internal/payments"
	"github.com/sachanni/brand-influencer-sub001/internal/payments/api"
	"github.com/sachanni/brand-influencer-sub001/migrations"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"PAYMENTS_PORT" default:"8086"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	Database   database.Config
	NATS       natsx.Config
	Gateway    gateway.Config
	Commission commission.Config
	Payments   payments.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Apply schema migrations before serving traffic
	if err := database.Migrate(migrateURL(cfg.Database.URL), migrations.FS, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS. Events are auxiliary; payment processing stays up
	// when the broker is down.
	var publisher payments.Publisher
	natsClient, err := natsx.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Warn("NATS unavailable, events disabled", "error", err)
	} else {
		defer natsClient.Close()
		if _, err := natsClient.EnsureStream(ctx, "PAYMENTS", []string{"payments.>", "invoices.>"}); err != nil {
			logger.Warn("failed to ensure payments stream", "error", err)
		}
		publisher = natsx.NewPublisher(natsClient, logger)
	}

	// Create services
	calc := commission.New(cfg.Commission)
	invoiceStore := invoice.NewPostgresStore(db)
	invoiceService := invoice.NewService(invoiceStore, calc, invoice.NewTextRenderer(), publisher, logger)
	gatewayClient := gateway.NewClient(cfg.Gateway, logger)
	paymentStore := payments.NewPostgresStore(db)
	paymentService := payments.NewService(
		paymentStore, calc, invoiceService, gatewayClient, publisher, cfg.Payments, logger,
	)

	// Create handlers
	paymentsHandler := api.NewHandler(paymentService, invoiceService)
	webhookHandler := gateway.NewWebhookHandler(cfg.Gateway, paymentService, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Gateway webhook
	r.Method(http.MethodPost, cfg.Gateway.WebhookPath, webhookHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/", paymentsHandler.Routes())
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting payments service",
			"port", cfg.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// migrateURL rewrites the pool URL to the pgx5 scheme golang-migrate
// expects.
func migrateURL(url string) string {
	if strings.HasPrefix(url, "postgres://") {
		return "pgx5://" + strings.TrimPrefix(url, "postgres://")
	}
	if strings.HasPrefix(url, "postgresql://") {
		return "pgx5://" + strings.TrimPrefix(url, "postgresql://")
	}
	return url
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
