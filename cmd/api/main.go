package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/vitrina/api/internal/di"
	"github.com/vitrina/api/internal/handlers"
	"github.com/vitrina/api/internal/platform/config"
	"github.com/vitrina/api/internal/platform/idempotency"
	"github.com/vitrina/api/internal/platform/observability"
	"github.com/vitrina/api/internal/platform/realtime"
	"github.com/vitrina/api/internal/platform/secrets"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	svc := container.Services
	hub, err := realtime.NewHub(svc.Rooms, realtime.Options{
		Logger:         logger.Named("ws"),
		AllowedOrigins: cfg.Rooms.AllowedOrigins,
	})
	if err != nil {
		logger.Fatal("failed to initialise websocket hub", zap.Error(err))
	}
	svc.Rooms.AttachTransport(hub)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go svc.Rooms.Run(sweepCtx)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(projectID),
			observability.RecoveryMiddleware(logger),
			idempotency.Middleware(container.Idempotency,
				idempotency.WithTTL(cfg.Server.IdempotencyTTL),
				idempotency.WithLogger(logger.Named("idempotency")),
			),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthRepository(container.Health),
			handlers.WithHealthVersion(buildVersion()),
			handlers.WithHealthStartedAt(startedAt),
		)),
		handlers.WithRealtimeHandler(hub),
	}

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Refunds)
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	inventoryHandlers := handlers.NewInventoryHandlers(svc.Ledger)
	opts = append(opts, handlers.WithInventoryRoutes(inventoryHandlers.Routes))
	if svc.Catalog != nil {
		catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog)
		opts = append(opts, handlers.WithCatalogRoutes(catalogHandlers.Routes))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("persistence", cfg.Persistence.Driver))
	go func() {
		serverLogger.Info("vitrina api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stopSweep()
}

func buildVersion() string {
	if version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION")); version != "" {
		return version
	}
	return "dev"
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := strings.TrimSpace(os.Getenv("API_SECRET_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("API_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := strings.TrimSpace(os.Getenv("API_GOOGLE_CREDENTIALS_FILE")); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
