package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/pos/internal/checkout"
	"github.com/hanko-field/pos/internal/domain"
	"github.com/hanko-field/pos/internal/handlers"
	"github.com/hanko-field/pos/internal/lookup"
	"github.com/hanko-field/pos/internal/platform/config"
	"github.com/hanko-field/pos/internal/platform/observability"
	"github.com/hanko-field/pos/internal/session"
)

var errDraining = errors.New("server is shutting down")

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", validation.Fields())
		} else {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		}
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("pos")

	lookupClient, err := lookup.NewClient(cfg.Backend.BaseURL, cfg.Backend.LookupTimeout)
	if err != nil {
		logger.Fatal("failed to initialise lookup client", zap.Error(err))
	}
	purchaseClient, err := checkout.NewClient(cfg.Backend.BaseURL, cfg.Backend.PurchaseTimeout)
	if err != nil {
		logger.Fatal("failed to initialise purchase client", zap.Error(err))
	}
	orchestrator, err := checkout.NewOrchestrator(purchaseClient)
	if err != nil {
		logger.Fatal("failed to initialise checkout orchestrator", zap.Error(err))
	}

	registry, err := session.NewRegistry(session.RegistryDeps{
		Lookup:   lookupClient,
		Checkout: orchestrator,
		DefaultStation: domain.Station{
			EmployeeCode: cfg.Station.EmployeeCode,
			StoreCode:    cfg.Station.StoreCode,
			RegisterNo:   cfg.Station.RegisterNo,
		},
	})
	if err != nil {
		logger.Fatal("failed to initialise session registry", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	if cfg.Session.IdleTimeout > 0 && cfg.Session.SweepInterval > 0 {
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			sweepSessions(sweepCtx, registry, cfg.Session.IdleTimeout, cfg.Session.SweepInterval, logger.Named("sessions"))
		}()
	}

	var draining atomic.Bool
	healthHandlers := handlers.NewHealthHandlers(func() error {
		if draining.Load() {
			return errDraining
		}
		return nil
	})

	projectID := cfg.Logging.TraceProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithSessionRoutes(handlers.NewSessionHandlers(registry).Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("store_code", cfg.Station.StoreCode),
		zap.String("register_no", cfg.Station.RegisterNo),
	)
	go func() {
		serverLogger.Info("pos register listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	draining.Store(true)
	logger.Info("shutdown signal received; draining requests", zap.Int("open_sessions", registry.Len()))

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func sweepSessions(ctx context.Context, registry *session.Registry, maxIdle, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := registry.CloseIdle(maxIdle); len(closed) > 0 {
				logger.Info("closed idle sessions",
					zap.Strings("session_ids", closed),
					zap.Int("open_sessions", registry.Len()),
				)
			}
		}
	}
}
