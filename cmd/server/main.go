package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/stockledger/internal/config"
	"github.com/mamadbah2/stockledger/internal/repository"
	"github.com/mamadbah2/stockledger/internal/repository/memory"
	"github.com/mamadbah2/stockledger/internal/repository/mongodb"
	"github.com/mamadbah2/stockledger/internal/repository/postgres"
	"github.com/mamadbah2/stockledger/internal/repository/sheets"
	"github.com/mamadbah2/stockledger/internal/scheduler"
	"github.com/mamadbah2/stockledger/internal/server/handlers"
	"github.com/mamadbah2/stockledger/internal/server/router"
	"github.com/mamadbah2/stockledger/internal/service/ledger"
	"github.com/mamadbah2/stockledger/internal/service/query"
	"github.com/mamadbah2/stockledger/internal/service/reporting"
	"github.com/mamadbah2/stockledger/internal/telemetry"
	"github.com/mamadbah2/stockledger/pkg/clients/webhook"
	"github.com/mamadbah2/stockledger/pkg/logger"
)

// store is what every backend provides.
type store interface {
	repository.Store
	repository.ReportArchive
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Server.Env))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, logger.Named(baseLogger, "telemetry"))
	if err != nil {
		baseLogger.Fatal("failed to init telemetry", zap.Error(err))
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		baseLogger.Fatal("failed to init store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	baseLogger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	ledgerSvc := ledger.NewService(st, cfg.Ledger.MaxApplyAttempts, logger.Named(baseLogger, "svc.ledger"))
	querySvc := query.NewService(st, logger.Named(baseLogger, "svc.query"))

	sinks := reporting.Sinks{Archive: st}
	if cfg.Sheets.Enabled() {
		sheetRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, logger.Named(baseLogger, "repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		sinks.Sheet = sheetRepo
	} else {
		baseLogger.Info("google sheets export disabled")
	}
	if cfg.Webhook.URL != "" {
		notifier, err := webhook.NewClient(cfg.Webhook)
		if err != nil {
			baseLogger.Fatal("failed to init webhook client", zap.Error(err))
		}
		sinks.Notifier = notifier
	} else {
		baseLogger.Info("webhook notifications disabled")
	}

	reportingSvc := reporting.NewService(querySvc, sinks, cfg.Reporting.LowStockThreshold, logger.Named(baseLogger, "svc.reporting"))

	sched := scheduler.NewScheduler(cfg.Reporting, reportingSvc, logger.Named(baseLogger, "scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}

	productHandler := handlers.NewProductHandler(ledgerSvc, querySvc, logger.Named(baseLogger, "handlers.products"))
	engine := router.New(productHandler, router.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		CORSOrigin:  cfg.Server.CORSOrigin,
	}, logger.Named(baseLogger, "router"))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	if err := st.Close(shutdownCtx); err != nil {
		baseLogger.Error("failed to close store", zap.Error(err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		baseLogger.Error("failed to flush telemetry", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store, error) {
	switch cfg.Driver {
	case config.DriverMongoDB:
		repo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverPostgres:
		repo, err := postgres.NewPostgresRepository(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
