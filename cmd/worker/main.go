// Command worker settles pending sales queued after a failed compensation.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/app"
	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/jobs"
	"github.com/mamadbah2/lounge/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	if !cfg.Redis.Enabled() {
		baseLogger.Fatal("REDIS_ADDR must be set to run the settlement worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.Storage.MongoTimeout+5*time.Second)
	services, err := app.Build(startCtx, cfg, baseLogger)
	cancelStart()
	if err != nil {
		baseLogger.Fatal("failed to wire services", zap.Error(err))
	}
	defer func() {
		if err := services.Close(context.Background()); err != nil {
			baseLogger.Error("failed to release resources", zap.Error(err))
		}
	}()

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   app.RedisOpts(cfg.Redis),
		Concurrency: cfg.Redis.WorkerConcurrency,
		Settlement:  jobs.NewSettlementHandler(services.Sales, baseLogger.Named("jobs.settlement")),
		Logger:      baseLogger.Named("worker"),
	})
	if err != nil {
		baseLogger.Fatal("failed to init worker", zap.Error(err))
	}

	if err := worker.Run(ctx); err != nil {
		baseLogger.Error("worker exited", zap.Error(err))
	}
}
