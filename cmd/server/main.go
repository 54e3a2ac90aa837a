package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/app"
	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/scheduler"
	"github.com/mamadbah2/lounge/internal/server/handlers"
	"github.com/mamadbah2/lounge/internal/server/router"
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

	identity := handlers.HeaderIdentity{}
	engine := router.New(router.Dependencies{
		Stock:   handlers.NewStockHandler(services.Stock, identity, baseLogger.Named("handlers.stock")),
		Sales:   handlers.NewSaleHandler(services.Sales, identity, baseLogger.Named("handlers.sales")),
		Metrics: services.Metrics,
		Store:   services.Store,
		Logger:  baseLogger.Named("router"),
	})

	var locker *redislock.Client
	if services.Redis != nil {
		locker = redislock.New(services.Redis)
	}
	sched := scheduler.NewScheduler(cfg.Scheduler, services.Sales, services.Stock, locker, baseLogger.Named("scheduler"))
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
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
}
