// Package app assembles the service graph shared by the HTTP server and the worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/jobs"
	"github.com/mamadbah2/lounge/internal/metrics"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/repository/sheets"
	"github.com/mamadbah2/lounge/internal/service/sales"
	"github.com/mamadbah2/lounge/internal/service/stock"
	"github.com/mamadbah2/lounge/internal/storage"
	"github.com/mamadbah2/lounge/pkg/clients/attachments"
)

// App holds the wired services and the resources they own.
type App struct {
	Config  *config.Config
	Store   *storage.Backend
	Metrics *metrics.Metrics
	Stock   *stock.Service
	Sales   *sales.Service
	// Redis and Queue are nil when no Redis address is configured.
	Redis  *redis.Client
	Queue  *jobs.Client
	logger *zap.Logger
}

// Build opens the record store and wires the stock and sales services.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := storage.Open(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Store: store, Metrics: metrics.New(), logger: logger}

	stockOpts := []stock.Option{stock.WithMetrics(a.Metrics)}
	if cfg.Sheets.Enabled() {
		journal, err := sheets.NewMovementJournal(ctx, cfg.Sheets, logger.Named("repo.sheets"))
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("failed to init movement journal: %w", err)
		}
		stockOpts = append(stockOpts, stock.WithMovementMirror(journal))
		logger.Info("movement journal mirrored to google sheets")
	}

	var linker repository.AttachmentLinker = store.Attachments
	if cfg.Attachments.BaseURL != "" {
		linker = attachments.NewClient(cfg.Attachments)
		logger.Info("attachment service enabled", zap.String("base_url", cfg.Attachments.BaseURL))
	}

	a.Stock = stock.NewService(store.Stock, linker, store.Movements, logger.Named("svc.stock"), stockOpts...)

	salesOpts := []sales.Option{sales.WithMetrics(a.Metrics)}
	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup; settlements fall back to the sweep", zap.Error(err))
		}
		a.Queue = jobs.NewClient(RedisOpts(cfg.Redis))
		salesOpts = append(salesOpts, sales.WithSettlementQueue(a.Queue))
	} else {
		logger.Warn("redis not configured; pending sales are settled by the sweep only")
	}

	a.Sales = sales.NewService(a.Stock, store.Sales, store.CreditSales, store.Customers, linker, logger.Named("svc.sales"), salesOpts...)
	return a, nil
}

// RedisOpts converts the redis section into asynq connection options.
func RedisOpts(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// Close releases the queue, redis and store connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}
