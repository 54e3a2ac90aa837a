// Package storage opens the record store selected by configuration.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/config"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/repository/memory"
	"github.com/mamadbah2/lounge/internal/repository/mongodb"
)

// Backend bundles the storage ports of one record store.
type Backend struct {
	Stock       repository.StockStore
	Sales       repository.SaleStore
	CreditSales repository.CreditSaleStore
	Customers   repository.CustomerDirectory
	Attachments repository.AttachmentLinker
	Movements   repository.MovementStore

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping reports whether the store is reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases the store connection.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Open connects to the configured driver. The mongodb driver also ensures its indexes.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory record store; data is lost on restart")
		return FromMemory(memory.New()), nil
	case config.DriverMongoDB:
		repo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoURI, cfg.MongoDBName, cfg.MongoTimeout)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}
		logger.Info("mongodb record store ready", zap.String("database", cfg.MongoDBName))
		return &Backend{
			Stock:       repo.Stock(),
			Sales:       repo.Sales(),
			CreditSales: repo.CreditSales(),
			Customers:   repo.Customers(),
			Attachments: repo.Attachments(),
			Movements:   repo.Movements(),
			ping:        repo.Ping,
			close:       repo.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// FromMemory wraps an in-memory store.
func FromMemory(store *memory.Store) *Backend {
	return &Backend{
		Stock:       store.Stock(),
		Sales:       store.Sales(),
		CreditSales: store.CreditSales(),
		Customers:   store.Customers(),
		Attachments: store.Attachments(),
		Movements:   store.Movements(),
		ping:        store.Ping,
	}
}
