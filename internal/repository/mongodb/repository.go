package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	stockCollection      = "stock_items"
	salesCollection      = "sales"
	creditCollection     = "credit_sales"
	customerCollection   = "customers"
	attachmentCollection = "attachments"
	movementCollection   = "stock_movements"
)

// MongoDBRepository owns the connection and hands out per-collection repositories.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDBRepository connects to MongoDB and verifies the connection.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string, timeout time.Duration) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	if timeout > 0 {
		clientOptions.SetTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBRepository{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// EnsureIndexes creates the unique and lookup indexes the stores rely on.
func (r *MongoDBRepository) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		stockCollection: {
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		salesCollection: {
			{Keys: bson.D{{Key: "transaction_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		creditCollection: {
			{Keys: bson.D{{Key: "transaction_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		customerCollection: {
			{Keys: bson.D{{Key: "mobile", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		attachmentCollection: {
			{Keys: bson.D{{Key: "transaction_ref", Value: 1}}},
		},
		movementCollection: {
			{Keys: bson.D{{Key: "item_id", Value: 1}, {Key: "at", Value: -1}}},
		},
	}

	for coll, indexes := range specs {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Stock returns the stock item repository.
func (r *MongoDBRepository) Stock() *StockRepository {
	return &StockRepository{coll: r.db.Collection(stockCollection)}
}

// Sales returns the sale record repository.
func (r *MongoDBRepository) Sales() *SaleRepository {
	return &SaleRepository{coll: r.db.Collection(salesCollection)}
}

// CreditSales returns the credit sale repository.
func (r *MongoDBRepository) CreditSales() *CreditSaleRepository {
	return &CreditSaleRepository{coll: r.db.Collection(creditCollection)}
}

// Customers returns the customer directory.
func (r *MongoDBRepository) Customers() *CustomerRepository {
	return &CustomerRepository{coll: r.db.Collection(customerCollection)}
}

// Attachments returns the attachment linker.
func (r *MongoDBRepository) Attachments() *AttachmentRepository {
	return &AttachmentRepository{coll: r.db.Collection(attachmentCollection)}
}

// Movements returns the movement journal.
func (r *MongoDBRepository) Movements() *MovementRepository {
	return &MovementRepository{coll: r.db.Collection(movementCollection)}
}

// Ping checks the server is reachable.
func (r *MongoDBRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
