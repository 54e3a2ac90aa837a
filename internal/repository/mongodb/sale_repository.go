package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/repository"
)

// SaleRepository implements repository.SaleStore.
type SaleRepository struct {
	coll *mongo.Collection
}

var _ repository.SaleStore = (*SaleRepository)(nil)

// Insert stores a sale; the unique transaction_ref index rejects duplicates.
func (r *SaleRepository) Insert(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error) {
	if sale.ID.IsZero() {
		sale.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, sale); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert sale: %w", err)
	}
	return &sale, nil
}

// FindByRef loads a sale by transaction reference.
func (r *SaleRepository) FindByRef(ctx context.Context, ref string) (*models.SaleRecord, error) {
	var sale models.SaleRecord
	if err := r.coll.FindOne(ctx, bson.M{"transaction_ref": ref}).Decode(&sale); err != nil {
		if isNoDocuments(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load sale %s: %w", ref, err)
	}
	return &sale, nil
}

// Confirm marks the sale as backed by an applied reservation.
func (r *SaleRepository) Confirm(ctx context.Context, ref string, at time.Time) error {
	return confirmByRef(ctx, r.coll, ref, at)
}

// DeletePending removes a sale still waiting for its reservation.
func (r *SaleRepository) DeletePending(ctx context.Context, ref string) (bool, error) {
	return deletePendingByRef(ctx, r.coll, ref)
}

// ListPending returns pending sales created before the cutoff, oldest first.
func (r *SaleRepository) ListPending(ctx context.Context, createdBefore time.Time) ([]models.SaleRecord, error) {
	cursor, err := r.coll.Find(ctx, pendingBefore(createdBefore), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sales: %w", err)
	}
	var sales []models.SaleRecord
	if err := cursor.All(ctx, &sales); err != nil {
		return nil, fmt.Errorf("failed to decode pending sales: %w", err)
	}
	return sales, nil
}

func confirmByRef(ctx context.Context, coll *mongo.Collection, ref string, at time.Time) error {
	res, err := coll.UpdateOne(ctx,
		bson.M{"transaction_ref": ref},
		bson.M{"$set": bson.M{"status": models.StatusConfirmed, "stock_reserved": true, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", ref, err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func deletePendingByRef(ctx context.Context, coll *mongo.Collection, ref string) (bool, error) {
	res, err := coll.DeleteOne(ctx, bson.M{"transaction_ref": ref, "status": models.StatusPending})
	if err != nil {
		return false, fmt.Errorf("failed to delete pending %s: %w", ref, err)
	}
	return res.DeletedCount > 0, nil
}

func pendingBefore(cutoff time.Time) bson.M {
	return bson.M{"status": models.StatusPending, "created_at": bson.M{"$lt": cutoff}}
}
