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

// CustomerRepository implements repository.CustomerDirectory.
type CustomerRepository struct {
	coll *mongo.Collection
}

var _ repository.CustomerDirectory = (*CustomerRepository)(nil)

// FindOrCreateCustomer upserts by mobile number. Two concurrent upserts can race on the
// unique index; the loser retries once and finds the winner's document.
func (r *CustomerRepository) FindOrCreateCustomer(ctx context.Context, mobile, name string) (*models.Customer, error) {
	filter := bson.M{"mobile": mobile}
	update := bson.M{"$setOnInsert": bson.M{"mobile": mobile, "name": name, "created_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var customer models.Customer
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&customer)
	if mongo.IsDuplicateKeyError(err) {
		err = r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&customer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer %s: %w", mobile, err)
	}
	return &customer, nil
}

// AttachmentRepository implements repository.AttachmentLinker over the attachments collection.
type AttachmentRepository struct {
	coll *mongo.Collection
}

var _ repository.AttachmentLinker = (*AttachmentRepository)(nil)

// LinkAttachments points every attachment tagged with transactionRef at the entity.
// Attachments already linked to the same entity are left untouched.
func (r *AttachmentRepository) LinkAttachments(ctx context.Context, transactionRef, entityID, entityType string) error {
	filter := bson.M{
		"transaction_ref": transactionRef,
		"$or": bson.A{
			bson.M{"entity_id": bson.M{"$ne": entityID}},
			bson.M{"entity_type": bson.M{"$ne": entityType}},
		},
	}
	update := bson.M{"$set": bson.M{"entity_id": entityID, "entity_type": entityType, "linked_at": time.Now().UTC()}}
	if _, err := r.coll.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to link attachments for %s: %w", transactionRef, err)
	}
	return nil
}

// MovementRepository implements repository.MovementStore.
type MovementRepository struct {
	coll *mongo.Collection
}

var _ repository.MovementStore = (*MovementRepository)(nil)

// Record appends a movement line.
func (r *MovementRepository) Record(ctx context.Context, movement models.StockMovement) error {
	if movement.ID.IsZero() {
		movement.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, movement); err != nil {
		return fmt.Errorf("failed to insert stock movement: %w", err)
	}
	return nil
}

// ListByItem returns the latest movements of an item, newest first.
func (r *MovementRepository) ListByItem(ctx context.Context, itemID primitive.ObjectID, limit int) ([]models.StockMovement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, bson.M{"item_id": itemID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	var movements []models.StockMovement
	if err := cursor.All(ctx, &movements); err != nil {
		return nil, fmt.Errorf("failed to decode movements: %w", err)
	}
	return movements, nil
}
