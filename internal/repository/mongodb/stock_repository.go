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
	"github.com/mamadbah2/lounge/internal/service/valuation"
)

// StockRepository implements repository.StockStore. Mutations are pipeline updates so the
// server computes new quantity, averages and derived fields from the stored pre-image in a
// single atomic document write.
type StockRepository struct {
	coll *mongo.Collection
}

var _ repository.StockStore = (*StockRepository)(nil)

var notDeleted = bson.E{Key: "deleted", Value: bson.M{"$ne": true}}

// valuationStage mirrors valuation.Recompute on the server.
func valuationStage() bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "stock_value", Value: bson.M{"$multiply": bson.A{"$quantity_on_hand", "$cost_price"}}},
		{Key: "projected_profit", Value: bson.M{"$multiply": bson.A{
			"$quantity_on_hand",
			bson.M{"$subtract": bson.A{"$selling_price", "$cost_price"}},
		}}},
	}}}
}

// weightedAverageExpr mirrors valuation.WeightedAverage against the stored quantity.
func weightedAverageExpr(field string, incomingQty int64, incomingPrice float64) bson.M {
	newQty := bson.M{"$add": bson.A{"$quantity_on_hand", incomingQty}}
	return bson.M{"$cond": bson.M{
		"if": bson.M{"$gt": bson.A{newQty, 0}},
		"then": bson.M{"$divide": bson.A{
			bson.M{"$add": bson.A{
				bson.M{"$multiply": bson.A{field, "$quantity_on_hand"}},
				float64(incomingQty) * incomingPrice,
			}},
			newQty,
		}},
		"else": incomingPrice,
	}}
}

func afterUpdate() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// Create inserts a new stock item with derived fields computed.
func (r *StockRepository) Create(ctx context.Context, item models.StockItem) (*models.StockItem, error) {
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	valuation.Apply(&item)
	if _, err := r.coll.InsertOne(ctx, item); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert stock item: %w", err)
	}
	return &item, nil
}

// FindByID loads a live item by id.
func (r *StockRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.StockItem, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}, notDeleted})
}

// FindByCode loads a live item by its code.
func (r *StockRepository) FindByCode(ctx context.Context, code string) (*models.StockItem, error) {
	return r.findOne(ctx, bson.D{{Key: "code", Value: code}, notDeleted})
}

// FindByName loads a live item by its exact display name.
func (r *StockRepository) FindByName(ctx context.Context, name string) (*models.StockItem, error) {
	return r.findOne(ctx, bson.D{{Key: "name", Value: name}, notDeleted})
}

func (r *StockRepository) findOne(ctx context.Context, filter bson.D) (*models.StockItem, error) {
	var item models.StockItem
	if err := r.coll.FindOne(ctx, filter).Decode(&item); err != nil {
		if isNoDocuments(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load stock item: %w", err)
	}
	return &item, nil
}

// List returns every live item ordered by code.
func (r *StockRepository) List(ctx context.Context) ([]models.StockItem, error) {
	cursor, err := r.coll.Find(ctx, bson.D{notDeleted}, options.Find().SetSort(bson.D{{Key: "code", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list stock items: %w", err)
	}
	var items []models.StockItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode stock items: %w", err)
	}
	return items, nil
}

// Restock applies a delivery as one pipeline update.
func (r *StockRepository) Restock(ctx context.Context, id primitive.ObjectID, delivery models.Delivery, at time.Time) (*models.StockItem, error) {
	filter := bson.D{{Key: "_id", Value: id}, notDeleted}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "cost_price", Value: weightedAverageExpr("$cost_price", delivery.Quantity, delivery.UnitCost)},
			{Key: "selling_price", Value: weightedAverageExpr("$selling_price", delivery.Quantity, delivery.UnitSellingPrice)},
			{Key: "quantity_on_hand", Value: bson.M{"$add": bson.A{"$quantity_on_hand", delivery.Quantity}}},
			{Key: "last_mutation_at", Value: at},
		}}},
		valuationStage(),
	}

	var item models.StockItem
	if err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, afterUpdate()).Decode(&item); err != nil {
		if isNoDocuments(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to restock item %s: %w", id.Hex(), err)
	}
	return &item, nil
}

// Reserve decrements the quantity only when enough is on hand and key was neither applied
// nor cancelled yet.
func (r *StockRepository) Reserve(ctx context.Context, id primitive.ObjectID, qty int64, key string, at time.Time) (*models.StockItem, bool, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		notDeleted,
		{Key: "quantity_on_hand", Value: bson.M{"$gte": qty}},
	}
	set := bson.D{
		{Key: "quantity_on_hand", Value: bson.M{"$subtract": bson.A{"$quantity_on_hand", qty}}},
		{Key: "last_mutation_at", Value: at},
	}
	if key != "" {
		filter = append(filter,
			bson.E{Key: "reservation_refs", Value: bson.M{"$ne": key}},
			bson.E{Key: "cancelled_refs", Value: bson.M{"$ne": key}},
		)
		set = append(set, bson.E{Key: "reservation_refs", Value: bson.M{"$concatArrays": bson.A{
			bson.M{"$ifNull": bson.A{"$reservation_refs", bson.A{}}},
			bson.A{bson.M{"$literal": key}},
		}}})
	}
	pipeline := mongo.Pipeline{{{Key: "$set", Value: set}}, valuationStage()}

	var item models.StockItem
	err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, afterUpdate()).Decode(&item)
	if err == nil {
		return &item, true, nil
	}
	if !isNoDocuments(err) {
		return nil, false, fmt.Errorf("failed to reserve stock on %s: %w", id.Hex(), err)
	}
	if key == "" {
		return nil, false, repository.ErrInsufficientStock
	}

	current, findErr := r.findOne(ctx, bson.D{{Key: "_id", Value: id}, notDeleted})
	switch {
	case findErr != nil:
		return nil, false, repository.ErrInsufficientStock
	case current.HasReservation(key):
		return current, false, nil
	case current.IsCancelled(key):
		return nil, false, repository.ErrReservationCancelled
	}
	return nil, false, repository.ErrInsufficientStock
}

// CancelReservation adds key to cancelled_refs unless it is already in reservation_refs.
// Deleted items are matched too so the tombstone lands regardless.
func (r *StockRepository) CancelReservation(ctx context.Context, id primitive.ObjectID, key string) (*models.StockItem, bool, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		{Key: "reservation_refs", Value: bson.M{"$ne": key}},
	}
	update := bson.M{"$addToSet": bson.M{"cancelled_refs": key}}

	var item models.StockItem
	err := r.coll.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&item)
	if err == nil {
		return &item, false, nil
	}
	if !isNoDocuments(err) {
		return nil, false, fmt.Errorf("failed to cancel reservation %s on %s: %w", key, id.Hex(), err)
	}

	current, findErr := r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if findErr != nil {
		return nil, false, findErr
	}
	if !current.HasReservation(key) {
		// released between the two reads
		return nil, false, repository.ErrConflict
	}
	return current, true, nil
}

// ReleaseReservation pulls key from reservation_refs.
func (r *StockRepository) ReleaseReservation(ctx context.Context, id primitive.ObjectID, key string) error {
	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.M{"$pull": bson.M{"reservation_refs": key}})
	if err != nil {
		return fmt.Errorf("failed to release reservation %s on %s: %w", key, id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReplaceIfUnchanged writes next only when the stored primary fields still equal pre.
func (r *StockRepository) ReplaceIfUnchanged(ctx context.Context, id primitive.ObjectID, pre, next repository.StockValues, at time.Time) (*models.StockItem, error) {
	filter := bson.D{
		{Key: "_id", Value: id},
		notDeleted,
		{Key: "quantity_on_hand", Value: pre.QuantityOnHand},
		{Key: "cost_price", Value: pre.CostPrice},
		{Key: "selling_price", Value: pre.SellingPrice},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "quantity_on_hand", Value: next.QuantityOnHand},
			{Key: "cost_price", Value: next.CostPrice},
			{Key: "selling_price", Value: next.SellingPrice},
			{Key: "last_mutation_at", Value: at},
		}}},
		valuationStage(),
	}

	var item models.StockItem
	err := r.coll.FindOneAndUpdate(ctx, filter, pipeline, afterUpdate()).Decode(&item)
	if err == nil {
		return &item, nil
	}
	if !isNoDocuments(err) {
		return nil, fmt.Errorf("failed to update stock item %s: %w", id.Hex(), err)
	}
	if _, findErr := r.FindByID(ctx, id); findErr != nil {
		return nil, findErr
	}
	return nil, repository.ErrConflict
}

// SoftDelete flags the item deleted; historical sales keep referencing it.
func (r *StockRepository) SoftDelete(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, notDeleted},
		bson.M{"$set": bson.M{"deleted": true, "deleted_at": at, "last_mutation_at": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to delete stock item %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
