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

// CreditSaleRepository implements repository.CreditSaleStore.
type CreditSaleRepository struct {
	coll *mongo.Collection
}

var _ repository.CreditSaleStore = (*CreditSaleRepository)(nil)

// Insert stores a credit sale.
func (r *CreditSaleRepository) Insert(ctx context.Context, sale models.CreditSaleRecord) (*models.CreditSaleRecord, error) {
	if sale.ID.IsZero() {
		sale.ID = primitive.NewObjectID()
	}
	if _, err := r.coll.InsertOne(ctx, sale); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, repository.ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert credit sale: %w", err)
	}
	return &sale, nil
}

// FindByID loads a credit sale by id.
func (r *CreditSaleRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.CreditSaleRecord, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// FindByRef loads a credit sale by transaction reference.
func (r *CreditSaleRepository) FindByRef(ctx context.Context, ref string) (*models.CreditSaleRecord, error) {
	return r.findOne(ctx, bson.M{"transaction_ref": ref})
}

func (r *CreditSaleRepository) findOne(ctx context.Context, filter bson.M) (*models.CreditSaleRecord, error) {
	var sale models.CreditSaleRecord
	if err := r.coll.FindOne(ctx, filter).Decode(&sale); err != nil {
		if isNoDocuments(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credit sale: %w", err)
	}
	return &sale, nil
}

// Confirm marks the credit sale as backed by an applied reservation.
func (r *CreditSaleRepository) Confirm(ctx context.Context, ref string, at time.Time) error {
	return confirmByRef(ctx, r.coll, ref, at)
}

// DeletePending removes a credit sale still waiting for its reservation.
func (r *CreditSaleRepository) DeletePending(ctx context.Context, ref string) (bool, error) {
	return deletePendingByRef(ctx, r.coll, ref)
}

// ListPending returns pending credit sales created before the cutoff.
func (r *CreditSaleRepository) ListPending(ctx context.Context, createdBefore time.Time) ([]models.CreditSaleRecord, error) {
	cursor, err := r.coll.Find(ctx, pendingBefore(createdBefore), options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending credit sales: %w", err)
	}
	var sales []models.CreditSaleRecord
	if err := cursor.All(ctx, &sales); err != nil {
		return nil, fmt.Errorf("failed to decode pending credit sales: %w", err)
	}
	return sales, nil
}

// MarkPaid flips paid on a confirmed, unpaid credit sale in one conditional update.
func (r *CreditSaleRepository) MarkPaid(ctx context.Context, id primitive.ObjectID, method models.PaymentMode, paidAt time.Time, processedBy string) (*models.CreditSaleRecord, error) {
	filter := bson.M{"_id": id, "paid": false, "status": models.StatusConfirmed}
	update := bson.M{"$set": bson.M{
		"paid":           true,
		"payment_method": method,
		"payment_date":   paidAt,
		"processed_by":   processedBy,
		"updated_at":     paidAt,
	}}

	var sale models.CreditSaleRecord
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, afterUpdate()).Decode(&sale); err != nil {
		if isNoDocuments(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark credit sale %s paid: %w", id.Hex(), err)
	}
	return &sale, nil
}

// RevertPaid undoes the MarkPaid performed at paidAt. Matching nothing is not an error.
func (r *CreditSaleRepository) RevertPaid(ctx context.Context, id primitive.ObjectID, paidAt time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "paid": true, "payment_date": paidAt},
		bson.M{
			"$set":   bson.M{"paid": false},
			"$unset": bson.M{"payment_method": "", "payment_date": "", "processed_by": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to revert paid flag on %s: %w", id.Hex(), err)
	}
	return nil
}

// MarkStockReserved records that the credit sale's stock has been decremented.
func (r *CreditSaleRepository) MarkStockReserved(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	return r.set(ctx, id, bson.M{"stock_reserved": true, "updated_at": at})
}

// LinkSale stores the id of the companion sale produced by the payment.
func (r *CreditSaleRepository) LinkSale(ctx context.Context, id primitive.ObjectID, saleID primitive.ObjectID, at time.Time) error {
	return r.set(ctx, id, bson.M{"sale_id": saleID, "updated_at": at})
}

func (r *CreditSaleRepository) set(ctx context.Context, id primitive.ObjectID, fields bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update credit sale %s: %w", id.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}
