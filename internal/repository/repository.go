// Package repository declares the storage ports used by the stock and sales services.
// Every stock mutation is a single conditional update evaluated by the store itself.
package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mamadbah2/lounge/internal/domain/models"
)

var (
	// ErrNotFound indicates the document does not exist (or is soft-deleted).
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates the conditional decrement matched no document.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate indicates a unique key clash.
	ErrDuplicate = errors.New("duplicate key")
	// ErrReservationCancelled indicates the key was tombstoned before the decrement could apply.
	ErrReservationCancelled = errors.New("reservation cancelled")
	// ErrConflict indicates the pre-image changed between read and conditional write.
	ErrConflict = errors.New("concurrent modification")
)

// StockValues are the writable primary fields of a stock item; derived fields follow from them.
type StockValues struct {
	QuantityOnHand int64
	CostPrice      float64
	SellingPrice   float64
}

// StockStore persists stock items.
type StockStore interface {
	Create(ctx context.Context, item models.StockItem) (*models.StockItem, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.StockItem, error)
	FindByCode(ctx context.Context, code string) (*models.StockItem, error)
	FindByName(ctx context.Context, name string) (*models.StockItem, error)
	List(ctx context.Context) ([]models.StockItem, error)
	// Restock atomically applies a delivery with weighted-average pricing.
	Restock(ctx context.Context, id primitive.ObjectID, delivery models.Delivery, at time.Time) (*models.StockItem, error)
	// Reserve atomically decrements quantity when at least qty is on hand and records key as
	// applied. A key that was already applied returns the current item with applied=false.
	// A cancelled key yields ErrReservationCancelled.
	Reserve(ctx context.Context, id primitive.ObjectID, qty int64, key string, at time.Time) (item *models.StockItem, applied bool, err error)
	// CancelReservation tombstones key unless its decrement was already applied, in one
	// conditional write. applied reports which of the two happened.
	CancelReservation(ctx context.Context, id primitive.ObjectID, key string) (item *models.StockItem, applied bool, err error)
	// ReleaseReservation forgets an applied key once the owning row no longer needs it.
	ReleaseReservation(ctx context.Context, id primitive.ObjectID, key string) error
	// ReplaceIfUnchanged writes next (plus derived fields) only if the item still matches pre.
	ReplaceIfUnchanged(ctx context.Context, id primitive.ObjectID, pre, next StockValues, at time.Time) (*models.StockItem, error)
	SoftDelete(ctx context.Context, id primitive.ObjectID, at time.Time) error
}

// SaleStore persists sale records.
type SaleStore interface {
	Insert(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error)
	FindByRef(ctx context.Context, ref string) (*models.SaleRecord, error)
	// Confirm flips a pending row to confirmed. Confirming a confirmed row is a no-op.
	Confirm(ctx context.Context, ref string, at time.Time) error
	// DeletePending removes a pending row; it reports whether a row was removed.
	DeletePending(ctx context.Context, ref string) (bool, error)
	ListPending(ctx context.Context, createdBefore time.Time) ([]models.SaleRecord, error)
}

// CreditSaleStore persists credit sales.
type CreditSaleStore interface {
	Insert(ctx context.Context, sale models.CreditSaleRecord) (*models.CreditSaleRecord, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.CreditSaleRecord, error)
	FindByRef(ctx context.Context, ref string) (*models.CreditSaleRecord, error)
	Confirm(ctx context.Context, ref string, at time.Time) error
	DeletePending(ctx context.Context, ref string) (bool, error)
	ListPending(ctx context.Context, createdBefore time.Time) ([]models.CreditSaleRecord, error)
	// MarkPaid sets the paid flag on a confirmed, unpaid record. No match yields ErrNotFound.
	MarkPaid(ctx context.Context, id primitive.ObjectID, method models.PaymentMode, paidAt time.Time, processedBy string) (*models.CreditSaleRecord, error)
	// RevertPaid clears the paid flag set at paidAt. Reverting twice is a no-op.
	RevertPaid(ctx context.Context, id primitive.ObjectID, paidAt time.Time) error
	MarkStockReserved(ctx context.Context, id primitive.ObjectID, at time.Time) error
	LinkSale(ctx context.Context, id primitive.ObjectID, saleID primitive.ObjectID, at time.Time) error
}

// CustomerDirectory resolves credit customers.
type CustomerDirectory interface {
	FindOrCreateCustomer(ctx context.Context, mobile, name string) (*models.Customer, error)
}

// AttachmentLinker attaches uploaded documents to the entity created for a transaction.
// Implementations must be idempotent.
type AttachmentLinker interface {
	LinkAttachments(ctx context.Context, transactionRef, entityID, entityType string) error
}

// MovementRecorder appends stock movement journal lines.
type MovementRecorder interface {
	Record(ctx context.Context, movement models.StockMovement) error
}

// MovementStore records and lists movements.
type MovementStore interface {
	MovementRecorder
	ListByItem(ctx context.Context, itemID primitive.ObjectID, limit int) ([]models.StockMovement, error)
}
