package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StockItem is the single source of truth for quantity and valuation of one item.
type StockItem struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code            string             `bson:"code" json:"code"`
	Name            string             `bson:"name" json:"name"`
	QuantityOnHand  int64              `bson:"quantity_on_hand" json:"quantity_on_hand"`
	CostPrice       float64            `bson:"cost_price" json:"cost_price"`
	SellingPrice    float64            `bson:"selling_price" json:"selling_price"`
	StockValue      float64            `bson:"stock_value" json:"stock_value"`
	ProjectedProfit float64            `bson:"projected_profit" json:"projected_profit"`
	ReservationRefs []string           `bson:"reservation_refs,omitempty" json:"-"`
	CancelledRefs   []string           `bson:"cancelled_refs,omitempty" json:"-"`
	Deleted         bool               `bson:"deleted" json:"deleted"`
	DeletedAt       *time.Time         `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	LastMutationAt  time.Time          `bson:"last_mutation_at" json:"last_mutation_at"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
}

// HasReservation reports whether the decrement for key was applied and not yet released.
func (s StockItem) HasReservation(key string) bool {
	return contains(s.ReservationRefs, key)
}

// IsCancelled reports whether key was tombstoned so a late decrement for it can never apply.
func (s StockItem) IsCancelled(key string) bool {
	return contains(s.CancelledRefs, key)
}

func contains(refs []string, key string) bool {
	for _, r := range refs {
		if r == key {
			return true
		}
	}
	return false
}

// StockOverrides carries manual corrections applied by the direct-set path.
// Nil fields keep their current value.
type StockOverrides struct {
	QuantityOnHand *int64   `json:"quantity_on_hand,omitempty"`
	CostPrice      *float64 `json:"cost_price,omitempty"`
	SellingPrice   *float64 `json:"selling_price,omitempty"`
}

// Empty reports whether no override is set.
func (o StockOverrides) Empty() bool {
	return o.QuantityOnHand == nil && o.CostPrice == nil && o.SellingPrice == nil
}

// Delivery is an incoming quantity applied with weighted-average pricing.
type Delivery struct {
	Quantity         int64
	UnitCost         float64
	UnitSellingPrice float64
	EffectiveDate    time.Time
}

// MovementKind enumerates stock movement journal entries.
type MovementKind string

const (
	MovementRestock    MovementKind = "restock"
	MovementSale       MovementKind = "sale"
	MovementAdjustment MovementKind = "adjustment"
)

// StockMovement is a journal line written after a successful stock mutation.
type StockMovement struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ItemID           primitive.ObjectID `bson:"item_id" json:"item_id"`
	ItemCode         string             `bson:"item_code" json:"item_code"`
	Kind             MovementKind       `bson:"kind" json:"kind"`
	Quantity         int64              `bson:"quantity" json:"quantity"`
	UnitCost         float64            `bson:"unit_cost" json:"unit_cost"`
	UnitSellingPrice float64            `bson:"unit_selling_price" json:"unit_selling_price"`
	BalanceQty       int64              `bson:"balance_qty" json:"balance_qty"`
	BalanceCost      float64            `bson:"balance_cost" json:"balance_cost"`
	TransactionRef   string             `bson:"transaction_ref,omitempty" json:"transaction_ref,omitempty"`
	Actor            string             `bson:"actor,omitempty" json:"actor,omitempty"`
	At               time.Time          `bson:"at" json:"at"`
}
