package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentMode enumerates how a sale is settled.
type PaymentMode string

const (
	PaymentCash           PaymentMode = "cash"
	PaymentCredit         PaymentMode = "credit"
	PaymentMobileTransfer PaymentMode = "mobile_transfer"
)

// Valid reports whether the mode is one of the supported values.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentCredit, PaymentMobileTransfer:
		return true
	default:
		return false
	}
}

// RecordStatus tracks whether the stock backing a record has been confirmed.
type RecordStatus string

const (
	// StatusPending rows exist before their reservation is confirmed.
	StatusPending RecordStatus = "pending"
	// StatusConfirmed rows are backed by an applied stock decrement.
	StatusConfirmed RecordStatus = "confirmed"
)

// SaleRecord captures a settled sale. Unit prices are snapshots taken at sale time.
type SaleRecord struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	TransactionRef   string              `bson:"transaction_ref" json:"transaction_ref"`
	ItemID           primitive.ObjectID  `bson:"item_id" json:"item_id"`
	ItemCode         string              `bson:"item_code" json:"item_code"`
	ItemName         string              `bson:"item_name" json:"item_name"`
	Quantity         int64               `bson:"quantity" json:"quantity"`
	UnitSellingPrice float64             `bson:"unit_selling_price" json:"unit_selling_price"`
	UnitCostPrice    float64             `bson:"unit_cost_price" json:"unit_cost_price"`
	Discount         float64             `bson:"discount" json:"discount"`
	Tax              float64             `bson:"tax" json:"tax"`
	TotalAmount      float64             `bson:"total_amount" json:"total_amount"`
	PaymentMode      PaymentMode         `bson:"payment_mode" json:"payment_mode"`
	Paid             bool                `bson:"paid" json:"paid"`
	PaymentDate      *time.Time          `bson:"payment_date,omitempty" json:"payment_date,omitempty"`
	Status           RecordStatus        `bson:"status" json:"status"`
	StockReserved    bool                `bson:"stock_reserved" json:"stock_reserved"`
	CreditSaleID     *primitive.ObjectID `bson:"credit_sale_id,omitempty" json:"credit_sale_id,omitempty"`
	SoldBy           string              `bson:"sold_by" json:"sold_by"`
	Notes            string              `bson:"notes,omitempty" json:"notes,omitempty"`
	CreatedAt        time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `bson:"updated_at" json:"updated_at"`
}

// ReservationKey names the stock decrement owned by this sale.
func (s SaleRecord) ReservationKey() string {
	return "sale:" + s.TransactionRef
}
