package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CreditSaleRecord is a receivable. Stock is reserved when it is created;
// paying it later only produces a bookkeeping SaleRecord.
type CreditSaleRecord struct {
	ID               primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	TransactionRef   string              `bson:"transaction_ref" json:"transaction_ref"`
	CustomerID       primitive.ObjectID  `bson:"customer_id" json:"customer_id"`
	CustomerName     string              `bson:"customer_name" json:"customer_name"`
	CustomerMobile   string              `bson:"customer_mobile" json:"customer_mobile"`
	ItemID           primitive.ObjectID  `bson:"item_id" json:"item_id"`
	ItemCode         string              `bson:"item_code" json:"item_code"`
	ItemName         string              `bson:"item_name" json:"item_name"`
	Quantity         int64               `bson:"quantity" json:"quantity"`
	UnitSellingPrice float64             `bson:"unit_selling_price" json:"unit_selling_price"`
	UnitCostPrice    float64             `bson:"unit_cost_price" json:"unit_cost_price"`
	Discount         float64             `bson:"discount" json:"discount"`
	Tax              float64             `bson:"tax" json:"tax"`
	TotalAmount      float64             `bson:"total_amount" json:"total_amount"`
	Status           RecordStatus        `bson:"status" json:"status"`
	StockReserved    bool                `bson:"stock_reserved" json:"stock_reserved"`
	Paid             bool                `bson:"paid" json:"paid"`
	PaymentMethod    PaymentMode         `bson:"payment_method,omitempty" json:"payment_method,omitempty"`
	PaymentDate      *time.Time          `bson:"payment_date,omitempty" json:"payment_date,omitempty"`
	SaleID           *primitive.ObjectID `bson:"sale_id,omitempty" json:"sale_id,omitempty"`
	SoldBy           string              `bson:"sold_by" json:"sold_by"`
	ProcessedBy      string              `bson:"processed_by,omitempty" json:"processed_by,omitempty"`
	CreatedAt        time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time           `bson:"updated_at" json:"updated_at"`
}

// PaymentRefSuffix is appended to a credit sale reference to name its payment companion sale.
const PaymentRefSuffix = "-PAY"

// PaymentRef is the transaction reference of the companion sale produced when the credit sale is paid.
func (c CreditSaleRecord) PaymentRef() string {
	return c.TransactionRef + PaymentRefSuffix
}

// ReservationKey names the stock decrement owned by this credit sale. Sales and credit sales
// are unique per collection only, so the key carries the collection.
func (c CreditSaleRecord) ReservationKey() string {
	return "credit:" + c.TransactionRef
}

// Customer is a credit customer keyed by mobile number.
type Customer struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Mobile    string             `bson:"mobile" json:"mobile"`
	Name      string             `bson:"name" json:"name"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Attachment is an uploaded document tagged with a transaction reference.
type Attachment struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TransactionRef string             `bson:"transaction_ref" json:"transaction_ref"`
	EntityID       string             `bson:"entity_id,omitempty" json:"entity_id,omitempty"`
	EntityType     string             `bson:"entity_type,omitempty" json:"entity_type,omitempty"`
	FileName       string             `bson:"file_name" json:"file_name"`
	LinkedAt       *time.Time         `bson:"linked_at,omitempty" json:"linked_at,omitempty"`
}

// Attachment entity types.
const (
	EntityStock      = "stock"
	EntitySale       = "sale"
	EntityCreditSale = "credit_sale"
)
