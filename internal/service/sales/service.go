// Package sales orchestrates sale and credit-sale transactions. A record never ends up
// confirmed without its stock decrement: rows are inserted pending, the stock is reserved
// with a conditional update, and the row is confirmed or compensated depending on the outcome.
package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/metrics"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/service/stock"
	"github.com/mamadbah2/lounge/internal/service/valuation"
)

const compensationTimeout = 5 * time.Second

var (
	// ErrCreditNotAllowed rejects credit through the plain sale path.
	ErrCreditNotAllowed = errors.New("credit sales must use the credit sale flow")
	// ErrInvalidSale wraps validation failures of sale inputs.
	ErrInvalidSale = errors.New("invalid sale")
	// ErrAlreadyPaid is returned when a credit sale has already been converted.
	ErrAlreadyPaid = errors.New("credit sale already paid")
	// ErrCreditSaleNotFound is returned when no credit sale has the given id.
	ErrCreditSaleNotFound = errors.New("credit sale not found")
	// ErrCreditSalePending is returned when paying a credit sale whose reservation is unsettled.
	ErrCreditSalePending = errors.New("credit sale stock not confirmed yet")
	// ErrDuplicateTransaction is returned when the transaction reference was used before.
	ErrDuplicateTransaction = errors.New("transaction reference already used")

	errReservationUnknown = errors.New("reservation outcome unknown")
)

// StockOperator is the part of the stock service the orchestrator drives.
type StockOperator interface {
	Resolve(ctx context.Context, identifier string) (*models.StockItem, error)
	Reserve(ctx context.Context, id primitive.ObjectID, qty int64, key, actor string) (*models.StockItem, error)
	CancelReservation(ctx context.Context, id primitive.ObjectID, key string) (*models.StockItem, bool, error)
	ReleaseReservation(ctx context.Context, id primitive.ObjectID, key string) error
	CheckValuation(ctx context.Context, item models.StockItem) (*models.StockItem, error)
}

// SettlementQueue schedules a later settlement of a pending transaction.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context, transactionRef string) error
}

// SaleInput is a cash or mobile transfer sale.
type SaleInput struct {
	Item             string             `json:"item" validate:"required"`
	Quantity         int64              `json:"quantity" validate:"gte=1"`
	PaymentMode      models.PaymentMode `json:"payment_mode" validate:"required,oneof=cash credit mobile_transfer"`
	UnitSellingPrice *float64           `json:"unit_selling_price,omitempty" validate:"omitempty,gte=0"`
	Discount         float64            `json:"discount" validate:"gte=0"`
	Tax              float64            `json:"tax" validate:"gte=0"`
	TransactionRef   string             `json:"transaction_ref" validate:"max=64"`
	Notes            string             `json:"notes" validate:"max=500"`
	SoldBy           string             `json:"-"`
}

// CreditSaleInput is a sale on credit for a customer identified by mobile number.
type CreditSaleInput struct {
	Item             string   `json:"item" validate:"required"`
	Quantity         int64    `json:"quantity" validate:"gte=1"`
	UnitSellingPrice *float64 `json:"unit_selling_price,omitempty" validate:"omitempty,gte=0"`
	Discount         float64  `json:"discount" validate:"gte=0"`
	Tax              float64  `json:"tax" validate:"gte=0"`
	CustomerMobile   string   `json:"customer_mobile" validate:"required,max=32"`
	CustomerName     string   `json:"customer_name" validate:"required,max=128"`
	TransactionRef   string   `json:"transaction_ref" validate:"max=64"`
	SoldBy           string   `json:"-"`
}

// PaymentInput settles a credit sale.
type PaymentInput struct {
	CreditSaleID string             `json:"-" validate:"required"`
	Method       models.PaymentMode `json:"payment_method" validate:"required,oneof=cash mobile_transfer"`
	PaidAt       time.Time          `json:"payment_date"`
	ProcessedBy  string             `json:"-"`
}

// SaleReceipt is returned by CreateSale. Degraded is set when the sale committed but a
// follow-up step (confirmation or valuation check) did not complete cleanly.
type SaleReceipt struct {
	Sale     models.SaleRecord `json:"sale"`
	Stock    models.StockItem  `json:"stock"`
	Degraded bool              `json:"degraded"`
}

// CreditSaleReceipt is returned by CreateCreditSale.
type CreditSaleReceipt struct {
	CreditSale models.CreditSaleRecord `json:"credit_sale"`
	Stock      models.StockItem        `json:"stock"`
	Degraded   bool                    `json:"degraded"`
}

// CreditPayment is returned by MarkCreditSalePaid.
type CreditPayment struct {
	CreditSale models.CreditSaleRecord `json:"credit_sale"`
	Sale       models.SaleRecord       `json:"sale"`
}

// Service is the transaction orchestrator.
type Service struct {
	stock       StockOperator
	sales       repository.SaleStore
	credits     repository.CreditSaleStore
	customers   repository.CustomerDirectory
	attachments repository.AttachmentLinker
	queue       SettlementQueue
	metrics     *metrics.Metrics
	validate    *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
	newRef      func(prefix string) string
}

// Option customises a Service.
type Option func(*Service)

// WithSettlementQueue hands failed compensations to a retrying queue.
func WithSettlementQueue(queue SettlementQueue) Option {
	return func(s *Service) { s.queue = queue }
}

// WithMetrics reports compensations and settlements to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the orchestrator. attachments may be nil.
func NewService(stockOps StockOperator, sales repository.SaleStore, credits repository.CreditSaleStore, customers repository.CustomerDirectory, attachments repository.AttachmentLinker, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		stock:       stockOps,
		sales:       sales,
		credits:     credits,
		customers:   customers,
		attachments: attachments,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
		newRef: func(prefix string) string {
			return prefix + "-" + strings.ToUpper(uuid.NewString())
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateSale records a cash or mobile transfer sale backed by a verified stock decrement.
func (s *Service) CreateSale(ctx context.Context, in SaleInput) (*SaleReceipt, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSale, err)
	}
	if strings.HasSuffix(in.TransactionRef, models.PaymentRefSuffix) {
		return nil, fmt.Errorf("%w: transaction_ref suffix %s is kept for credit payments", ErrInvalidSale, models.PaymentRefSuffix)
	}

	item, err := s.stock.Resolve(ctx, in.Item)
	if err != nil {
		return nil, err
	}
	if in.PaymentMode == models.PaymentCredit {
		return nil, ErrCreditNotAllowed
	}
	if in.Quantity > item.QuantityOnHand {
		s.metrics.ObserveReservation(metrics.ReservationInsufficient)
		return nil, stock.ErrInsufficientStock
	}

	unitPrice := item.SellingPrice
	if in.UnitSellingPrice != nil {
		unitPrice = *in.UnitSellingPrice
	}
	if err := checkAmounts(in.Quantity, unitPrice, in.Discount); err != nil {
		return nil, err
	}

	now := s.timestamp()
	ref := in.TransactionRef
	if ref == "" {
		ref = s.newRef("SAL")
	}
	paymentDate := now
	pending, err := s.sales.Insert(ctx, models.SaleRecord{
		TransactionRef:   ref,
		ItemID:           item.ID,
		ItemCode:         item.Code,
		ItemName:         item.Name,
		Quantity:         in.Quantity,
		UnitSellingPrice: unitPrice,
		UnitCostPrice:    item.CostPrice,
		Discount:         in.Discount,
		Tax:              in.Tax,
		TotalAmount:      valuation.SaleTotal(in.Quantity, unitPrice, in.Discount, in.Tax),
		PaymentMode:      in.PaymentMode,
		Paid:             true,
		PaymentDate:      &paymentDate,
		Status:           models.StatusPending,
		SoldBy:           in.SoldBy,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, ref)
		}
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}

	key := pending.ReservationKey()
	reserved, err := s.reserve(ctx, item.ID, in.Quantity, key, in.SoldBy)
	if err != nil {
		s.abort(ctx, ref, err, s.sales.DeletePending)
		return nil, err
	}

	receipt := &SaleReceipt{Sale: *pending, Stock: *reserved}
	if err := s.sales.Confirm(ctx, ref, now); err != nil {
		s.logger.Error("failed to confirm sale after reservation", zap.String("transaction_ref", ref), zap.Error(err))
		s.enqueueSettlement(ctx, ref)
		receipt.Degraded = true
	} else {
		receipt.Sale.Status = models.StatusConfirmed
		receipt.Sale.StockReserved = true
		s.release(ctx, item.ID, key)
	}

	if checked, err := s.stock.CheckValuation(ctx, *reserved); err != nil {
		receipt.Degraded = true
		receipt.Stock = *checked
	}

	s.linkAttachments(ctx, ref, pending.ID.Hex(), models.EntitySale)
	s.logger.Info("sale recorded",
		zap.String("transaction_ref", ref),
		zap.String("item_code", item.Code),
		zap.Int64("quantity", in.Quantity),
		zap.Float64("total", receipt.Sale.TotalAmount),
		zap.String("payment_mode", string(in.PaymentMode)))
	return receipt, nil
}

// CreateCreditSale records a receivable and reserves its stock immediately.
func (s *Service) CreateCreditSale(ctx context.Context, in CreditSaleInput) (*CreditSaleReceipt, error) {
	in.CustomerMobile = strings.TrimSpace(in.CustomerMobile)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSale, err)
	}

	item, err := s.stock.Resolve(ctx, in.Item)
	if err != nil {
		return nil, err
	}
	if in.Quantity > item.QuantityOnHand {
		s.metrics.ObserveReservation(metrics.ReservationInsufficient)
		return nil, stock.ErrInsufficientStock
	}
	unitPrice := item.SellingPrice
	if in.UnitSellingPrice != nil {
		unitPrice = *in.UnitSellingPrice
	}
	if err := checkAmounts(in.Quantity, unitPrice, in.Discount); err != nil {
		return nil, err
	}

	customer, err := s.customers.FindOrCreateCustomer(ctx, in.CustomerMobile, in.CustomerName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer: %w", err)
	}

	now := s.timestamp()
	ref := in.TransactionRef
	if ref == "" {
		ref = s.newRef("CRS")
	}
	pending, err := s.credits.Insert(ctx, models.CreditSaleRecord{
		TransactionRef:   ref,
		CustomerID:       customer.ID,
		CustomerName:     customer.Name,
		CustomerMobile:   customer.Mobile,
		ItemID:           item.ID,
		ItemCode:         item.Code,
		ItemName:         item.Name,
		Quantity:         in.Quantity,
		UnitSellingPrice: unitPrice,
		UnitCostPrice:    item.CostPrice,
		Discount:         in.Discount,
		Tax:              in.Tax,
		TotalAmount:      valuation.SaleTotal(in.Quantity, unitPrice, in.Discount, in.Tax),
		Status:           models.StatusPending,
		SoldBy:           in.SoldBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, ref)
		}
		return nil, fmt.Errorf("failed to record credit sale: %w", err)
	}

	key := pending.ReservationKey()
	reserved, err := s.reserve(ctx, item.ID, in.Quantity, key, in.SoldBy)
	if err != nil {
		s.abort(ctx, ref, err, s.credits.DeletePending)
		return nil, err
	}

	receipt := &CreditSaleReceipt{CreditSale: *pending, Stock: *reserved}
	if err := s.credits.Confirm(ctx, ref, now); err != nil {
		s.logger.Error("failed to confirm credit sale after reservation", zap.String("transaction_ref", ref), zap.Error(err))
		s.enqueueSettlement(ctx, ref)
		receipt.Degraded = true
	} else {
		receipt.CreditSale.Status = models.StatusConfirmed
		receipt.CreditSale.StockReserved = true
		s.release(ctx, item.ID, key)
	}

	if checked, err := s.stock.CheckValuation(ctx, *reserved); err != nil {
		receipt.Degraded = true
		receipt.Stock = *checked
	}

	s.linkAttachments(ctx, ref, pending.ID.Hex(), models.EntityCreditSale)
	s.logger.Info("credit sale recorded",
		zap.String("transaction_ref", ref),
		zap.String("customer_mobile", customer.Mobile),
		zap.String("item_code", item.Code),
		zap.Int64("quantity", in.Quantity))
	return receipt, nil
}

// MarkCreditSalePaid converts a credit sale into a paid sale. The stock was reserved when the
// credit sale was created, so the companion sale record is bookkeeping only; legacy credit
// sales without a reservation get their one and only reservation here.
func (s *Service) MarkCreditSalePaid(ctx context.Context, in PaymentInput) (*CreditPayment, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSale, err)
	}
	id, err := primitive.ObjectIDFromHex(in.CreditSaleID)
	if err != nil {
		return nil, ErrCreditSaleNotFound
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	paidAt = paidAt.UTC().Truncate(time.Millisecond)

	credit, err := s.credits.MarkPaid(ctx, id, in.Method, paidAt, in.ProcessedBy)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, s.explainUnpayable(ctx, id)
		}
		return nil, fmt.Errorf("failed to mark credit sale paid: %w", err)
	}

	now := s.timestamp()
	ref := credit.PaymentRef()
	creditID := credit.ID
	companion := models.SaleRecord{
		TransactionRef:   ref,
		ItemID:           credit.ItemID,
		ItemCode:         credit.ItemCode,
		ItemName:         credit.ItemName,
		Quantity:         credit.Quantity,
		UnitSellingPrice: credit.UnitSellingPrice,
		UnitCostPrice:    credit.UnitCostPrice,
		Discount:         credit.Discount,
		Tax:              credit.Tax,
		TotalAmount:      credit.TotalAmount,
		PaymentMode:      in.Method,
		Paid:             true,
		PaymentDate:      &paidAt,
		Status:           models.StatusConfirmed,
		StockReserved:    credit.StockReserved,
		CreditSaleID:     &creditID,
		SoldBy:           credit.SoldBy,
		Notes:            "payment of credit sale " + credit.TransactionRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if !credit.StockReserved {
		companion.Status = models.StatusPending
	}

	sale, err := s.sales.Insert(ctx, companion)
	if err != nil {
		s.revertPaid(ctx, credit.ID, paidAt)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, ref)
		}
		return nil, fmt.Errorf("failed to record credit payment: %w", err)
	}

	if !credit.StockReserved {
		if err := s.reserveLegacyCredit(ctx, *credit, *sale, paidAt, in.ProcessedBy); err != nil {
			return nil, err
		}
		sale.Status = models.StatusConfirmed
		sale.StockReserved = true
		credit.StockReserved = true
	}

	if err := s.credits.LinkSale(ctx, credit.ID, sale.ID, now); err != nil {
		s.logger.Warn("failed to link companion sale", zap.String("credit_sale_id", credit.ID.Hex()), zap.Error(err))
	} else {
		saleID := sale.ID
		credit.SaleID = &saleID
	}

	s.linkAttachments(ctx, ref, sale.ID.Hex(), models.EntitySale)
	s.logger.Info("credit sale paid",
		zap.String("credit_sale_id", credit.ID.Hex()),
		zap.String("transaction_ref", ref),
		zap.String("method", string(in.Method)))
	return &CreditPayment{CreditSale: *credit, Sale: *sale}, nil
}

// reserveLegacyCredit performs the missing reservation of a credit sale created before stock
// was reserved at creation. On failure the payment is rolled back.
func (s *Service) reserveLegacyCredit(ctx context.Context, credit models.CreditSaleRecord, sale models.SaleRecord, paidAt time.Time, actor string) error {
	key := sale.ReservationKey()
	if _, err := s.reserve(ctx, credit.ItemID, credit.Quantity, key, actor); err != nil {
		if errors.Is(err, errReservationUnknown) {
			// settlement decides once the outcome is observable
			s.enqueueSettlement(ctx, sale.TransactionRef)
			return err
		}
		s.abort(ctx, sale.TransactionRef, err, s.sales.DeletePending)
		s.revertPaid(ctx, credit.ID, paidAt)
		return err
	}

	now := s.timestamp()
	if err := s.sales.Confirm(ctx, sale.TransactionRef, now); err != nil {
		s.logger.Error("failed to confirm credit payment after reservation", zap.String("transaction_ref", sale.TransactionRef), zap.Error(err))
		s.enqueueSettlement(ctx, sale.TransactionRef)
	} else {
		s.release(ctx, credit.ItemID, key)
	}
	if err := s.credits.MarkStockReserved(ctx, credit.ID, now); err != nil {
		s.logger.Error("failed to flag credit sale stock as reserved", zap.String("credit_sale_id", credit.ID.Hex()), zap.Error(err))
	}
	return nil
}

func (s *Service) explainUnpayable(ctx context.Context, id primitive.ObjectID) error {
	existing, err := s.credits.FindByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrCreditSaleNotFound
	case err != nil:
		return fmt.Errorf("failed to load credit sale: %w", err)
	case existing.Paid:
		return ErrAlreadyPaid
	default:
		return ErrCreditSalePending
	}
}

// reserve calls the stock operator and, on a transport failure, settles whether the decrement
// landed: either it was applied, or the key is tombstoned so a late arrival cannot apply.
func (s *Service) reserve(ctx context.Context, itemID primitive.ObjectID, qty int64, key, actor string) (*models.StockItem, error) {
	item, err := s.stock.Reserve(ctx, itemID, qty, key, actor)
	if err == nil {
		return item, nil
	}
	if errors.Is(err, stock.ErrInsufficientStock) || errors.Is(err, stock.ErrInvalidQuantity) || errors.Is(err, stock.ErrReservationCancelled) {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	current, applied, cancelErr := s.stock.CancelReservation(cctx, itemID, key)
	switch {
	case cancelErr != nil:
		s.logger.Error("reservation outcome unknown", zap.String("reservation_key", key), zap.NamedError("reserve_error", err), zap.NamedError("cancel_error", cancelErr))
		return nil, fmt.Errorf("%w: %v", errReservationUnknown, err)
	case applied:
		s.logger.Warn("reservation applied despite error", zap.String("reservation_key", key), zap.Error(err))
		return current, nil
	default:
		return nil, err
	}
}

// release drops the applied marker of a confirmed row. A leftover marker only costs space.
func (s *Service) release(ctx context.Context, itemID primitive.ObjectID, key string) {
	if err := s.stock.ReleaseReservation(context.WithoutCancel(ctx), itemID, key); err != nil {
		s.logger.Warn("failed to release reservation marker", zap.String("reservation_key", key), zap.Error(err))
	}
}

// abort compensates a pending row whose reservation failed. The row is kept when the
// reservation outcome is unknown; settlement resolves it later.
func (s *Service) abort(ctx context.Context, ref string, cause error, deletePending func(context.Context, string) (bool, error)) {
	if errors.Is(cause, errReservationUnknown) {
		s.enqueueSettlement(ctx, ref)
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if _, err := deletePending(cctx, ref); err != nil {
		s.metrics.ObserveCompensation(metrics.CompensationFailed)
		s.logger.Error("compensation failed, manual reconciliation required",
			zap.String("transaction_ref", ref),
			zap.NamedError("cause", cause),
			zap.Error(err))
		s.enqueueSettlement(ctx, ref)
		return
	}
	s.metrics.ObserveCompensation(metrics.CompensationDeleted)
	s.logger.Info("pending record compensated", zap.String("transaction_ref", ref), zap.NamedError("cause", cause))
}

func (s *Service) revertPaid(ctx context.Context, creditID primitive.ObjectID, paidAt time.Time) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if err := s.credits.RevertPaid(cctx, creditID, paidAt); err != nil {
		s.metrics.ObserveCompensation(metrics.CompensationFailed)
		s.logger.Error("failed to revert paid flag, manual reconciliation required",
			zap.String("credit_sale_id", creditID.Hex()),
			zap.Time("paid_at", paidAt),
			zap.Error(err))
		return
	}
	s.metrics.ObserveCompensation(metrics.CompensationReverted)
}

func (s *Service) enqueueSettlement(ctx context.Context, ref string) {
	if s.queue == nil {
		s.logger.Warn("no settlement queue, pending record left for the sweep", zap.String("transaction_ref", ref))
		return
	}
	if err := s.queue.EnqueueSettlement(context.WithoutCancel(ctx), ref); err != nil {
		s.logger.Error("failed to enqueue settlement", zap.String("transaction_ref", ref), zap.Error(err))
		return
	}
	s.metrics.ObserveCompensation(metrics.CompensationEnqueued)
}

func (s *Service) linkAttachments(ctx context.Context, ref, entityID, entityType string) {
	if s.attachments == nil {
		return
	}
	if err := s.attachments.LinkAttachments(ctx, ref, entityID, entityType); err != nil {
		s.logger.Warn("failed to link attachments",
			zap.String("transaction_ref", ref),
			zap.String("entity_type", entityType),
			zap.Error(err))
	}
}

func checkAmounts(qty int64, unitPrice, discount float64) error {
	if discount > valuation.Subtotal(qty, unitPrice) {
		return fmt.Errorf("%w: discount exceeds subtotal", ErrInvalidSale)
	}
	return nil
}
