package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/metrics"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/service/valuation"
)

const maxDirectSetAttempts = 3

var (
	// ErrItemNotFound is returned when an identifier resolves to no live stock item.
	ErrItemNotFound = errors.New("stock item not found")
	// ErrInsufficientStock is returned when a reservation cannot be covered by the quantity on hand.
	ErrInsufficientStock = repository.ErrInsufficientStock
	// ErrReservationCancelled is returned when the reservation key was tombstoned by a compensation.
	ErrReservationCancelled = repository.ErrReservationCancelled
	// ErrInvalidQuantity rejects non-positive deliveries and negative overrides.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidPrice rejects negative prices.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrInvalidInput wraps validator failures.
	ErrInvalidInput = errors.New("invalid stock input")
	// ErrNothingToApply is returned by ApplyUpdate when neither a delivery nor an override is given.
	ErrNothingToApply = errors.New("nothing to apply")
	// ErrDuplicateItem is returned when the code or name is already taken.
	ErrDuplicateItem = errors.New("stock item already exists")
	// ErrConflict is returned when direct-set keeps losing against concurrent mutations.
	ErrConflict = errors.New("stock item changed concurrently")
	// ErrInconsistent flags derived valuation fields that do not match quantity and prices.
	ErrInconsistent = errors.New("stock valuation inconsistent")
)

// NewItemInput describes the first delivery of an item.
type NewItemInput struct {
	Code           string  `json:"code" validate:"required,max=64"`
	Name           string  `json:"name" validate:"required,max=128"`
	Quantity       int64   `json:"quantity" validate:"gte=0"`
	CostPrice      float64 `json:"cost_price" validate:"gte=0"`
	SellingPrice   float64 `json:"selling_price" validate:"gte=0"`
	TransactionRef string  `json:"transaction_ref"`
	Actor          string  `json:"-"`
}

// RestockInput is a delivery against an existing item.
type RestockInput struct {
	Item             string    `json:"-"`
	Quantity         int64     `json:"quantity"`
	UnitCost         float64   `json:"unit_cost"`
	UnitSellingPrice float64   `json:"unit_selling_price"`
	EffectiveDate    time.Time `json:"effective_date"`
	TransactionRef   string    `json:"transaction_ref"`
	Actor            string    `json:"-"`
}

// StockUpdate is what the update endpoint accepts: a delivery, or manual overrides.
type StockUpdate struct {
	Quantity         int64                 `json:"quantity"`
	UnitCost         float64               `json:"unit_cost"`
	UnitSellingPrice float64               `json:"unit_selling_price"`
	EffectiveDate    time.Time             `json:"effective_date"`
	TransactionRef   string                `json:"transaction_ref"`
	Overrides        models.StockOverrides `json:"overrides"`
	Actor            string                `json:"-"`
}

// Service owns every mutation of stock items.
type Service struct {
	items       repository.StockStore
	attachments repository.AttachmentLinker
	movements   repository.MovementStore
	mirrors     []repository.MovementRecorder
	metrics     *metrics.Metrics
	validate    *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics reports restocks, reservations and repairs to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMovementMirror appends every movement to an extra journal, such as a spreadsheet.
func WithMovementMirror(recorder repository.MovementRecorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.mirrors = append(s.mirrors, recorder)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the stock service. attachments and movements may be nil.
func NewService(items repository.StockStore, attachments repository.AttachmentLinker, movements repository.MovementStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		items:       items,
		attachments: attachments,
		movements:   movements,
		validate:    validator.New(),
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp truncates to milliseconds, the precision MongoDB keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// CreateItem registers a new item from its first delivery.
func (s *Service) CreateItem(ctx context.Context, in NewItemInput) (*models.StockItem, error) {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	at := s.timestamp()
	item, err := s.items.Create(ctx, models.StockItem{
		Code:           in.Code,
		Name:           in.Name,
		QuantityOnHand: in.Quantity,
		CostPrice:      in.CostPrice,
		SellingPrice:   in.SellingPrice,
		LastMutationAt: at,
		CreatedAt:      at,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, in.Code)
		}
		return nil, fmt.Errorf("failed to create stock item: %w", err)
	}

	s.linkAttachments(ctx, in.TransactionRef, item.ID.Hex())
	if in.Quantity > 0 {
		s.record(ctx, *item, models.MovementRestock, in.Quantity, in.CostPrice, in.SellingPrice, in.TransactionRef, in.Actor, at)
	}
	s.logger.Info("stock item created", zap.String("item_id", item.ID.Hex()), zap.String("code", item.Code))
	return item, nil
}

// Resolve finds a live item by id, then code, then exact name.
func (s *Service) Resolve(ctx context.Context, identifier string) (*models.StockItem, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrItemNotFound
	}

	lookups := make([]func() (*models.StockItem, error), 0, 3)
	if id, err := primitive.ObjectIDFromHex(identifier); err == nil {
		lookups = append(lookups, func() (*models.StockItem, error) { return s.items.FindByID(ctx, id) })
	}
	lookups = append(lookups,
		func() (*models.StockItem, error) { return s.items.FindByCode(ctx, identifier) },
		func() (*models.StockItem, error) { return s.items.FindByName(ctx, identifier) },
	)

	for _, lookup := range lookups {
		item, err := lookup()
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to resolve stock item %q: %w", identifier, err)
		}
	}
	return nil, ErrItemNotFound
}

// Get loads a live item by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.StockItem, error) {
	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to load stock item: %w", err)
	}
	return item, nil
}

// List returns every live item.
func (s *Service) List(ctx context.Context) ([]models.StockItem, error) {
	items, err := s.items.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock items: %w", err)
	}
	return items, nil
}

// Restock applies a delivery in a single conditional update, blending prices by weighted average.
func (s *Service) Restock(ctx context.Context, in RestockInput) (*models.StockItem, error) {
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if in.UnitCost < 0 || in.UnitSellingPrice < 0 {
		return nil, ErrInvalidPrice
	}

	item, err := s.Resolve(ctx, in.Item)
	if err != nil {
		return nil, err
	}

	at := s.timestamp()
	effective := in.EffectiveDate
	if effective.IsZero() {
		effective = at
	}
	updated, err := s.items.Restock(ctx, item.ID, models.Delivery{
		Quantity:         in.Quantity,
		UnitCost:         in.UnitCost,
		UnitSellingPrice: in.UnitSellingPrice,
		EffectiveDate:    effective,
	}, at)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to restock %s: %w", item.Code, err)
	}
	s.metrics.ObserveRestock()

	s.linkAttachments(ctx, in.TransactionRef, updated.ID.Hex())
	s.record(ctx, *updated, models.MovementRestock, in.Quantity, in.UnitCost, in.UnitSellingPrice, in.TransactionRef, in.Actor, at)

	checked, err := s.CheckValuation(ctx, *updated)
	if err != nil {
		s.logger.Warn("restock left valuation inconsistent", zap.String("item_id", updated.ID.Hex()), zap.Error(err))
	}
	s.logger.Info("stock restocked",
		zap.String("item_id", checked.ID.Hex()),
		zap.Int64("quantity", in.Quantity),
		zap.Int64("on_hand", checked.QuantityOnHand),
		zap.Float64("cost_price", checked.CostPrice))
	return checked, nil
}

// DirectSet overwrites primary fields, conditioned on the values it read. It retries on
// concurrent modification before giving up with ErrConflict.
func (s *Service) DirectSet(ctx context.Context, id primitive.ObjectID, overrides models.StockOverrides, actor string) (*models.StockItem, error) {
	if overrides.QuantityOnHand != nil && *overrides.QuantityOnHand < 0 {
		return nil, ErrInvalidQuantity
	}
	if (overrides.CostPrice != nil && *overrides.CostPrice < 0) || (overrides.SellingPrice != nil && *overrides.SellingPrice < 0) {
		return nil, ErrInvalidPrice
	}

	for attempt := 1; attempt <= maxDirectSetAttempts; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		pre := valuesOf(*current)
		next := pre
		if overrides.QuantityOnHand != nil {
			next.QuantityOnHand = *overrides.QuantityOnHand
		}
		if overrides.CostPrice != nil {
			next.CostPrice = *overrides.CostPrice
		}
		if overrides.SellingPrice != nil {
			next.SellingPrice = *overrides.SellingPrice
		}

		at := s.timestamp()
		updated, err := s.items.ReplaceIfUnchanged(ctx, id, pre, next, at)
		switch {
		case err == nil:
			s.record(ctx, *updated, models.MovementAdjustment, next.QuantityOnHand-pre.QuantityOnHand, next.CostPrice, next.SellingPrice, "", actor, at)
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			s.logger.Debug("direct-set lost a race, retrying", zap.String("item_id", id.Hex()), zap.Int("attempt", attempt))
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrItemNotFound
		default:
			return nil, fmt.Errorf("failed to set stock item %s: %w", id.Hex(), err)
		}
	}
	return nil, ErrConflict
}

// ApplyUpdate routes a delivery to Restock and manual overrides to DirectSet.
func (s *Service) ApplyUpdate(ctx context.Context, item string, update StockUpdate) (*models.StockItem, error) {
	if update.Quantity > 0 {
		return s.Restock(ctx, RestockInput{
			Item:             item,
			Quantity:         update.Quantity,
			UnitCost:         update.UnitCost,
			UnitSellingPrice: update.UnitSellingPrice,
			EffectiveDate:    update.EffectiveDate,
			TransactionRef:   update.TransactionRef,
			Actor:            update.Actor,
		})
	}
	if update.Quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if update.Overrides.Empty() {
		return nil, ErrNothingToApply
	}

	resolved, err := s.Resolve(ctx, item)
	if err != nil {
		return nil, err
	}
	updated, err := s.DirectSet(ctx, resolved.ID, update.Overrides, update.Actor)
	if err != nil {
		return nil, err
	}
	s.linkAttachments(ctx, update.TransactionRef, updated.ID.Hex())
	return updated, nil
}

// Reserve decrements qty under the reservation key, or fails with ErrInsufficientStock leaving
// the item untouched. Reserving the same key twice decrements once and journals once.
func (s *Service) Reserve(ctx context.Context, id primitive.ObjectID, qty int64, key, actor string) (*models.StockItem, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	at := s.timestamp()
	item, applied, err := s.items.Reserve(ctx, id, qty, key, at)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientStock):
			s.metrics.ObserveReservation(metrics.ReservationInsufficient)
			return nil, ErrInsufficientStock
		case errors.Is(err, repository.ErrReservationCancelled):
			s.metrics.ObserveReservation(metrics.ReservationCancelled)
			return nil, ErrReservationCancelled
		}
		s.metrics.ObserveReservation(metrics.ReservationError)
		return nil, fmt.Errorf("failed to reserve stock on %s: %w", id.Hex(), err)
	}
	if !applied {
		s.metrics.ObserveReservation(metrics.ReservationReplayed)
		return item, nil
	}
	s.metrics.ObserveReservation(metrics.ReservationApplied)
	s.record(ctx, *item, models.MovementSale, -qty, item.CostPrice, item.SellingPrice, key, actor, at)
	return item, nil
}

// CancelReservation settles the fate of key: if its decrement already landed it reports
// applied, otherwise key is tombstoned and any later Reserve for it fails with
// ErrReservationCancelled.
func (s *Service) CancelReservation(ctx context.Context, id primitive.ObjectID, key string) (*models.StockItem, bool, error) {
	item, applied, err := s.items.CancelReservation(ctx, id, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, ErrItemNotFound
		}
		return nil, false, fmt.Errorf("failed to cancel reservation %s: %w", key, err)
	}
	return item, applied, nil
}

// ReleaseReservation drops the applied marker for key once its row is settled.
func (s *Service) ReleaseReservation(ctx context.Context, id primitive.ObjectID, key string) error {
	if err := s.items.ReleaseReservation(ctx, id, key); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to release reservation %s: %w", key, err)
	}
	return nil
}

// CheckValuation verifies the derived fields of item. On a mismatch it attempts a repair and
// returns ErrInconsistent together with the best item it has.
func (s *Service) CheckValuation(ctx context.Context, item models.StockItem) (*models.StockItem, error) {
	if valuation.Consistent(item) {
		return &item, nil
	}
	s.logger.Error("stock valuation inconsistent",
		zap.String("item_id", item.ID.Hex()),
		zap.Int64("quantity", item.QuantityOnHand),
		zap.Float64("stock_value", item.StockValue),
		zap.Float64("projected_profit", item.ProjectedProfit))

	repaired, err := s.RefreshValuation(ctx, item)
	if err != nil {
		s.logger.Warn("valuation repair failed", zap.String("item_id", item.ID.Hex()), zap.Error(err))
		return &item, ErrInconsistent
	}
	return repaired, ErrInconsistent
}

// RefreshValuation rewrites the derived fields of item from its stored primary fields,
// provided nothing changed them meanwhile.
func (s *Service) RefreshValuation(ctx context.Context, item models.StockItem) (*models.StockItem, error) {
	values := valuesOf(item)
	updated, err := s.items.ReplaceIfUnchanged(ctx, item.ID, values, values, s.timestamp())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	s.metrics.ObserveValuationRepair()
	return updated, nil
}

// AuditValuations repairs every live item whose derived fields drifted. Items mutated while
// the audit runs are skipped; their mutation rewrote the derived fields anyway.
func (s *Service) AuditValuations(ctx context.Context) (int, error) {
	items, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	var firstErr error
	for _, item := range items {
		if valuation.Consistent(item) {
			continue
		}
		if _, err := s.RefreshValuation(ctx, item); err != nil {
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, ErrItemNotFound) {
				continue
			}
			s.logger.Error("valuation audit repair failed", zap.String("item_id", item.ID.Hex()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		repaired++
	}
	if repaired > 0 {
		s.logger.Warn("valuation audit repaired items", zap.Int("count", repaired))
	}
	return repaired, firstErr
}

// SoftDelete hides the item from lookups; sales keep their references to it.
func (s *Service) SoftDelete(ctx context.Context, item string) error {
	resolved, err := s.Resolve(ctx, item)
	if err != nil {
		return err
	}
	if err := s.items.SoftDelete(ctx, resolved.ID, s.timestamp()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("failed to delete stock item %s: %w", resolved.Code, err)
	}
	s.logger.Info("stock item deleted", zap.String("item_id", resolved.ID.Hex()), zap.String("code", resolved.Code))
	return nil
}

// Movements lists the journal of an item, newest first.
func (s *Service) Movements(ctx context.Context, item string, limit int) ([]models.StockMovement, error) {
	if s.movements == nil {
		return nil, nil
	}
	resolved, err := s.Resolve(ctx, item)
	if err != nil {
		return nil, err
	}
	movements, err := s.movements.ListByItem(ctx, resolved.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", err)
	}
	return movements, nil
}

func (s *Service) linkAttachments(ctx context.Context, ref, itemID string) {
	if s.attachments == nil || ref == "" {
		return
	}
	if err := s.attachments.LinkAttachments(ctx, ref, itemID, models.EntityStock); err != nil {
		s.logger.Warn("failed to link attachments", zap.String("transaction_ref", ref), zap.String("item_id", itemID), zap.Error(err))
	}
}

// record appends a movement to the journal and its mirrors. Failures are logged only.
func (s *Service) record(ctx context.Context, item models.StockItem, kind models.MovementKind, qty int64, unitCost, unitSelling float64, ref, actor string, at time.Time) {
	movement := models.StockMovement{
		ItemID:           item.ID,
		ItemCode:         item.Code,
		Kind:             kind,
		Quantity:         qty,
		UnitCost:         unitCost,
		UnitSellingPrice: unitSelling,
		BalanceQty:       item.QuantityOnHand,
		BalanceCost:      item.CostPrice,
		TransactionRef:   ref,
		Actor:            actor,
		At:               at,
	}
	recorders := s.mirrors
	if s.movements != nil {
		recorders = append([]repository.MovementRecorder{s.movements}, s.mirrors...)
	}
	for _, recorder := range recorders {
		if err := recorder.Record(ctx, movement); err != nil {
			s.logger.Warn("failed to record stock movement", zap.String("item_id", item.ID.Hex()), zap.String("kind", string(kind)), zap.Error(err))
		}
	}
}

func valuesOf(item models.StockItem) repository.StockValues {
	return repository.StockValues{
		QuantityOnHand: item.QuantityOnHand,
		CostPrice:      item.CostPrice,
		SellingPrice:   item.SellingPrice,
	}
}
