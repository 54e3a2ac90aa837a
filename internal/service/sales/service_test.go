package sales

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/repository/memory"
	"github.com/mamadbah2/lounge/internal/service/stock"
	"github.com/mamadbah2/lounge/internal/service/valuation"
)

var errTransport = errors.New("connection reset by peer")

type fixture struct {
	store *memory.Store
	stock *stock.Service
	queue *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return &fixture{
		store: store,
		stock: stock.NewService(store.Stock(), store.Attachments(), store.Movements(), nil),
		queue: &recordingQueue{},
	}
}

// service builds the orchestrator; ops and sales default to the real ones.
func (f *fixture) service(ops StockOperator, sales repository.SaleStore) *Service {
	if ops == nil {
		ops = f.stock
	}
	if sales == nil {
		sales = f.store.Sales()
	}
	return NewService(ops, sales, f.store.CreditSales(), f.store.Customers(), f.store.Attachments(), nil, WithSettlementQueue(f.queue))
}

func (f *fixture) item(t *testing.T, code string, qty int64, cost, selling float64) *models.StockItem {
	t.Helper()
	item, err := f.stock.CreateItem(context.Background(), stock.NewItemInput{Code: code, Name: code, Quantity: qty, CostPrice: cost, SellingPrice: selling})
	require.NoError(t, err)
	return item
}

func (f *fixture) onHand(t *testing.T, id primitive.ObjectID) int64 {
	t.Helper()
	item, err := f.stock.Get(context.Background(), id)
	require.NoError(t, err)
	return item.QuantityOnHand
}

type recordingQueue struct {
	mu   sync.Mutex
	refs []string
}

func (q *recordingQueue) EnqueueSettlement(_ context.Context, ref string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refs = append(q.refs, ref)
	return nil
}

func (q *recordingQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.refs...)
}

// staleResolver reports more stock than exists, as a concurrent sale would.
type staleResolver struct {
	*stock.Service
}

func (s staleResolver) Resolve(ctx context.Context, identifier string) (*models.StockItem, error) {
	item, err := s.Service.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	item.QuantityOnHand = 1000
	return item, nil
}

// lossyReserver applies (or not) the reservation and then reports a transport error.
type lossyReserver struct {
	*stock.Service
	apply       bool
	blindCancel bool
}

func (l lossyReserver) Reserve(ctx context.Context, id primitive.ObjectID, qty int64, key, actor string) (*models.StockItem, error) {
	if l.apply {
		if _, err := l.Service.Reserve(ctx, id, qty, key, actor); err != nil {
			return nil, err
		}
	}
	return nil, errTransport
}

func (l lossyReserver) CancelReservation(ctx context.Context, id primitive.ObjectID, key string) (*models.StockItem, bool, error) {
	if l.blindCancel {
		return nil, false, errTransport
	}
	return l.Service.CancelReservation(ctx, id, key)
}

// delayedReserver times out without applying and keeps the request so it can land later.
type delayedReserver struct {
	*stock.Service
	late func() (*models.StockItem, error)
}

func (d *delayedReserver) Reserve(_ context.Context, id primitive.ObjectID, qty int64, key, actor string) (*models.StockItem, error) {
	d.late = func() (*models.StockItem, error) {
		return d.Service.Reserve(context.Background(), id, qty, key, actor)
	}
	return nil, context.DeadlineExceeded
}

type inconsistentChecker struct {
	*stock.Service
}

func (i inconsistentChecker) CheckValuation(_ context.Context, item models.StockItem) (*models.StockItem, error) {
	return &item, stock.ErrInconsistent
}

type undeletableSales struct {
	repository.SaleStore
}

func (u undeletableSales) DeletePending(context.Context, string) (bool, error) {
	return false, errTransport
}

type unconfirmableSales struct {
	repository.SaleStore
}

func (u unconfirmableSales) Confirm(context.Context, string, time.Time) error {
	return errTransport
}

func TestSodaScenario(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	soda := f.item(t, "SODA", 5, 10, 15)

	receipt, err := svc.CreateSale(context.Background(), SaleInput{Item: "SODA", Quantity: 5, PaymentMode: models.PaymentCash, SoldBy: "amadou"})
	require.NoError(t, err)
	require.False(t, receipt.Degraded)
	require.EqualValues(t, 0, receipt.Stock.QuantityOnHand)
	require.InDelta(t, 0, receipt.Stock.StockValue, 1e-9)
	require.InDelta(t, 75, receipt.Sale.TotalAmount, 1e-9)
	require.InDelta(t, 10, receipt.Sale.UnitCostPrice, 1e-9)
	require.Equal(t, models.StatusConfirmed, receipt.Sale.Status)
	require.True(t, receipt.Sale.StockReserved)
	require.Equal(t, "amadou", receipt.Sale.SoldBy)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "SODA", Quantity: 1, PaymentMode: models.PaymentCash})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.EqualValues(t, 0, f.onHand(t, soda.ID))
	require.Equal(t, 1, f.store.SaleCount())
}

func TestCreateSaleValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	f.item(t, "BEER", 10, 5, 8)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "BEER", Quantity: 1, PaymentMode: models.PaymentCredit})
	require.ErrorIs(t, err, ErrCreditNotAllowed)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "MEAD", Quantity: 1, PaymentMode: models.PaymentCash})
	require.ErrorIs(t, err, stock.ErrItemNotFound)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "BEER", Quantity: 0, PaymentMode: models.PaymentCash})
	require.ErrorIs(t, err, ErrInvalidSale)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "BEER", Quantity: 1, PaymentMode: "barter"})
	require.ErrorIs(t, err, ErrInvalidSale)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "BEER", Quantity: 1, PaymentMode: models.PaymentCash, Discount: 9})
	require.ErrorIs(t, err, ErrInvalidSale)

	require.Equal(t, 0, f.store.SaleCount())
}

func TestCreateSaleTotalsAndPriceOverride(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	f.item(t, "WINE", 10, 20, 30)

	price := 25.0
	receipt, err := svc.CreateSale(context.Background(), SaleInput{
		Item: "WINE", Quantity: 3, PaymentMode: models.PaymentMobileTransfer,
		UnitSellingPrice: &price, Discount: 5, Tax: 2.5,
	})
	require.NoError(t, err)
	require.InDelta(t, 72.5, receipt.Sale.TotalAmount, 1e-9)
	require.InDelta(t, 25, receipt.Sale.UnitSellingPrice, 1e-9)
	require.Equal(t, models.PaymentMobileTransfer, receipt.Sale.PaymentMode)
	require.NotEmpty(t, receipt.Sale.TransactionRef)
	require.InDelta(t, 30, receipt.Stock.SellingPrice, 1e-9)
}

func TestDuplicateTransactionRef(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "GIN", 10, 20, 30)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "GIN", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "T-1"})
	require.NoError(t, err)
	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "GIN", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "T-1"})
	require.ErrorIs(t, err, ErrDuplicateTransaction)
	require.EqualValues(t, 9, f.onHand(t, item.ID))
}

func TestFailedReservationLeavesNoSaleRow(t *testing.T) {
	f := newFixture(t)
	svc := f.service(staleResolver{f.stock}, nil)
	item := f.item(t, "RUM", 2, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "RUM", Quantity: 3, PaymentMode: models.PaymentCash, TransactionRef: "R-1"})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	_, err = f.store.Sales().FindByRef(context.Background(), "R-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Equal(t, 0, f.store.SaleCount())
	require.EqualValues(t, 2, f.onHand(t, item.ID))
	require.Empty(t, f.queue.enqueued())
}

func TestFailedCompensationIsEnqueuedAndSettled(t *testing.T) {
	f := newFixture(t)
	svc := f.service(staleResolver{f.stock}, undeletableSales{f.store.Sales()})
	f.item(t, "PORT", 1, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "PORT", Quantity: 2, PaymentMode: models.PaymentCash, TransactionRef: "P-1"})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.Equal(t, []string{"P-1"}, f.queue.enqueued())

	orphan, err := f.store.Sales().FindByRef(context.Background(), "P-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, orphan.Status)

	result, err := f.service(nil, nil).SettlePending(context.Background(), "P-1")
	require.NoError(t, err)
	require.Equal(t, SettledDeleted, result)
	require.Equal(t, 0, f.store.SaleCount())
}

func TestTransportErrorAfterAppliedReservation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(lossyReserver{Service: f.stock, apply: true}, nil)
	item := f.item(t, "MALT", 4, 10, 20)

	receipt, err := svc.CreateSale(context.Background(), SaleInput{Item: "MALT", Quantity: 1, PaymentMode: models.PaymentCash})
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, receipt.Sale.Status)
	require.EqualValues(t, 3, receipt.Stock.QuantityOnHand)
	require.EqualValues(t, 3, f.onHand(t, item.ID))
}

func TestTransportErrorWithoutReservation(t *testing.T) {
	f := newFixture(t)
	svc := f.service(lossyReserver{Service: f.stock}, nil)
	item := f.item(t, "CIDER", 4, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "CIDER", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "C-1"})
	require.ErrorIs(t, err, errTransport)
	require.Equal(t, 0, f.store.SaleCount())
	require.EqualValues(t, 4, f.onHand(t, item.ID))
}

func TestLateReservationAfterAbortIsRejected(t *testing.T) {
	f := newFixture(t)
	ops := &delayedReserver{Service: f.stock}
	svc := f.service(ops, nil)
	item := f.item(t, "PERRY", 4, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "PERRY", Quantity: 3, PaymentMode: models.PaymentCash, TransactionRef: "D-1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, f.store.SaleCount())

	_, err = ops.late()
	require.ErrorIs(t, err, stock.ErrReservationCancelled)
	require.EqualValues(t, 4, f.onHand(t, item.ID))
}

func TestLateReservationAfterSettlementIsRejected(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "KVASS", 4, 10, 20)
	pending, err := f.store.Sales().Insert(context.Background(), models.SaleRecord{
		TransactionRef: "D-2", ItemID: item.ID, Quantity: 2, Status: models.StatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	result, err := f.service(nil, nil).SettlePending(context.Background(), "D-2")
	require.NoError(t, err)
	require.Equal(t, SettledDeleted, result)

	_, err = f.stock.Reserve(context.Background(), item.ID, 2, pending.ReservationKey(), "")
	require.ErrorIs(t, err, stock.ErrReservationCancelled)
	require.EqualValues(t, 4, f.onHand(t, item.ID))
}

func TestUnknownReservationOutcomeIsLeftForSettlement(t *testing.T) {
	f := newFixture(t)
	svc := f.service(lossyReserver{Service: f.stock, apply: true, blindCancel: true}, nil)
	item := f.item(t, "STOUT", 4, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "STOUT", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "U-1"})
	require.ErrorIs(t, err, errReservationUnknown)
	require.Equal(t, []string{"U-1"}, f.queue.enqueued())

	result, err := f.service(nil, nil).SettlePending(context.Background(), "U-1")
	require.NoError(t, err)
	require.Equal(t, SettledConfirmed, result)

	sale, err := f.store.Sales().FindByRef(context.Background(), "U-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, sale.Status)
	require.EqualValues(t, 3, f.onHand(t, item.ID))
}

func TestConfirmFailureDegradesReceipt(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, unconfirmableSales{f.store.Sales()})
	f.item(t, "LAGER", 4, 10, 20)

	receipt, err := svc.CreateSale(context.Background(), SaleInput{Item: "LAGER", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "L-1"})
	require.NoError(t, err)
	require.True(t, receipt.Degraded)
	require.Equal(t, models.StatusPending, receipt.Sale.Status)
	require.Equal(t, []string{"L-1"}, f.queue.enqueued())

	result, err := f.service(nil, nil).SettlePending(context.Background(), "L-1")
	require.NoError(t, err)
	require.Equal(t, SettledConfirmed, result)
}

func TestInconsistentValuationDegradesReceipt(t *testing.T) {
	f := newFixture(t)
	svc := f.service(inconsistentChecker{f.stock}, nil)
	f.item(t, "TONIC", 4, 10, 20)

	receipt, err := svc.CreateSale(context.Background(), SaleInput{Item: "TONIC", Quantity: 1, PaymentMode: models.PaymentCash})
	require.NoError(t, err)
	require.True(t, receipt.Degraded)
	require.Equal(t, models.StatusConfirmed, receipt.Sale.Status)
	require.EqualValues(t, 3, receipt.Stock.QuantityOnHand)
}

func TestConcurrentSalesExhaustStockExactly(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	const units = 40
	item := f.item(t, "SHOT", units, 2, 5)

	var succeeded, rejected atomic.Int64
	var g errgroup.Group
	for i := 0; i < units+1; i++ {
		g.Go(func() error {
			_, err := svc.CreateSale(context.Background(), SaleInput{Item: item.ID.Hex(), Quantity: 1, PaymentMode: models.PaymentCash})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, stock.ErrInsufficientStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, units, succeeded.Load())
	require.EqualValues(t, 1, rejected.Load())
	require.Equal(t, units, f.store.SaleCount())

	current, err := f.stock.Get(context.Background(), item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, current.QuantityOnHand)
	require.True(t, valuation.Consistent(*current))
}

func TestSaleLinksAttachments(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	f.item(t, "VODKA", 4, 10, 20)
	f.store.AddAttachment("V-1", "receipt.jpg")

	receipt, err := svc.CreateSale(context.Background(), SaleInput{Item: "VODKA", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: "V-1"})
	require.NoError(t, err)

	attachments := f.store.AttachmentsByRef("V-1")
	require.Len(t, attachments, 1)
	require.Equal(t, receipt.Sale.ID.Hex(), attachments[0].EntityID)
	require.Equal(t, models.EntitySale, attachments[0].EntityType)
}

func TestCreditConversionDoesNotDecrementTwice(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "WHISKY", 10, 40, 60)

	credit, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{
		Item: "WHISKY", Quantity: 3, CustomerMobile: "620000000", CustomerName: "Fatou", SoldBy: "amadou",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, credit.CreditSale.Status)
	require.True(t, credit.CreditSale.StockReserved)
	require.InDelta(t, 180, credit.CreditSale.TotalAmount, 1e-9)
	require.EqualValues(t, 7, f.onHand(t, item.ID))

	paidAt := time.Date(2026, 3, 2, 18, 30, 0, 0, time.UTC)
	payment, err := svc.MarkCreditSalePaid(context.Background(), PaymentInput{
		CreditSaleID: credit.CreditSale.ID.Hex(), Method: models.PaymentCash, PaidAt: paidAt, ProcessedBy: "manager",
	})
	require.NoError(t, err)
	require.EqualValues(t, 7, f.onHand(t, item.ID))
	require.True(t, payment.CreditSale.Paid)
	require.Equal(t, credit.CreditSale.TransactionRef+"-PAY", payment.Sale.TransactionRef)
	require.Equal(t, models.StatusConfirmed, payment.Sale.Status)
	require.True(t, payment.Sale.StockReserved)
	require.Equal(t, credit.CreditSale.ID, *payment.Sale.CreditSaleID)
	require.Equal(t, payment.Sale.ID, *payment.CreditSale.SaleID)
	require.True(t, payment.Sale.PaymentDate.Equal(paidAt))

	_, err = svc.MarkCreditSalePaid(context.Background(), PaymentInput{
		CreditSaleID: credit.CreditSale.ID.Hex(), Method: models.PaymentCash, ProcessedBy: "manager",
	})
	require.ErrorIs(t, err, ErrAlreadyPaid)
	require.Equal(t, 1, f.store.SaleCount())
	require.EqualValues(t, 7, f.onHand(t, item.ID))
}

func TestCreditSaleReusesCustomer(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	f.item(t, "BRANDY", 10, 40, 60)

	first, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{Item: "BRANDY", Quantity: 1, CustomerMobile: "621", CustomerName: "Ibrahima"})
	require.NoError(t, err)
	second, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{Item: "BRANDY", Quantity: 1, CustomerMobile: " 621 ", CustomerName: "Ibrahima D."})
	require.NoError(t, err)
	require.Equal(t, first.CreditSale.CustomerID, second.CreditSale.CustomerID)
	require.Equal(t, "Ibrahima", second.CreditSale.CustomerName)
}

func TestFailedCreditReservationLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	svc := f.service(staleResolver{f.stock}, nil)
	item := f.item(t, "SAKE", 1, 40, 60)

	_, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{
		Item: "SAKE", Quantity: 2, CustomerMobile: "622", CustomerName: "Aissatou", TransactionRef: "K-1",
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	_, err = f.store.CreditSales().FindByRef(context.Background(), "K-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.EqualValues(t, 1, f.onHand(t, item.ID))
}

func insertLegacyCredit(t *testing.T, f *fixture, item *models.StockItem, qty int64) *models.CreditSaleRecord {
	t.Helper()
	credit, err := f.store.CreditSales().Insert(context.Background(), models.CreditSaleRecord{
		TransactionRef:   "LEGACY-" + item.Code,
		ItemID:           item.ID,
		ItemCode:         item.Code,
		ItemName:         item.Name,
		Quantity:         qty,
		UnitSellingPrice: item.SellingPrice,
		TotalAmount:      valuation.SaleTotal(qty, item.SellingPrice, 0, 0),
		Status:           models.StatusConfirmed,
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)
	return credit
}

func TestLegacyCreditReservedOnceAtPayment(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "ARAK", 5, 10, 20)
	legacy := insertLegacyCredit(t, f, item, 2)

	payment, err := svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: legacy.ID.Hex(), Method: models.PaymentMobileTransfer})
	require.NoError(t, err)
	require.EqualValues(t, 3, f.onHand(t, item.ID))
	require.Equal(t, models.StatusConfirmed, payment.Sale.Status)
	require.True(t, payment.CreditSale.StockReserved)

	stored, err := f.store.CreditSales().FindByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	require.True(t, stored.StockReserved)
	require.True(t, stored.Paid)
}

func TestLegacyCreditPaymentRevertedOnInsufficientStock(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "OUZO", 1, 10, 20)
	legacy := insertLegacyCredit(t, f, item, 2)

	_, err := svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: legacy.ID.Hex(), Method: models.PaymentCash})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	stored, err := f.store.CreditSales().FindByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.Nil(t, stored.PaymentDate)
	require.Equal(t, 0, f.store.SaleCount())
	require.EqualValues(t, 1, f.onHand(t, item.ID))

	_, err = f.stock.Restock(context.Background(), stock.RestockInput{Item: "OUZO", Quantity: 5, UnitCost: 10, UnitSellingPrice: 20})
	require.NoError(t, err)
	_, err = svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: legacy.ID.Hex(), Method: models.PaymentCash})
	require.NoError(t, err)
	require.EqualValues(t, 4, f.onHand(t, item.ID))
}

func TestMarkCreditSalePaidErrors(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)

	_, err := svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: "not-an-id", Method: models.PaymentCash})
	require.ErrorIs(t, err, ErrCreditSaleNotFound)

	_, err = svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: primitive.NewObjectID().Hex(), Method: models.PaymentCash})
	require.ErrorIs(t, err, ErrCreditSaleNotFound)

	_, err = svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: primitive.NewObjectID().Hex(), Method: models.PaymentCredit})
	require.ErrorIs(t, err, ErrInvalidSale)
}

func TestSweepPendingSettlesOldRows(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "MEAD", 10, 10, 20)
	old := time.Now().UTC().Add(-time.Hour)

	for _, ref := range []string{"OLD-RESERVED", "OLD-ORPHAN"} {
		_, err := f.store.Sales().Insert(context.Background(), models.SaleRecord{
			TransactionRef: ref, ItemID: item.ID, Quantity: 1, Status: models.StatusPending, CreatedAt: old,
		})
		require.NoError(t, err)
	}
	_, err := f.store.Sales().Insert(context.Background(), models.SaleRecord{
		TransactionRef: "FRESH", ItemID: item.ID, Quantity: 1, Status: models.StatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = f.store.CreditSales().Insert(context.Background(), models.CreditSaleRecord{
		TransactionRef: "OLD-CREDIT", ItemID: item.ID, Quantity: 1, Status: models.StatusPending, CreatedAt: old,
	})
	require.NoError(t, err)

	_, err = f.stock.Reserve(context.Background(), item.ID, 1, models.SaleRecord{TransactionRef: "OLD-RESERVED"}.ReservationKey(), "")
	require.NoError(t, err)

	settled, err := svc.SweepPending(context.Background(), time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, settled)

	reserved, err := f.store.Sales().FindByRef(context.Background(), "OLD-RESERVED")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, reserved.Status)

	_, err = f.store.Sales().FindByRef(context.Background(), "OLD-ORPHAN")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.store.CreditSales().FindByRef(context.Background(), "OLD-CREDIT")
	require.ErrorIs(t, err, repository.ErrNotFound)

	fresh, err := f.store.Sales().FindByRef(context.Background(), "FRESH")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, fresh.Status)
	require.EqualValues(t, 9, f.onHand(t, item.ID))
}

func TestSettlePendingUnknownRefIsNoop(t *testing.T) {
	f := newFixture(t)
	result, err := f.service(nil, nil).SettlePending(context.Background(), "GHOST")
	require.NoError(t, err)
	require.Equal(t, SettledSkipped, result)
}

func TestSettleCompanionRevertsPayment(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "PISCO", 5, 10, 20)
	legacy := insertLegacyCredit(t, f, item, 1)

	paidAt := time.Now().UTC().Truncate(time.Millisecond)
	_, err := f.store.CreditSales().MarkPaid(context.Background(), legacy.ID, models.PaymentCash, paidAt, "manager")
	require.NoError(t, err)
	creditID := legacy.ID
	_, err = f.store.Sales().Insert(context.Background(), models.SaleRecord{
		TransactionRef: legacy.PaymentRef(), ItemID: item.ID, Quantity: 1, Status: models.StatusPending,
		CreditSaleID: &creditID, PaymentDate: &paidAt, CreatedAt: paidAt,
	})
	require.NoError(t, err)

	result, err := svc.SettlePending(context.Background(), legacy.PaymentRef())
	require.NoError(t, err)
	require.Equal(t, SettledDeleted, result)

	stored, err := f.store.CreditSales().FindByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	require.False(t, stored.Paid)
	require.EqualValues(t, 5, f.onHand(t, item.ID))
}

func TestSaleAndCreditSharingRefEachDecrement(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "TEJ", 10, 10, 20)

	_, err := svc.CreateSale(context.Background(), SaleInput{Item: "TEJ", Quantity: 2, PaymentMode: models.PaymentCash, TransactionRef: "INV-1"})
	require.NoError(t, err)
	credit, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{
		Item: "TEJ", Quantity: 3, CustomerMobile: "624", CustomerName: "Fatou", TransactionRef: "INV-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, credit.CreditSale.Status)
	require.EqualValues(t, 5, credit.Stock.QuantityOnHand)
	require.EqualValues(t, 5, f.onHand(t, item.ID))

	result, err := svc.SettlePending(context.Background(), "INV-1")
	require.NoError(t, err)
	require.Equal(t, SettledSkipped, result)
	require.EqualValues(t, 5, f.onHand(t, item.ID))
}

func TestPaymentSuffixIsKeptForCreditPayments(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "SORGHUM", 10, 10, 20)

	credit, err := svc.CreateCreditSale(context.Background(), CreditSaleInput{
		Item: "SORGHUM", Quantity: 1, CustomerMobile: "625", CustomerName: "Oumar", TransactionRef: "TAB-7",
	})
	require.NoError(t, err)

	_, err = svc.CreateSale(context.Background(), SaleInput{Item: "SORGHUM", Quantity: 1, PaymentMode: models.PaymentCash, TransactionRef: credit.CreditSale.PaymentRef()})
	require.ErrorIs(t, err, ErrInvalidSale)

	payment, err := svc.MarkCreditSalePaid(context.Background(), PaymentInput{CreditSaleID: credit.CreditSale.ID.Hex(), Method: models.PaymentCash})
	require.NoError(t, err)
	require.Equal(t, "TAB-7-PAY", payment.Sale.TransactionRef)
	require.EqualValues(t, 9, f.onHand(t, item.ID))
}

func TestSettlePendingSharedRefSettlesBothRows(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "BISSAP", 10, 10, 20)
	now := time.Now().UTC()

	_, err := f.store.Sales().Insert(context.Background(), models.SaleRecord{
		TransactionRef: "DUP-1", ItemID: item.ID, Quantity: 1, Status: models.StatusPending, CreatedAt: now,
	})
	require.NoError(t, err)
	credit, err := f.store.CreditSales().Insert(context.Background(), models.CreditSaleRecord{
		TransactionRef: "DUP-1", ItemID: item.ID, Quantity: 2, Status: models.StatusPending, CreatedAt: now,
	})
	require.NoError(t, err)
	_, err = f.stock.Reserve(context.Background(), item.ID, 2, credit.ReservationKey(), "")
	require.NoError(t, err)

	result, err := f.service(nil, nil).SettlePending(context.Background(), "DUP-1")
	require.NoError(t, err)
	require.Equal(t, SettledConfirmed, result)

	_, err = f.store.Sales().FindByRef(context.Background(), "DUP-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
	stored, err := f.store.CreditSales().FindByRef(context.Background(), "DUP-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, stored.Status)
	require.EqualValues(t, 8, f.onHand(t, item.ID))
}

func TestPendingReservationSurvivesManyLaterSales(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil, nil)
	item := f.item(t, "BAOBAB", 200, 10, 20)

	pending, err := f.store.Sales().Insert(context.Background(), models.SaleRecord{
		TransactionRef: "SAL-X", ItemID: item.ID, Quantity: 1, Status: models.StatusPending, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, err = f.stock.Reserve(context.Background(), item.ID, 1, pending.ReservationKey(), "")
	require.NoError(t, err)

	for range 100 {
		_, err := svc.CreateSale(context.Background(), SaleInput{Item: "BAOBAB", Quantity: 1, PaymentMode: models.PaymentCash})
		require.NoError(t, err)
	}

	result, err := svc.SettlePending(context.Background(), "SAL-X")
	require.NoError(t, err)
	require.Equal(t, SettledConfirmed, result)
	require.Equal(t, 101, f.store.SaleCount())
	require.EqualValues(t, 99, f.onHand(t, item.ID))

	current, err := f.stock.Get(context.Background(), item.ID)
	require.NoError(t, err)
	require.Empty(t, current.ReservationRefs)
}
