// Package memory is an in-process implementation of the repository ports. Each operation
// holds the store mutex for its whole duration, which gives the same single-document
// atomicity the mongodb store gets from the server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/repository"
	"github.com/mamadbah2/lounge/internal/service/valuation"
)

// Store keeps every collection in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	items       map[primitive.ObjectID]*models.StockItem
	sales       map[string]*models.SaleRecord
	creditSales map[string]*models.CreditSaleRecord
	customers   map[string]*models.Customer
	attachments []models.Attachment
	movements   []models.StockMovement
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items:       make(map[primitive.ObjectID]*models.StockItem),
		sales:       make(map[string]*models.SaleRecord),
		creditSales: make(map[string]*models.CreditSaleRecord),
		customers:   make(map[string]*models.Customer),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Stock exposes the stock item port.
func (s *Store) Stock() repository.StockStore { return stockStore{s} }

// Sales exposes the sale record port.
func (s *Store) Sales() repository.SaleStore { return saleStore{s} }

// CreditSales exposes the credit sale port.
func (s *Store) CreditSales() repository.CreditSaleStore { return creditSaleStore{s} }

// Customers exposes the customer directory.
func (s *Store) Customers() repository.CustomerDirectory { return customerStore{s} }

// Attachments exposes the attachment linker.
func (s *Store) Attachments() repository.AttachmentLinker { return attachmentStore{s} }

// Movements exposes the movement journal.
func (s *Store) Movements() repository.MovementStore { return movementStore{s} }

// AddAttachment registers an uploaded document tagged with a transaction reference.
func (s *Store) AddAttachment(ref, fileName string) models.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	att := models.Attachment{ID: primitive.NewObjectID(), TransactionRef: ref, FileName: fileName}
	s.attachments = append(s.attachments, att)
	return att
}

// AttachmentsByRef returns the attachments tagged with ref.
func (s *Store) AttachmentsByRef(ref string) []models.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Attachment
	for _, att := range s.attachments {
		if att.TransactionRef == ref {
			out = append(out, att)
		}
	}
	return out
}

// SaleCount returns how many sale rows exist, pending ones included.
func (s *Store) SaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sales)
}

type stockStore struct{ s *Store }

func (st stockStore) Create(_ context.Context, item models.StockItem) (*models.StockItem, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	for _, existing := range st.s.items {
		if existing.Code == item.Code || existing.Name == item.Name {
			return nil, repository.ErrDuplicate
		}
	}
	if item.ID.IsZero() {
		item.ID = primitive.NewObjectID()
	}
	valuation.Apply(&item)
	stored := cloneItem(item)
	st.s.items[item.ID] = &stored
	return ptrItem(stored), nil
}

func (st stockStore) FindByID(_ context.Context, id primitive.ObjectID) (*models.StockItem, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	item, ok := st.s.items[id]
	if !ok || item.Deleted {
		return nil, repository.ErrNotFound
	}
	return ptrItem(*item), nil
}

func (st stockStore) FindByCode(_ context.Context, code string) (*models.StockItem, error) {
	return st.findBy(func(item *models.StockItem) bool { return item.Code == code })
}

func (st stockStore) FindByName(_ context.Context, name string) (*models.StockItem, error) {
	return st.findBy(func(item *models.StockItem) bool { return item.Name == name })
}

func (st stockStore) findBy(match func(*models.StockItem) bool) (*models.StockItem, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	for _, item := range st.s.items {
		if !item.Deleted && match(item) {
			return ptrItem(*item), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (st stockStore) List(_ context.Context) ([]models.StockItem, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	out := make([]models.StockItem, 0, len(st.s.items))
	for _, item := range st.s.items {
		if item.Deleted {
			continue
		}
		out = append(out, cloneItem(*item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (st stockStore) Restock(_ context.Context, id primitive.ObjectID, delivery models.Delivery, at time.Time) (*models.StockItem, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok || item.Deleted {
		return nil, repository.ErrNotFound
	}
	cost := valuation.WeightedAverage(item.QuantityOnHand, item.CostPrice, delivery.Quantity, delivery.UnitCost)
	selling := valuation.WeightedAverage(item.QuantityOnHand, item.SellingPrice, delivery.Quantity, delivery.UnitSellingPrice)
	item.QuantityOnHand += delivery.Quantity
	item.CostPrice = cost
	item.SellingPrice = selling
	item.LastMutationAt = at
	valuation.Apply(item)
	return ptrItem(*item), nil
}

func (st stockStore) Reserve(_ context.Context, id primitive.ObjectID, qty int64, key string, at time.Time) (*models.StockItem, bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok || item.Deleted {
		return nil, false, repository.ErrInsufficientStock
	}
	if key != "" {
		if item.HasReservation(key) {
			return ptrItem(*item), false, nil
		}
		if item.IsCancelled(key) {
			return nil, false, repository.ErrReservationCancelled
		}
	}
	if item.QuantityOnHand < qty {
		return nil, false, repository.ErrInsufficientStock
	}
	item.QuantityOnHand -= qty
	if key != "" {
		item.ReservationRefs = append(item.ReservationRefs, key)
	}
	item.LastMutationAt = at
	valuation.Apply(item)
	return ptrItem(*item), true, nil
}

func (st stockStore) CancelReservation(_ context.Context, id primitive.ObjectID, key string) (*models.StockItem, bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if item.HasReservation(key) {
		return ptrItem(*item), true, nil
	}
	if !item.IsCancelled(key) {
		item.CancelledRefs = append(item.CancelledRefs, key)
	}
	return ptrItem(*item), false, nil
}

func (st stockStore) ReleaseReservation(_ context.Context, id primitive.ObjectID, key string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	kept := item.ReservationRefs[:0]
	for _, r := range item.ReservationRefs {
		if r != key {
			kept = append(kept, r)
		}
	}
	item.ReservationRefs = kept
	return nil
}

func (st stockStore) ReplaceIfUnchanged(_ context.Context, id primitive.ObjectID, pre, next repository.StockValues, at time.Time) (*models.StockItem, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok || item.Deleted {
		return nil, repository.ErrNotFound
	}
	if item.QuantityOnHand != pre.QuantityOnHand || item.CostPrice != pre.CostPrice || item.SellingPrice != pre.SellingPrice {
		return nil, repository.ErrConflict
	}
	item.QuantityOnHand = next.QuantityOnHand
	item.CostPrice = next.CostPrice
	item.SellingPrice = next.SellingPrice
	item.LastMutationAt = at
	valuation.Apply(item)
	return ptrItem(*item), nil
}

func (st stockStore) SoftDelete(_ context.Context, id primitive.ObjectID, at time.Time) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	item, ok := st.s.items[id]
	if !ok || item.Deleted {
		return repository.ErrNotFound
	}
	deletedAt := at
	item.Deleted = true
	item.DeletedAt = &deletedAt
	item.LastMutationAt = at
	return nil
}

// SetDerived overwrites the stored derived fields, simulating a stale valuation.
func (s *Store) SetDerived(id primitive.ObjectID, stockValue, projectedProfit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		item.StockValue = stockValue
		item.ProjectedProfit = projectedProfit
	}
}

type saleStore struct{ s *Store }

func (ss saleStore) Insert(_ context.Context, sale models.SaleRecord) (*models.SaleRecord, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	if _, exists := ss.s.sales[sale.TransactionRef]; exists {
		return nil, repository.ErrDuplicate
	}
	if sale.ID.IsZero() {
		sale.ID = primitive.NewObjectID()
	}
	stored := sale
	ss.s.sales[sale.TransactionRef] = &stored
	out := stored
	return &out, nil
}

func (ss saleStore) FindByRef(_ context.Context, ref string) (*models.SaleRecord, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	sale, ok := ss.s.sales[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *sale
	return &out, nil
}

func (ss saleStore) Confirm(_ context.Context, ref string, at time.Time) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	sale, ok := ss.s.sales[ref]
	if !ok {
		return repository.ErrNotFound
	}
	sale.Status = models.StatusConfirmed
	sale.StockReserved = true
	sale.UpdatedAt = at
	return nil
}

func (ss saleStore) DeletePending(_ context.Context, ref string) (bool, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	sale, ok := ss.s.sales[ref]
	if !ok || sale.Status != models.StatusPending {
		return false, nil
	}
	delete(ss.s.sales, ref)
	return true, nil
}

func (ss saleStore) ListPending(_ context.Context, createdBefore time.Time) ([]models.SaleRecord, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()
	var out []models.SaleRecord
	for _, sale := range ss.s.sales {
		if sale.Status == models.StatusPending && sale.CreatedAt.Before(createdBefore) {
			out = append(out, *sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type creditSaleStore struct{ s *Store }

func (cs creditSaleStore) Insert(_ context.Context, sale models.CreditSaleRecord) (*models.CreditSaleRecord, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	if _, exists := cs.s.creditSales[sale.TransactionRef]; exists {
		return nil, repository.ErrDuplicate
	}
	if sale.ID.IsZero() {
		sale.ID = primitive.NewObjectID()
	}
	stored := sale
	cs.s.creditSales[sale.TransactionRef] = &stored
	out := stored
	return &out, nil
}

func (cs creditSaleStore) byID(id primitive.ObjectID) (*models.CreditSaleRecord, bool) {
	for _, sale := range cs.s.creditSales {
		if sale.ID == id {
			return sale, true
		}
	}
	return nil, false
}

func (cs creditSaleStore) FindByID(_ context.Context, id primitive.ObjectID) (*models.CreditSaleRecord, error) {
	cs.s.mu.RLock()
	defer cs.s.mu.RUnlock()
	sale, ok := cs.byID(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *sale
	return &out, nil
}

func (cs creditSaleStore) FindByRef(_ context.Context, ref string) (*models.CreditSaleRecord, error) {
	cs.s.mu.RLock()
	defer cs.s.mu.RUnlock()
	sale, ok := cs.s.creditSales[ref]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *sale
	return &out, nil
}

func (cs creditSaleStore) Confirm(_ context.Context, ref string, at time.Time) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.s.creditSales[ref]
	if !ok {
		return repository.ErrNotFound
	}
	sale.Status = models.StatusConfirmed
	sale.StockReserved = true
	sale.UpdatedAt = at
	return nil
}

func (cs creditSaleStore) DeletePending(_ context.Context, ref string) (bool, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.s.creditSales[ref]
	if !ok || sale.Status != models.StatusPending {
		return false, nil
	}
	delete(cs.s.creditSales, ref)
	return true, nil
}

func (cs creditSaleStore) ListPending(_ context.Context, createdBefore time.Time) ([]models.CreditSaleRecord, error) {
	cs.s.mu.RLock()
	defer cs.s.mu.RUnlock()
	var out []models.CreditSaleRecord
	for _, sale := range cs.s.creditSales {
		if sale.Status == models.StatusPending && sale.CreatedAt.Before(createdBefore) {
			out = append(out, *sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (cs creditSaleStore) MarkPaid(_ context.Context, id primitive.ObjectID, method models.PaymentMode, paidAt time.Time, processedBy string) (*models.CreditSaleRecord, error) {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.byID(id)
	if !ok || sale.Paid || sale.Status != models.StatusConfirmed {
		return nil, repository.ErrNotFound
	}
	date := paidAt
	sale.Paid = true
	sale.PaymentMethod = method
	sale.PaymentDate = &date
	sale.ProcessedBy = processedBy
	sale.UpdatedAt = paidAt
	out := *sale
	return &out, nil
}

func (cs creditSaleStore) RevertPaid(_ context.Context, id primitive.ObjectID, paidAt time.Time) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.byID(id)
	if !ok || !sale.Paid || sale.PaymentDate == nil || !sale.PaymentDate.Equal(paidAt) {
		return nil
	}
	sale.Paid = false
	sale.PaymentMethod = ""
	sale.PaymentDate = nil
	sale.ProcessedBy = ""
	return nil
}

func (cs creditSaleStore) MarkStockReserved(_ context.Context, id primitive.ObjectID, at time.Time) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.byID(id)
	if !ok {
		return repository.ErrNotFound
	}
	sale.StockReserved = true
	sale.UpdatedAt = at
	return nil
}

func (cs creditSaleStore) LinkSale(_ context.Context, id primitive.ObjectID, saleID primitive.ObjectID, at time.Time) error {
	cs.s.mu.Lock()
	defer cs.s.mu.Unlock()
	sale, ok := cs.byID(id)
	if !ok {
		return repository.ErrNotFound
	}
	linked := saleID
	sale.SaleID = &linked
	sale.UpdatedAt = at
	return nil
}

type customerStore struct{ s *Store }

func (c customerStore) FindOrCreateCustomer(_ context.Context, mobile, name string) (*models.Customer, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if existing, ok := c.s.customers[mobile]; ok {
		out := *existing
		return &out, nil
	}
	customer := &models.Customer{ID: primitive.NewObjectID(), Mobile: mobile, Name: name, CreatedAt: time.Now().UTC()}
	c.s.customers[mobile] = customer
	out := *customer
	return &out, nil
}

type attachmentStore struct{ s *Store }

func (a attachmentStore) LinkAttachments(_ context.Context, transactionRef, entityID, entityType string) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	now := time.Now().UTC()
	for i := range a.s.attachments {
		att := &a.s.attachments[i]
		if att.TransactionRef != transactionRef {
			continue
		}
		if att.EntityID == entityID && att.EntityType == entityType {
			continue
		}
		att.EntityID = entityID
		att.EntityType = entityType
		att.LinkedAt = &now
	}
	return nil
}

type movementStore struct{ s *Store }

func (m movementStore) Record(_ context.Context, movement models.StockMovement) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if movement.ID.IsZero() {
		movement.ID = primitive.NewObjectID()
	}
	m.s.movements = append(m.s.movements, movement)
	return nil
}

func (m movementStore) ListByItem(_ context.Context, itemID primitive.ObjectID, limit int) ([]models.StockMovement, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.StockMovement
	for i := len(m.s.movements) - 1; i >= 0; i-- {
		if m.s.movements[i].ItemID != itemID {
			continue
		}
		out = append(out, m.s.movements[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func cloneItem(item models.StockItem) models.StockItem {
	out := item
	if item.ReservationRefs != nil {
		out.ReservationRefs = append([]string(nil), item.ReservationRefs...)
	}
	if item.CancelledRefs != nil {
		out.CancelledRefs = append([]string(nil), item.CancelledRefs...)
	}
	return out
}

func ptrItem(item models.StockItem) *models.StockItem {
	out := cloneItem(item)
	return &out
}
