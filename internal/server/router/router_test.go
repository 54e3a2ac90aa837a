package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/lounge/internal/domain/models"
	"github.com/mamadbah2/lounge/internal/metrics"
	"github.com/mamadbah2/lounge/internal/repository/memory"
	"github.com/mamadbah2/lounge/internal/server/handlers"
	"github.com/mamadbah2/lounge/internal/service/sales"
	"github.com/mamadbah2/lounge/internal/service/stock"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("no primary") }

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	store := memory.New()
	m := metrics.New()
	stockSvc := stock.NewService(store.Stock(), store.Attachments(), store.Movements(), nil, stock.WithMetrics(m))
	salesSvc := sales.NewService(stockSvc, store.Sales(), store.CreditSales(), store.Customers(), store.Attachments(), nil, sales.WithMetrics(m))
	identity := handlers.HeaderIdentity{}
	return New(Dependencies{
		Stock:   handlers.NewStockHandler(stockSvc, identity, nil),
		Sales:   handlers.NewSaleHandler(salesSvc, identity, nil),
		Metrics: m,
		Store:   store,
	})
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.DefaultIdentityHeader, "amadou")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	r := newEngine(t)
	rr := do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	down := New(Dependencies{
		Stock: handlers.NewStockHandler(nil, nil, nil),
		Sales: handlers.NewSaleHandler(nil, nil, nil),
		Store: failingPinger{},
	})
	rr = do(t, down, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestSaleFlowOverHTTP(t *testing.T) {
	r := newEngine(t)

	rr := do(t, r, http.MethodPost, "/api/stock", map[string]any{"code": "SODA", "name": "Soda 33cl", "quantity": 5, "cost_price": 10, "selling_price": 15})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	item := decode[models.StockItem](t, rr)

	rr = do(t, r, http.MethodPost, "/api/stock", map[string]any{"code": "SODA", "name": "again"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/sales", map[string]any{"item": "SODA", "quantity": 5, "payment_mode": "cash"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	receipt := decode[sales.SaleReceipt](t, rr)
	require.InDelta(t, 75, receipt.Sale.TotalAmount, 1e-9)
	require.Equal(t, "amadou", receipt.Sale.SoldBy)
	require.EqualValues(t, 0, receipt.Stock.QuantityOnHand)

	rr = do(t, r, http.MethodPost, "/api/sales", map[string]any{"item": "SODA", "quantity": 1, "payment_mode": "cash"})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "insufficient stock")

	rr = do(t, r, http.MethodPost, "/api/sales", map[string]any{"item": "SODA", "quantity": 1, "payment_mode": "credit"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/stock/"+item.ID.Hex()+"/restock", map[string]any{"quantity": 20, "unit_cost": 50, "unit_selling_price": 70})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	restocked := decode[models.StockItem](t, rr)
	require.EqualValues(t, 20, restocked.QuantityOnHand)
	require.InDelta(t, 50, restocked.CostPrice, 1e-9)

	rr = do(t, r, http.MethodGet, "/api/stock/SODA/movements?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	movements := decode[struct {
		Movements []models.StockMovement `json:"movements"`
	}](t, rr)
	require.Len(t, movements.Movements, 2)
	require.Equal(t, models.MovementRestock, movements.Movements[0].Kind)

	rr = do(t, r, http.MethodGet, "/api/stock/SODA/movements?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `lounge_stock_reservations_total{outcome="applied"} 1`)
}

func TestCreditFlowOverHTTP(t *testing.T) {
	r := newEngine(t)
	rr := do(t, r, http.MethodPost, "/api/stock", map[string]any{"code": "WHISKY", "name": "Whisky", "quantity": 10, "cost_price": 40, "selling_price": 60})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/credit-sales", map[string]any{"item": "WHISKY", "quantity": 2, "customer_mobile": "620", "customer_name": "Fatou"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	credit := decode[sales.CreditSaleReceipt](t, rr)
	require.EqualValues(t, 8, credit.Stock.QuantityOnHand)

	path := "/api/credit-sales/" + credit.CreditSale.ID.Hex() + "/pay"
	rr = do(t, r, http.MethodPost, path, map[string]any{"payment_method": "mobile_transfer"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	payment := decode[sales.CreditPayment](t, rr)
	require.Equal(t, "amadou", payment.CreditSale.ProcessedBy)

	rr = do(t, r, http.MethodPost, path, map[string]any{"payment_method": "cash"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/credit-sales/000000000000000000000000/pay", map[string]any{"payment_method": "cash"})
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/stock/WHISKY", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 8, decode[models.StockItem](t, rr).QuantityOnHand)
}

func TestStockUpdateAndDelete(t *testing.T) {
	r := newEngine(t)
	rr := do(t, r, http.MethodPost, "/api/stock", map[string]any{"code": "ICE", "name": "Ice", "quantity": 4, "cost_price": 2, "selling_price": 3})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, r, http.MethodPatch, "/api/stock/ICE", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodPatch, "/api/stock/ICE", map[string]any{"overrides": map[string]any{"quantity_on_hand": 9}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.EqualValues(t, 9, decode[models.StockItem](t, rr).QuantityOnHand)

	rr = do(t, r, http.MethodDelete, "/api/stock/ICE", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/stock/ICE", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/stock", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"items":[]}`, rr.Body.String())
}
