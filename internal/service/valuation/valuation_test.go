package valuation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/lounge/internal/domain/models"
)

func TestRecompute(t *testing.T) {
	v := Recompute(5, 10, 15)
	require.InDelta(t, 50.0, v.StockValue, 1e-9)
	require.InDelta(t, 25.0, v.ProjectedProfit, 1e-9)

	v = Recompute(0, 10, 15)
	require.Zero(t, v.StockValue)
	require.Zero(t, v.ProjectedProfit)

	// Selling below cost yields a negative projected profit.
	v = Recompute(4, 12.5, 10)
	require.InDelta(t, 50.0, v.StockValue, 1e-9)
	require.InDelta(t, -10.0, v.ProjectedProfit, 1e-9)
}

func TestWeightedAverage(t *testing.T) {
	require.Equal(t, 150.0, WeightedAverage(10, 100, 10, 200))
	require.Equal(t, 50.0, WeightedAverage(0, 0, 20, 50))
	require.Equal(t, 50.0, WeightedAverage(0, 999, 20, 50))
	require.InDelta(t, 106.6666666667, WeightedAverage(10, 100, 5, 120), 1e-6)
}

func TestWeightedAverageFallsBackToIncomingPrice(t *testing.T) {
	require.Equal(t, 42.0, WeightedAverage(0, 10, 0, 42))
}

func TestConsistent(t *testing.T) {
	item := models.StockItem{QuantityOnHand: 20, CostPrice: 150, SellingPrice: 200}
	require.False(t, Consistent(item))

	Apply(&item)
	require.Equal(t, 3000.0, item.StockValue)
	require.Equal(t, 1000.0, item.ProjectedProfit)
	require.True(t, Consistent(item))

	item.StockValue += 0.5
	require.False(t, Consistent(item))
}

func TestSaleTotal(t *testing.T) {
	require.Equal(t, 75.0, SaleTotal(5, 15, 0, 0))
	require.Equal(t, 72.5, SaleTotal(5, 15, 5, 2.5))
	require.Equal(t, 0.3, SaleTotal(3, 0.1, 0, 0))
	require.Equal(t, 75.0, Subtotal(5, 15))
}
