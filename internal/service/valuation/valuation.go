// Package valuation holds the pure arithmetic behind stock valuation. Every mutating stock
// operation recomputes the derived fields with it before the record is persisted.
package valuation

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/lounge/internal/domain/models"
)

// relTolerance is the relative error accepted between stored and recomputed derived values.
// The mongodb store evaluates the same formulas in float64 on the server.
const relTolerance = 1e-6

// Valuation holds the derived fields of a stock item.
type Valuation struct {
	StockValue      float64
	ProjectedProfit float64
}

// Recompute returns stockValue = qty*cost and projectedProfit = qty*(selling-cost).
func Recompute(quantity int64, costPrice, sellingPrice float64) Valuation {
	qty := decimal.NewFromInt(quantity)
	cost := decimal.NewFromFloat(costPrice)
	selling := decimal.NewFromFloat(sellingPrice)

	return Valuation{
		StockValue:      qty.Mul(cost).InexactFloat64(),
		ProjectedProfit: qty.Mul(selling.Sub(cost)).InexactFloat64(),
	}
}

// WeightedAverage blends the price of the quantity on hand with an incoming delivery.
// When the resulting quantity is not positive the incoming price wins.
func WeightedAverage(oldQty int64, oldPrice float64, incomingQty int64, incomingPrice float64) float64 {
	newQty := decimal.NewFromInt(oldQty + incomingQty)
	if !newQty.IsPositive() {
		return incomingPrice
	}
	total := decimal.NewFromInt(oldQty).Mul(decimal.NewFromFloat(oldPrice)).
		Add(decimal.NewFromInt(incomingQty).Mul(decimal.NewFromFloat(incomingPrice)))
	return total.Div(newQty).InexactFloat64()
}

// Apply writes freshly computed derived fields onto item.
func Apply(item *models.StockItem) {
	v := Recompute(item.QuantityOnHand, item.CostPrice, item.SellingPrice)
	item.StockValue = v.StockValue
	item.ProjectedProfit = v.ProjectedProfit
}

// Consistent reports whether the stored derived fields match the quantity and prices of item.
func Consistent(item models.StockItem) bool {
	want := Recompute(item.QuantityOnHand, item.CostPrice, item.SellingPrice)
	return approxEqual(item.StockValue, want.StockValue) && approxEqual(item.ProjectedProfit, want.ProjectedProfit)
}

func approxEqual(got, want float64) bool {
	scale := math.Max(1, math.Abs(want))
	return math.Abs(got-want) <= relTolerance*scale
}

// SaleTotal computes quantity*unitPrice - discount + tax rounded to two decimals.
func SaleTotal(quantity int64, unitPrice, discount, tax float64) float64 {
	subtotal := decimal.NewFromInt(quantity).Mul(decimal.NewFromFloat(unitPrice))
	return subtotal.
		Sub(decimal.NewFromFloat(discount)).
		Add(decimal.NewFromFloat(tax)).
		Round(2).
		InexactFloat64()
}

// Subtotal is quantity*unitPrice.
func Subtotal(quantity int64, unitPrice float64) float64 {
	return decimal.NewFromInt(quantity).Mul(decimal.NewFromFloat(unitPrice)).InexactFloat64()
}
