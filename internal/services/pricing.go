package services

import (
	"context"

	"github.com/shopspring/decimal"
)

const moneyScale = 2

// ShippingPolicy quotes the shipping charge for an order subtotal.
type ShippingPolicy interface {
	Quote(subtotal decimal.Decimal) decimal.Decimal
}

// FlatShippingPolicy charges Rate unless the subtotal reaches FreeOver. A zero FreeOver never
// waives shipping.
type FlatShippingPolicy struct {
	Rate     decimal.Decimal
	FreeOver decimal.Decimal
}

func (p FlatShippingPolicy) Quote(subtotal decimal.Decimal) decimal.Decimal {
	if p.FreeOver.IsPositive() && subtotal.GreaterThanOrEqual(p.FreeOver) {
		return decimal.Zero
	}
	if p.Rate.IsNegative() {
		return decimal.Zero
	}
	return p.Rate.Round(moneyScale)
}

// TaxCalculator computes tax for an order. Real tax rules live outside this service.
type TaxCalculator interface {
	Tax(ctx context.Context, subtotal, shipping decimal.Decimal, address ShippingAddress) (decimal.Decimal, error)
}

// FlatRateTax applies Rate to the subtotal only.
type FlatRateTax struct {
	Rate decimal.Decimal
}

func (t FlatRateTax) Tax(_ context.Context, subtotal, _ decimal.Decimal, _ ShippingAddress) (decimal.Decimal, error) {
	if !t.Rate.IsPositive() {
		return decimal.Zero, nil
	}
	return subtotal.Mul(t.Rate).Round(moneyScale), nil
}

// computeTotals rounds every component before summing so Total equals the parts exactly.
func computeTotals(ctx context.Context, items []OrderItem, shipping ShippingPolicy, tax TaxCalculator, address ShippingAddress) (OrderTotals, error) {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = subtotal.Round(moneyScale)

	shippingCost := shipping.Quote(subtotal).Round(moneyScale)
	taxAmount, err := tax.Tax(ctx, subtotal, shippingCost, address)
	if err != nil {
		return OrderTotals{}, err
	}
	taxAmount = taxAmount.Round(moneyScale)

	return OrderTotals{
		Subtotal: subtotal,
		Shipping: shippingCost,
		Tax:      taxAmount,
		Total:    subtotal.Add(shippingCost).Add(taxAmount),
	}, nil
}
