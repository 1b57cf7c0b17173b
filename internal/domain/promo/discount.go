package promo

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Calculate returns the discount of c on orderTotal and the amount left to
// pay. The discount is capped by MaxDiscountAmount and never exceeds the
// order total.
func Calculate(c *Code, orderTotal decimal.Decimal) (discount, final decimal.Decimal, err error) {
	switch c.DiscountType {
	case DiscountFlat:
		discount = c.DiscountValue
	case DiscountPercentage:
		discount = orderTotal.Mul(c.DiscountValue).Div(hundred)
	default:
		return decimal.Zero, decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if c.MaxDiscountAmount.Valid && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
		discount = c.MaxDiscountAmount.Decimal
	}
	if discount.GreaterThan(orderTotal) {
		discount = orderTotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	discount = discount.Round(2)
	return discount, orderTotal.Sub(discount).Round(2), nil
}
