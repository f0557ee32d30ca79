package coupon

import "github.com/shopspring/decimal"

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// ComputeDiscount calculates the discount amount a coupon yields against the
// eligible subtotal. Percentage discounts are computed at full precision and
// capped by MaxDiscountAmount when set; fixed discounts are clamped to the
// subtotal so the total never goes negative. The result is rounded to 2
// decimal places with banker's rounding as the final step.
func ComputeDiscount(c *Coupon, eligibleSubtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = eligibleSubtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount != nil && amount.GreaterThan(*c.MaxDiscountAmount) {
			amount = *c.MaxDiscountAmount
		}
	case DiscountFixed:
		amount = c.DiscountValue
		if amount.GreaterThan(eligibleSubtotal) {
			amount = eligibleSubtotal
		}
	}
	if amount.IsNegative() {
		amount = zero
	}
	return amount.RoundBank(2)
}
