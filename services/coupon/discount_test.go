package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestComputeDiscount_PercentageCapped(t *testing.T) {
	c := &Coupon{
		DiscountType:      DiscountPercentage,
		DiscountValue:     dec("10"),
		MaxDiscountAmount: decPtr("20.00"),
	}

	got := ComputeDiscount(c, dec("300.00"))
	require.True(t, got.Equal(dec("20.00")), "expected 20.00, got %s", got)
}

func TestComputeDiscount_PercentageUnderCap(t *testing.T) {
	c := &Coupon{
		DiscountType:      DiscountPercentage,
		DiscountValue:     dec("10"),
		MaxDiscountAmount: decPtr("20.00"),
	}

	got := ComputeDiscount(c, dec("150.00"))
	require.True(t, got.Equal(dec("15.00")), "expected 15.00, got %s", got)
}

func TestComputeDiscount_FixedClampedToSubtotal(t *testing.T) {
	c := &Coupon{
		DiscountType:  DiscountFixed,
		DiscountValue: dec("15.00"),
	}

	got := ComputeDiscount(c, dec("10.00"))
	require.True(t, got.Equal(dec("10.00")), "expected 10.00, got %s", got)
}

func TestComputeDiscount_CapNeverExceeded(t *testing.T) {
	c := &Coupon{
		DiscountType:      DiscountPercentage,
		DiscountValue:     dec("35"),
		MaxDiscountAmount: decPtr("42.50"),
	}

	for _, sub := range []string{"0.01", "1", "99.99", "121.43", "10000", "123456.78"} {
		got := ComputeDiscount(c, dec(sub))
		require.True(t, got.LessThanOrEqual(dec("42.50")),
			"subtotal %s produced discount %s above cap", sub, got)
	}
}

func TestComputeDiscount_FixedNeverExceedsSubtotal(t *testing.T) {
	c := &Coupon{
		DiscountType:  DiscountFixed,
		DiscountValue: dec("25.00"),
	}

	for _, sub := range []string{"0", "0.01", "24.99", "25.00", "25.01", "500"} {
		subtotal := dec(sub)
		got := ComputeDiscount(c, subtotal)
		require.True(t, got.LessThanOrEqual(subtotal),
			"subtotal %s produced discount %s above it", sub, got)
		require.False(t, got.IsNegative())
	}
}

func TestComputeDiscount_RoundsHalfToEven(t *testing.T) {
	c := &Coupon{
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
	}

	// 10% of 10.05 is 1.005, banker's rounding lands on 1.00
	got := ComputeDiscount(c, dec("10.05"))
	require.True(t, got.Equal(dec("1.00")), "expected 1.00, got %s", got)

	// 10% of 10.15 is 1.015, rounds to 1.02
	got = ComputeDiscount(c, dec("10.15"))
	require.True(t, got.Equal(dec("1.02")), "expected 1.02, got %s", got)
}

func TestComputeDiscount_IntermediatePrecisionKept(t *testing.T) {
	// 33.33% of 0.03: naive per-step rounding would hit zero twice
	c := &Coupon{
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("33.33"),
	}

	got := ComputeDiscount(c, dec("0.03"))
	require.True(t, got.Equal(dec("0.01")), "expected 0.01, got %s", got)
}
