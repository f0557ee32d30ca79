package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/services/redemption"
)

type ledgerStub struct {
	reserveFn       func(ctx context.Context, in redemption.ReserveInput) (*redemption.Record, error)
	usageFn         func(ctx context.Context, tenantID, couponID string) (*redemption.Usage, error)
	releaseFn       func(ctx context.Context, tenantID, token string) (*redemption.Record, error)
	findByBookingFn func(ctx context.Context, tenantID, bookingID string) (*redemption.Record, error)
	released        []string
}

func (m *ledgerStub) Reserve(ctx context.Context, in redemption.ReserveInput) (*redemption.Record, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, in)
	}
	return &redemption.Record{ID: "tok1", State: redemption.StateReserved}, nil
}

func (m *ledgerStub) Confirm(ctx context.Context, in redemption.ConfirmInput) (*redemption.Record, error) {
	return &redemption.Record{ID: in.Token, State: redemption.StateConfirmed, BookingID: in.BookingID}, nil
}

func (m *ledgerStub) Release(ctx context.Context, tenantID, token string) (*redemption.Record, error) {
	m.released = append(m.released, token)
	if m.releaseFn != nil {
		return m.releaseFn(ctx, tenantID, token)
	}
	return &redemption.Record{ID: token, State: redemption.StateReleased}, nil
}

func (m *ledgerStub) FindByBooking(ctx context.Context, tenantID, bookingID string) (*redemption.Record, error) {
	if m.findByBookingFn != nil {
		return m.findByBookingFn(ctx, tenantID, bookingID)
	}
	return nil, nil
}

func (m *ledgerStub) SweepExpired(ctx context.Context, tenantID string) (int64, error) {
	return 0, nil
}

func (m *ledgerStub) Usage(ctx context.Context, tenantID, couponID string) (*redemption.Usage, error) {
	if m.usageFn != nil {
		return m.usageFn(ctx, tenantID, couponID)
	}
	return &redemption.Usage{CouponID: couponID}, nil
}

type tenantStub struct {
	inactive map[string]bool
}

func (m tenantStub) IsTenantActive(ctx context.Context, tenantID string) (bool, error) {
	return !m.inactive[tenantID], nil
}

func newTestService(t *testing.T, ledger redemption.Ledger, tenants tenantStub) (*Service, *Registry) {
	t.Helper()

	registry, _ := newTestRegistry(t, nil)
	if ledger == nil {
		ledger = &ledgerStub{}
	}
	svc := NewService(ServiceParams{
		Registry: registry,
		Ledger:   ledger,
		Tenants:  tenants,
		Cache:    NewDefinitionCache(30 * time.Second),
		Config:   &config.Config{},
	})
	return svc, registry
}

func seedCoupon(t *testing.T, registry *Registry, in CreateCouponInput) *Coupon {
	t.Helper()
	c, err := registry.Create(context.Background(), in)
	require.NoError(t, err)
	return c
}

func TestService_ValidateAndPrice(t *testing.T) {
	svc, registry := newTestService(t, nil, tenantStub{})
	seedCoupon(t, registry, CreateCouponInput{
		TenantID:          "t1",
		Code:              "SAVE10",
		Name:              "Save 10",
		DiscountType:      DiscountPercentage,
		DiscountValue:     dec("10"),
		MaxDiscountAmount: decPtr("20.00"),
		MinOrderValue:     decPtr("50.00"),
	})

	quote, err := svc.ValidateAndPrice(context.Background(), ValidateRequest{
		TenantID:   "t1",
		Code:       "save10",
		CustomerID: "cust1",
		Subtotal:   dec("300.00"),
		LineItems: []LineItem{
			{ID: "li1", ServiceID: "svc1", Amount: dec("300.00")},
		},
	})
	require.NoError(t, err)
	require.True(t, quote.DiscountAmount.Equal(dec("20.00")), "cap applies, got %s", quote.DiscountAmount)
	require.True(t, quote.FinalTotal.Equal(dec("280.00")))
	require.Equal(t, []string{"li1"}, quote.EligibleLineItemIDs)
}

func TestService_ValidateUnknownCode(t *testing.T) {
	svc, _ := newTestService(t, nil, tenantStub{})

	_, err := svc.ValidateAndPrice(context.Background(), ValidateRequest{
		TenantID:   "t1",
		Code:       "NOPE",
		CustomerID: "cust1",
		Subtotal:   dec("100.00"),
		LineItems:  []LineItem{{ID: "li1", ServiceID: "svc1", Amount: dec("100.00")}},
	})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestService_ValidateInactiveTenant(t *testing.T) {
	svc, registry := newTestService(t, nil, tenantStub{inactive: map[string]bool{"t1": true}})
	seedCoupon(t, registry, CreateCouponInput{
		TenantID:      "t1",
		Code:          "SAVE10",
		Name:          "x",
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
	})

	_, err := svc.ValidateAndPrice(context.Background(), ValidateRequest{
		TenantID:   "t1",
		Code:       "SAVE10",
		CustomerID: "cust1",
		Subtotal:   dec("100.00"),
		LineItems:  []LineItem{{ID: "li1", ServiceID: "svc1", Amount: dec("100.00")}},
	})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusForbidden, base.Code)
}

func TestService_ValidateIneligible(t *testing.T) {
	svc, registry := newTestService(t, nil, tenantStub{})
	seedCoupon(t, registry, CreateCouponInput{
		TenantID:      "t1",
		Code:          "MIN150",
		Name:          "x",
		DiscountType:  DiscountPercentage,
		DiscountValue: dec("10"),
		MinOrderValue: decPtr("150.00"),
	})

	_, err := svc.ValidateAndPrice(context.Background(), ValidateRequest{
		TenantID:   "t1",
		Code:       "MIN150",
		CustomerID: "cust1",
		Subtotal:   dec("100.00"),
		LineItems:  []LineItem{{ID: "li1", ServiceID: "svc1", Amount: dec("100.00")}},
	})
	var ineligible IneligibleError
	require.ErrorAs(t, err, &ineligible)
	require.Equal(t, ReasonBelowMinimum, ineligible.Reason)
}

func TestService_ValidateReportsExhaustion(t *testing.T) {
	ledger := &ledgerStub{
		usageFn: func(ctx context.Context, tenantID, couponID string) (*redemption.Usage, error) {
			return &redemption.Usage{CouponID: couponID, Confirmed: 5}, nil
		},
	}
	svc, registry := newTestService(t, ledger, tenantStub{})
	seedCoupon(t, registry, CreateCouponInput{
		TenantID:        "t1",
		Code:            "LIMITED",
		Name:            "x",
		DiscountType:    DiscountFixed,
		DiscountValue:   dec("5"),
		TotalUsageLimit: intPtr(5),
	})

	_, err := svc.ValidateAndPrice(context.Background(), ValidateRequest{
		TenantID:   "t1",
		Code:       "LIMITED",
		CustomerID: "cust1",
		Subtotal:   dec("100.00"),
		LineItems:  []LineItem{{ID: "li1", ServiceID: "svc1", Amount: dec("100.00")}},
	})
	var limit redemption.LimitExceededError
	require.ErrorAs(t, err, &limit)
	require.Equal(t, redemption.LimitGlobal, limit.Scope)
}

func TestService_ReservePassesLimitsToLedger(t *testing.T) {
	var got redemption.ReserveInput
	ledger := &ledgerStub{
		reserveFn: func(ctx context.Context, in redemption.ReserveInput) (*redemption.Record, error) {
			got = in
			return &redemption.Record{ID: "tok1", State: redemption.StateReserved}, nil
		},
	}
	svc, registry := newTestService(t, ledger, tenantStub{})
	c := seedCoupon(t, registry, CreateCouponInput{
		TenantID:              "t1",
		Code:                  "SAVE10",
		Name:                  "x",
		DiscountType:          DiscountPercentage,
		DiscountValue:         dec("10"),
		TotalUsageLimit:       intPtr(100),
		PerCustomerUsageLimit: intPtr(1),
	})

	rec, err := svc.Reserve(context.Background(), ReserveRequest{
		TenantID:   "t1",
		Code:       "save10",
		CustomerID: "cust1",
	})
	require.NoError(t, err)
	require.Equal(t, "tok1", rec.ID)
	require.Equal(t, c.ID, got.CouponID)
	require.Equal(t, "cust1", got.CustomerID)
	require.NotNil(t, got.TotalUsageLimit)
	require.Equal(t, 100, *got.TotalUsageLimit)
	require.NotNil(t, got.PerCustomerUsageLimit)
	require.Equal(t, 1, *got.PerCustomerUsageLimit)
}

func TestService_ReserveExpiredCoupon(t *testing.T) {
	svc, registry := newTestService(t, nil, tenantStub{})
	seedCoupon(t, registry, CreateCouponInput{
		TenantID:      "t1",
		Code:          "OLD",
		Name:          "x",
		DiscountType:  DiscountFixed,
		DiscountValue: dec("5"),
		StartAt:       timePtr(time.Now().Add(-48 * time.Hour)),
		EndAt:         timePtr(time.Now().Add(-24 * time.Hour)),
	})

	_, err := svc.Reserve(context.Background(), ReserveRequest{
		TenantID:   "t1",
		Code:       "OLD",
		CustomerID: "cust1",
	})
	var ineligible IneligibleError
	require.ErrorAs(t, err, &ineligible)
	require.Equal(t, ReasonExpired, ineligible.Reason)
}

func TestService_OnBookingCancelled(t *testing.T) {
	ledger := &ledgerStub{
		findByBookingFn: func(ctx context.Context, tenantID, bookingID string) (*redemption.Record, error) {
			if bookingID == "bk1" {
				return &redemption.Record{ID: "tok1", State: redemption.StateConfirmed, BookingID: "bk1"}, nil
			}
			return nil, nil
		},
	}
	svc, _ := newTestService(t, ledger, tenantStub{})

	require.NoError(t, svc.OnBookingCancelled(context.Background(), "t1", "bk1"))
	require.Equal(t, []string{"tok1"}, ledger.released)

	// bookings without a redemption are ignored
	require.NoError(t, svc.OnBookingCancelled(context.Background(), "t1", "bk-none"))
	require.Equal(t, []string{"tok1"}, ledger.released)
}

func TestService_CacheServesSecondLookup(t *testing.T) {
	svc, registry := newTestService(t, nil, tenantStub{})
	c := seedCoupon(t, registry, CreateCouponInput{
		TenantID:      "t1",
		Code:          "CACHED",
		Name:          "x",
		DiscountType:  DiscountFixed,
		DiscountValue: dec("5"),
	})

	order := ValidateRequest{
		TenantID:   "t1",
		Code:       "CACHED",
		CustomerID: "cust1",
		Subtotal:   dec("50.00"),
		LineItems:  []LineItem{{ID: "li1", ServiceID: "svc1", Amount: dec("50.00")}},
	}

	first, err := svc.ValidateAndPrice(context.Background(), order)
	require.NoError(t, err)

	// deleting the row behind the cache: the hot entry still answers
	require.NoError(t, registry.db.Where("id = ?", c.ID).Delete(&Coupon{}).Error)

	second, err := svc.ValidateAndPrice(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, first.CouponID, second.CouponID)
}
