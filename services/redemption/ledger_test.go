package redemption

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type seqStub struct {
	n int32
}

func (s *seqStub) NextCouponCode(ctx context.Context, tenantID string) (string, error) {
	return fmt.Sprintf("CPN-%04d", atomic.AddInt32(&s.n, 1)), nil
}

func (s *seqStub) NextRedemptionRef(ctx context.Context, tenantID string) (string, error) {
	return fmt.Sprintf("RDM-%04d", atomic.AddInt32(&s.n, 1)), nil
}

func newTestLedger(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Record{}, &UsageCounter{})
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewService(ServiceParams{
		DB:     db,
		Node:   node,
		Seq:    &seqStub{},
		Config: &config.Config{},
	})
}

func intPtr(n int) *int { return &n }

func reserveInput(limit *int) ReserveInput {
	return ReserveInput{
		TenantID:        "t1",
		CouponID:        "coupon1",
		CustomerID:      "cust1",
		TotalUsageLimit: limit,
	}
}

func TestLedger_ReserveConfirmLifecycle(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Reserve(ctx, reserveInput(intPtr(10)))
	require.NoError(t, err)
	require.Equal(t, StateReserved, rec.State)
	require.NotEmpty(t, rec.ID)
	require.NotEmpty(t, rec.Reference)
	require.True(t, rec.ExpiresAt.After(time.Now()))

	amount := decimal.RequireFromString("12.50")
	confirmed, err := ledger.Confirm(ctx, ConfirmInput{
		TenantID: "t1", Token: rec.ID, BookingID: "bk1", AmountDiscounted: amount,
	})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, confirmed.State)
	require.Equal(t, "bk1", confirmed.BookingID)
	require.True(t, confirmed.AmountDiscounted.Equal(amount))

	// same booking confirming again is a no-op
	again, err := ledger.Confirm(ctx, ConfirmInput{
		TenantID: "t1", Token: rec.ID, BookingID: "bk1", AmountDiscounted: amount,
	})
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, again.State)

	// a different booking must not steal the reservation
	_, err = ledger.Confirm(ctx, ConfirmInput{
		TenantID: "t1", Token: rec.ID, BookingID: "bk2", AmountDiscounted: amount,
	})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusConflict, base.Code)
}

func TestLedger_ConfirmUnknownToken(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Confirm(context.Background(), ConfirmInput{
		TenantID: "t1", Token: "missing", BookingID: "bk1",
	})
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestLedger_ConfirmExpiredReservation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Reserve(ctx, ReserveInput{
		TenantID:   "t1",
		CouponID:   "coupon1",
		CustomerID: "cust1",
		TTL:        time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = ledger.Confirm(ctx, ConfirmInput{
		TenantID: "t1", Token: rec.ID, BookingID: "bk1",
	})
	var expired AlreadyExpiredError
	require.ErrorAs(t, err, &expired)
	require.Equal(t, rec.ID, expired.Token)
}

func TestLedger_ExpiredReservationFreesCapacityLazily(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// burn the only slot with a reservation that dies immediately
	_, err := ledger.Reserve(ctx, ReserveInput{
		TenantID:        "t1",
		CouponID:        "coupon1",
		CustomerID:      "cust1",
		TotalUsageLimit: intPtr(1),
		TTL:             time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// no sweep has run, the limit check alone must ignore the corpse
	rec, err := ledger.Reserve(ctx, reserveInput(intPtr(1)))
	require.NoError(t, err)
	require.Equal(t, StateReserved, rec.State)
}

func TestLedger_ReleaseRoundTrip(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Reserve(ctx, reserveInput(intPtr(1)))
	require.NoError(t, err)

	// the slot is taken
	_, err = ledger.Reserve(ctx, reserveInput(intPtr(1)))
	var limit LimitExceededError
	require.ErrorAs(t, err, &limit)
	require.Equal(t, LimitGlobal, limit.Scope)

	released, err := ledger.Release(ctx, "t1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, StateReleased, released.State)

	// releasing twice is fine
	_, err = ledger.Release(ctx, "t1", rec.ID)
	require.NoError(t, err)

	// capacity is free again
	rec2, err := ledger.Reserve(ctx, reserveInput(intPtr(1)))
	require.NoError(t, err)
	require.NotEqual(t, rec.ID, rec2.ID)

	usage, err := ledger.Usage(ctx, "t1", "coupon1")
	require.NoError(t, err)
	require.Zero(t, usage.Confirmed)
	require.Equal(t, int64(1), usage.Reserved)
	require.Equal(t, int64(1), usage.Released)
}

func TestLedger_ReleaseUnknownToken(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.Release(context.Background(), "t1", "missing")
	var base errutil.BaseError
	require.ErrorAs(t, err, &base)
	require.Equal(t, errutil.StatusNotFound, base.Code)
}

func TestLedger_GlobalLimitUnderConcurrency(t *testing.T) {
	ledger := newTestLedger(t)

	const total = 5
	const callers = 25

	var wg sync.WaitGroup
	errs := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := ledger.Reserve(context.Background(), ReserveInput{
				TenantID:        "t1",
				CouponID:        "coupon1",
				CustomerID:      fmt.Sprintf("cust%d", n),
				TotalUsageLimit: intPtr(total),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var succeeded, limited int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var limit LimitExceededError
		require.ErrorAs(t, err, &limit)
		require.Equal(t, LimitGlobal, limit.Scope)
		limited++
	}
	require.Equal(t, total, succeeded)
	require.Equal(t, callers-total, limited)

	usage, err := ledger.Usage(context.Background(), "t1", "coupon1")
	require.NoError(t, err)
	require.Equal(t, int64(total), usage.Reserved)
}

func TestLedger_PerCustomerLimitUnderConcurrency(t *testing.T) {
	ledger := newTestLedger(t)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(context.Background(), ReserveInput{
				TenantID:              "t1",
				CouponID:              "coupon1",
				CustomerID:            "cust1",
				TotalUsageLimit:       intPtr(100),
				PerCustomerUsageLimit: intPtr(1),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, limited int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var limit LimitExceededError
		require.ErrorAs(t, err, &limit)
		require.Equal(t, LimitPerCustomer, limit.Scope)
		limited++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, limited)

	// a different customer still gets through
	_, err := ledger.Reserve(context.Background(), ReserveInput{
		TenantID:              "t1",
		CouponID:              "coupon1",
		CustomerID:            "cust2",
		TotalUsageLimit:       intPtr(100),
		PerCustomerUsageLimit: intPtr(1),
	})
	require.NoError(t, err)
}

func TestLedger_LastSlotRace(t *testing.T) {
	ledger := newTestLedger(t)

	type outcome struct {
		token string
		err   error
	}

	var wg sync.WaitGroup
	outcomes := make(chan outcome, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec, err := ledger.Reserve(context.Background(), ReserveInput{
				TenantID:        "t1",
				CouponID:        "coupon1",
				CustomerID:      fmt.Sprintf("cust%d", n),
				TotalUsageLimit: intPtr(1),
			})
			if err != nil {
				outcomes <- outcome{err: err}
				return
			}
			outcomes <- outcome{token: rec.ID}
		}(i)
	}
	wg.Wait()
	close(outcomes)

	var token string
	var limited int
	for o := range outcomes {
		if o.err == nil {
			require.Empty(t, token, "exactly one caller gets the token")
			token = o.token
			continue
		}
		var limit LimitExceededError
		require.ErrorAs(t, o.err, &limit)
		require.Equal(t, LimitGlobal, limit.Scope)
		limited++
	}
	require.NotEmpty(t, token)
	require.Equal(t, 1, limited)

	// the winner can confirm
	_, err := ledger.Confirm(context.Background(), ConfirmInput{
		TenantID: "t1", Token: token, BookingID: "bk1",
		AmountDiscounted: decimal.RequireFromString("5.00"),
	})
	require.NoError(t, err)
}

func TestLedger_SweepExpired(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ledger.Reserve(ctx, ReserveInput{
			TenantID:   "t1",
			CouponID:   "coupon1",
			CustomerID: fmt.Sprintf("cust%d", i),
			TTL:        time.Millisecond,
		})
		require.NoError(t, err)
	}
	live, err := ledger.Reserve(ctx, ReserveInput{
		TenantID:   "t1",
		CouponID:   "coupon1",
		CustomerID: "cust-live",
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	released, err := ledger.SweepExpired(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(3), released)

	// second sweep has nothing left to do
	released, err = ledger.SweepExpired(ctx, "t1")
	require.NoError(t, err)
	require.Zero(t, released)

	// the live reservation survived
	usage, err := ledger.Usage(ctx, "t1", "coupon1")
	require.NoError(t, err)
	require.Equal(t, int64(1), usage.Reserved)
	require.Equal(t, int64(3), usage.Released)
	require.True(t, live.ExpiresAt.After(time.Now()))
}

func TestLedger_FindByBooking(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	rec, err := ledger.Reserve(ctx, reserveInput(nil))
	require.NoError(t, err)
	_, err = ledger.Confirm(ctx, ConfirmInput{
		TenantID: "t1", Token: rec.ID, BookingID: "bk9",
		AmountDiscounted: decimal.RequireFromString("1.00"),
	})
	require.NoError(t, err)

	found, err := ledger.FindByBooking(ctx, "t1", "bk9")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, rec.ID, found.ID)

	none, err := ledger.FindByBooking(ctx, "t1", "bk-missing")
	require.NoError(t, err)
	require.Nil(t, none)
}
