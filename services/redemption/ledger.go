package redemption

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/db/option"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/sequence"
)

const (
	maxReserveAttempts = 3
	retryBackoff       = 25 * time.Millisecond
)

// Ledger is the transactional redemption store. It is the only component
// allowed to decide whether a coupon still has usage left, and it does so
// inside a database transaction holding a per-coupon row lock, so the
// check-then-insert can never interleave between two callers.
type Ledger interface {
	Reserve(ctx context.Context, in ReserveInput) (*Record, error)
	Confirm(ctx context.Context, in ConfirmInput) (*Record, error)
	Release(ctx context.Context, tenantID, token string) (*Record, error)
	FindByBooking(ctx context.Context, tenantID, bookingID string) (*Record, error)
	SweepExpired(ctx context.Context, tenantID string) (int64, error)
	Usage(ctx context.Context, tenantID, couponID string) (*Usage, error)
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	seq    sequence.Generator
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Seq    sequence.Generator
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		seq:    p.Seq,
		config: p.Config,
	}
}

type ReserveInput struct {
	TenantID              string
	CouponID              string
	CustomerID            string
	TotalUsageLimit       *int
	PerCustomerUsageLimit *int
	TTL                   time.Duration
}

type ConfirmInput struct {
	TenantID         string
	Token            string
	BookingID        string
	AmountDiscounted decimal.Decimal
}

// Reserve atomically checks both usage limits and inserts a reserved record.
// Transient transaction failures (deadlock, serialization) are retried a
// bounded number of times; limit violations are returned immediately as
// LimitExceededError.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*Record, error) {
	if in.TenantID == "" || in.CouponID == "" || in.CustomerID == "" {
		return nil, errutil.BadRequest("tenant_id, coupon_id and customer_id are required", nil)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.config.ReservationTTL()
	}

	ref, err := s.seq.NextRedemptionRef(ctx, in.TenantID)
	if err != nil {
		// the reference is display-only, a sequence outage must not block checkout
		zap.L().Warn("failed to allocate redemption reference", zap.Error(err))
		ref = ""
	}

	var rec *Record
	for attempt := 1; ; attempt++ {
		rec, err = s.reserveOnce(ctx, in, ttl, ref)
		if err == nil || !isRetryable(err) {
			break
		}
		if attempt >= maxReserveAttempts {
			zap.L().Error("reserve retries exhausted",
				zap.String("coupon_id", in.CouponID), zap.Error(err))
			return nil, errutil.ServiceUnavailable("redemption store busy, retry later", err)
		}
		time.Sleep(time.Duration(attempt) * retryBackoff)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) reserveOnce(ctx context.Context, in ReserveInput, ttl time.Duration, ref string) (*Record, error) {
	now := time.Now()
	rec := &Record{
		ID:         s.node.Generate().String(),
		TenantID:   in.TenantID,
		CouponID:   in.CouponID,
		CustomerID: in.CustomerID,
		Reference:  ref,
		State:      StateReserved,
		ExpiresAt:  now.Add(ttl),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := UsageCounter{
			ID:       s.node.Generate().String(),
			TenantID: in.TenantID,
			CouponID: in.CouponID,
		}
		if err := tx.Where(UsageCounter{CouponID: in.CouponID}).
			Attrs(counter).
			FirstOrCreate(&counter).Error; err != nil {
			return err
		}
		if err := s.lock(tx).
			Where("coupon_id = ?", in.CouponID).
			First(&UsageCounter{}).Error; err != nil {
			return err
		}

		if in.TotalUsageLimit != nil {
			var n int64
			if err := s.activeScope(tx, in.CouponID, now).Count(&n).Error; err != nil {
				return err
			}
			if n >= int64(*in.TotalUsageLimit) {
				return LimitExceededError{Scope: LimitGlobal}
			}
		}
		if in.PerCustomerUsageLimit != nil {
			var n int64
			if err := s.activeScope(tx, in.CouponID, now).
				Where("customer_id = ?", in.CustomerID).
				Count(&n).Error; err != nil {
				return err
			}
			if n >= int64(*in.PerCustomerUsageLimit) {
				return LimitExceededError{Scope: LimitPerCustomer}
			}
		}

		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Confirm flips a reserved record to confirmed and attaches the booking. A
// repeat confirm with the same booking ID returns the stored record, so
// booking retries are safe.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*Record, error) {
	if in.Token == "" {
		return nil, errutil.BadRequest("token is required", nil)
	}
	if in.BookingID == "" {
		return nil, errutil.BadRequest("booking_id is required", nil)
	}

	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lock(tx).
			Where("id = ? AND tenant_id = ?", in.Token, in.TenantID).
			First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("reservation not found", err)
			}
			return err
		}

		switch rec.State {
		case StateConfirmed:
			if rec.BookingID == in.BookingID {
				return nil
			}
			return errutil.Conflict("reservation already confirmed for another booking", nil)
		case StateReleased:
			return errutil.Conflict("reservation already released", nil)
		}

		now := time.Now()
		if !now.Before(rec.ExpiresAt) {
			return AlreadyExpiredError{Token: in.Token}
		}

		rec.State = StateConfirmed
		rec.BookingID = in.BookingID
		rec.AmountDiscounted = &in.AmountDiscounted
		rec.ConfirmedAt = &now
		return tx.Model(&Record{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
			"state":             rec.State,
			"booking_id":        rec.BookingID,
			"amount_discounted": rec.AmountDiscounted,
			"confirmed_at":      rec.ConfirmedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Release frees a reservation (or a confirmed redemption when a booking is
// cancelled). Releasing an already released record is a no-op.
func (s *Service) Release(ctx context.Context, tenantID, token string) (*Record, error) {
	if token == "" {
		return nil, errutil.BadRequest("token is required", nil)
	}

	var rec Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lock(tx).
			Where("id = ? AND tenant_id = ?", token, tenantID).
			First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errutil.NotFound("reservation not found", err)
			}
			return err
		}

		if rec.State == StateReleased {
			return nil
		}

		now := time.Now()
		rec.State = StateReleased
		rec.ReleasedAt = &now
		return tx.Model(&Record{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
			"state":       rec.State,
			"released_at": rec.ReleasedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByBooking resolves the redemption attached to a booking, if any.
func (s *Service) FindByBooking(ctx context.Context, tenantID, bookingID string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND booking_id = ?", tenantID, bookingID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SweepExpired releases reserved records whose TTL lapsed. Limits already
// ignore them, this just settles the rows for reporting.
func (s *Service) SweepExpired(ctx context.Context, tenantID string) (int64, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&Record{}).
		Where("tenant_id = ? AND state = ? AND expires_at <= ?", tenantID, StateReserved, now).
		Updates(map[string]interface{}{
			"state":       StateReleased,
			"released_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		zap.L().Info("released expired reservations",
			zap.String("tenant_id", tenantID), zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Usage tallies redemptions for one coupon. Reserved only counts live
// reservations.
func (s *Service) Usage(ctx context.Context, tenantID, couponID string) (*Usage, error) {
	now := time.Now()
	usage := &Usage{CouponID: couponID}

	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&Record{}).
			Where("tenant_id = ? AND coupon_id = ?", tenantID, couponID)
	}
	if err := base().Where("state = ? AND expires_at > ?", StateReserved, now).
		Count(&usage.Reserved).Error; err != nil {
		return nil, err
	}
	if err := base().Where("state = ?", StateConfirmed).
		Count(&usage.Confirmed).Error; err != nil {
		return nil, err
	}
	if err := base().Where("state = ?", StateReleased).
		Count(&usage.Released).Error; err != nil {
		return nil, err
	}
	return usage, nil
}

// activeScope selects the records that count against usage limits: confirmed
// ones, plus reservations that have not expired. Expired reservations stop
// counting the moment their deadline passes, before any sweep runs.
func (s *Service) activeScope(tx *gorm.DB, couponID string, now time.Time) *gorm.DB {
	return tx.Model(&Record{}).
		Where("coupon_id = ?", couponID).
		Where("state = ? OR (state = ? AND expires_at > ?)", StateConfirmed, StateReserved, now)
}

// lock applies FOR UPDATE where the dialect supports it. sqlite has a single
// writer, its transactions already serialize.
func (s *Service) lock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Scopes(option.LockingUpdate)
}

func isRetryable(err error) bool {
	var limitErr LimitExceededError
	var expiredErr AlreadyExpiredError
	var base errutil.BaseError
	if errors.As(err, &limitErr) || errors.As(err, &expiredErr) || errors.As(err, &base) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "40001") || // serialization_failure
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
