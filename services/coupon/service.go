package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"slotwise-platform/pkg/config"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/featureflags"
	"slotwise-platform/services/redemption"
	"slotwise-platform/services/tenant"
)

// Service is the booking-facing entry point. It strings together definition
// lookup, eligibility, pricing and the redemption ledger so callers never
// talk to the parts individually.
type Service struct {
	registry *Registry
	ledger   redemption.Ledger
	tenants  tenant.StatusChecker
	cache    *DefinitionCache
	flags    featureflags.FeatureFlag
	config   *config.Config
}

type ServiceParams struct {
	fx.In
	Registry *Registry
	Ledger   redemption.Ledger
	Tenants  tenant.StatusChecker
	Cache    *DefinitionCache
	Flags    featureflags.FeatureFlag `optional:"true"`
	Config   *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		registry: p.Registry,
		ledger:   p.Ledger,
		tenants:  p.Tenants,
		cache:    p.Cache,
		flags:    p.Flags,
		config:   p.Config,
	}
}

type ValidateRequest struct {
	TenantID   string
	Code       string
	CustomerID string
	Subtotal   decimal.Decimal
	LineItems  []LineItem
}

// Quote is a successful validation: the discount the coupon would yield on
// this order, priced but not reserved.
type Quote struct {
	CouponID            string          `json:"coupon_id"`
	Code                string          `json:"code"`
	DiscountType        DiscountType    `json:"discount_type"`
	DiscountAmount      decimal.Decimal `json:"discount_amount"`
	EligibleSubtotal    decimal.Decimal `json:"eligible_subtotal"`
	FinalTotal          decimal.Decimal `json:"final_total"`
	EligibleLineItemIDs []string        `json:"eligible_line_item_ids"`
}

// ValidateAndPrice answers "what would this code do to this order". It holds
// no state: a quote can go stale the moment another customer takes the last
// redemption, which is why bookings must reserve before they confirm.
func (s *Service) ValidateAndPrice(ctx context.Context, req ValidateRequest) (*Quote, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if err := s.requireActiveTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	c, err := s.resolve(ctx, req.TenantID, req.Code)
	if err != nil {
		return nil, err
	}

	elig := Evaluate(c, OrderContext{
		TenantID:   req.TenantID,
		CustomerID: req.CustomerID,
		Subtotal:   req.Subtotal,
		LineItems:  req.LineItems,
		Now:        time.Now(),
	})
	if !elig.Eligible {
		return nil, IneligibleError{Reason: elig.Reason}
	}

	if err := s.checkAvailability(ctx, c, req.CustomerID); err != nil {
		return nil, err
	}

	amount := ComputeDiscount(c, elig.EligibleSubtotal)
	itemIDs := make([]string, 0, len(elig.LineItems))
	for _, li := range elig.LineItems {
		itemIDs = append(itemIDs, li.ID)
	}

	return &Quote{
		CouponID:            c.ID,
		Code:                c.Code,
		DiscountType:        c.DiscountType,
		DiscountAmount:      amount,
		EligibleSubtotal:    elig.EligibleSubtotal,
		FinalTotal:          req.Subtotal.Sub(amount),
		EligibleLineItemIDs: itemIDs,
	}, nil
}

type ReserveRequest struct {
	TenantID   string
	Code       string
	CustomerID string
}

// Reserve takes a usage slot for the customer. The returned record ID is the
// reservation token the booking flow confirms or releases later.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*redemption.Record, error) {
	if err := s.requireActiveTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	c, err := s.resolve(ctx, req.TenantID, req.Code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !c.IsActive {
		return nil, IneligibleError{Reason: ReasonInactive}
	}
	if c.StartAt != nil && now.Before(*c.StartAt) {
		return nil, IneligibleError{Reason: ReasonNotYetStarted}
	}
	if c.EndAt != nil && now.After(*c.EndAt) {
		return nil, IneligibleError{Reason: ReasonExpired}
	}

	return s.ledger.Reserve(ctx, redemption.ReserveInput{
		TenantID:              req.TenantID,
		CouponID:              c.ID,
		CustomerID:            req.CustomerID,
		TotalUsageLimit:       c.TotalUsageLimit,
		PerCustomerUsageLimit: c.PerCustomerUsageLimit,
		TTL:                   s.config.ReservationTTL(),
	})
}

func (s *Service) Confirm(ctx context.Context, tenantID, token, bookingID string, amount decimal.Decimal) (*redemption.Record, error) {
	return s.ledger.Confirm(ctx, redemption.ConfirmInput{
		TenantID:         tenantID,
		Token:            token,
		BookingID:        bookingID,
		AmountDiscounted: amount,
	})
}

func (s *Service) Release(ctx context.Context, tenantID, token string) (*redemption.Record, error) {
	return s.ledger.Release(ctx, tenantID, token)
}

func (s *Service) Usage(ctx context.Context, tenantID, couponID string) (*redemption.Usage, error) {
	return s.ledger.Usage(ctx, tenantID, couponID)
}

// OnBookingCancelled frees the usage slot a cancelled booking was holding.
// Tenants can opt out per environment through the
// coupon_release_on_booking_cancel flag.
func (s *Service) OnBookingCancelled(ctx context.Context, tenantID, bookingID string) error {
	if s.flags != nil && !s.flags.IsEnabled(ctx, tenantID, featureflags.FlagReleaseOnBookingCancel) {
		zap.L().Info("release on cancel disabled for tenant", zap.String("tenant_id", tenantID))
		return nil
	}

	rec, err := s.ledger.FindByBooking(ctx, tenantID, bookingID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	_, err = s.ledger.Release(ctx, tenantID, rec.ID)
	return err
}

func (s *Service) requireActiveTenant(ctx context.Context, tenantID string) error {
	active, err := s.tenants.IsTenantActive(ctx, tenantID)
	if err != nil {
		return err
	}
	if !active {
		return errutil.Forbidden("tenant is not active", nil)
	}
	return nil
}

// resolve loads a coupon definition through the short-lived cache; the ledger
// never reads through it, limits always hit the database.
func (s *Service) resolve(ctx context.Context, tenantID, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, errutil.NotFound("coupon not found", nil)
	}
	return s.cache.Resolve(ctx, tenantID, normalized, func(ctx context.Context) (*Coupon, error) {
		return s.registry.FindByCode(ctx, tenantID, normalized)
	})
}

// checkAvailability is an advisory read so validation can tell the customer
// "no longer available" before they reach checkout. Reserve repeats the same
// checks under a lock; only that pass is authoritative.
func (s *Service) checkAvailability(ctx context.Context, c *Coupon, customerID string) error {
	if c.TotalUsageLimit == nil && c.PerCustomerUsageLimit == nil {
		return nil
	}
	usage, err := s.ledger.Usage(ctx, c.TenantID, c.ID)
	if err != nil {
		return err
	}
	active := usage.Reserved + usage.Confirmed
	if c.TotalUsageLimit != nil && active >= int64(*c.TotalUsageLimit) {
		return redemption.LimitExceededError{Scope: redemption.LimitGlobal}
	}
	return nil
}
