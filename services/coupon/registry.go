package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"slotwise-platform/pkg/db/option"
	"slotwise-platform/pkg/db/pagination"
	"slotwise-platform/pkg/errutil"
	"slotwise-platform/pkg/repository"
	"slotwise-platform/pkg/sequence"
	"slotwise-platform/services/catalog"
)

// Registry owns coupon definitions: create, update, activate, deactivate,
// eligibility sets and lookups. Redemption accounting lives elsewhere.
type Registry struct {
	db          *gorm.DB
	node        *snowflake.Node
	catalog     catalog.Lookup
	seq         sequence.Generator
	coupons     repository.Repository[Coupon]
	eligibility repository.Repository[ServiceEligibility]
}

type RegistryParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Catalog catalog.Lookup
	Seq     sequence.Generator
}

func NewRegistry(p RegistryParams) *Registry {
	return &Registry{
		db:          p.DB,
		node:        p.Node,
		catalog:     p.Catalog,
		seq:         p.Seq,
		coupons:     repository.ProvideStore[Coupon](p.DB),
		eligibility: repository.ProvideStore[ServiceEligibility](p.DB),
	}
}

type CreateCouponInput struct {
	TenantID              string
	Code                  string
	Name                  string
	Description           string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	MinOrderValue         *decimal.Decimal
	Scope                 Scope
	ServiceIDs            []string
	TotalUsageLimit       *int
	PerCustomerUsageLimit *int
	StartAt               *time.Time
	EndAt                 *time.Time
	Metadata              datatypes.JSON
}

// UpdateCouponInput is a patch: nil fields keep their current value.
// ServiceIDs is only consulted when Scope moves to service_scoped.
type UpdateCouponInput struct {
	Name                  *string
	Description           *string
	DiscountType          *DiscountType
	DiscountValue         *decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	MinOrderValue         *decimal.Decimal
	Scope                 *Scope
	ServiceIDs            []string
	TotalUsageLimit       *int
	PerCustomerUsageLimit *int
	StartAt               *time.Time
	EndAt                 *time.Time
	Metadata              datatypes.JSON
}

func (s *Registry) Create(ctx context.Context, in CreateCouponInput) (*Coupon, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("tenant_id", in.TenantID),
	)

	if in.TenantID == "" {
		return nil, errutil.BadRequest("tenant_id is required", nil)
	}

	code := NormalizeCode(in.Code)
	if code == "" && strings.TrimSpace(in.Code) == "" {
		// no code supplied, hand out a generated one
		generated, err := s.seq.NextCouponCode(ctx, in.TenantID)
		if err != nil {
			zapLog.Error("failed to generate coupon code", zap.Error(err))
			return nil, errutil.Internal("failed to generate coupon code", err)
		}
		code = NormalizeCode(generated)
	}
	if code == "" {
		return nil, errutil.ValidationFailed("code is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "code", Message: "must contain at least one of A-Z, 0-9, underscore or hyphen"}))
	}

	if in.Scope == "" {
		in.Scope = ScopeStoreWide
	}

	c := &Coupon{
		ID:                    s.node.Generate().String(),
		TenantID:              in.TenantID,
		Code:                  code,
		Name:                  in.Name,
		Description:           in.Description,
		DiscountType:          in.DiscountType,
		DiscountValue:         in.DiscountValue,
		MaxDiscountAmount:     in.MaxDiscountAmount,
		MinOrderValue:         in.MinOrderValue,
		Scope:                 in.Scope,
		TotalUsageLimit:       in.TotalUsageLimit,
		PerCustomerUsageLimit: in.PerCustomerUsageLimit,
		StartAt:               in.StartAt,
		EndAt:                 in.EndAt,
		IsActive:              true,
		Metadata:              in.Metadata,
	}

	if err := s.validate(c, in.ServiceIDs); err != nil {
		return nil, err
	}
	if err := s.verifyServices(ctx, c.TenantID, in.ServiceIDs); err != nil {
		return nil, err
	}

	exist, err := s.coupons.FindOne(ctx, &Coupon{TenantID: in.TenantID, Code: code})
	if err != nil {
		zapLog.Error("failed to check coupon code", zap.Error(err))
		return nil, errutil.Internal("failed to check coupon code", err)
	}
	if exist != nil {
		return nil, errutil.Conflict(fmt.Sprintf("coupon code %s already exists", code), nil)
	}

	rows := s.buildEligibility(c, in.ServiceIDs)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.coupons.WithTrx(tx).Create(ctx, c); err != nil {
			return err
		}
		if len(rows) > 0 {
			return s.eligibility.WithTrx(tx).BatchCreate(ctx, eligibilityRefs(rows))
		}
		return nil
	}); err != nil {
		zapLog.Error("failed to create coupon", zap.Error(err))
		return nil, errutil.Internal("failed to create coupon", err)
	}

	c.Eligibility = rows
	zapLog.Info("coupon created", zap.String("coupon_id", c.ID), zap.String("code", c.Code))
	return c, nil
}

func (s *Registry) Update(ctx context.Context, tenantID, couponID string, in UpdateCouponInput) (*Coupon, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	c, err := s.Get(ctx, tenantID, couponID)
	if err != nil {
		return nil, err
	}

	scopeChangedToStoreWide := false
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.DiscountType != nil {
		c.DiscountType = *in.DiscountType
	}
	if in.DiscountValue != nil {
		c.DiscountValue = *in.DiscountValue
	}
	if in.MaxDiscountAmount != nil {
		c.MaxDiscountAmount = in.MaxDiscountAmount
	}
	if in.MinOrderValue != nil {
		c.MinOrderValue = in.MinOrderValue
	}
	if in.Scope != nil {
		scopeChangedToStoreWide = c.Scope == ScopeServiceScoped && *in.Scope == ScopeStoreWide
		c.Scope = *in.Scope
	}
	if in.TotalUsageLimit != nil {
		c.TotalUsageLimit = in.TotalUsageLimit
	}
	if in.PerCustomerUsageLimit != nil {
		c.PerCustomerUsageLimit = in.PerCustomerUsageLimit
	}
	if in.StartAt != nil {
		c.StartAt = in.StartAt
	}
	if in.EndAt != nil {
		c.EndAt = in.EndAt
	}
	if in.Metadata != nil {
		c.Metadata = in.Metadata
	}

	serviceIDs := in.ServiceIDs
	if c.Scope == ScopeServiceScoped && serviceIDs == nil {
		serviceIDs = make([]string, 0, len(c.Eligibility))
		for _, e := range c.Eligibility {
			serviceIDs = append(serviceIDs, e.ServiceID)
		}
	}
	if err := s.validate(c, serviceIDs); err != nil {
		return nil, err
	}
	if c.Scope == ScopeServiceScoped && in.ServiceIDs != nil {
		if err := s.verifyServices(ctx, tenantID, in.ServiceIDs); err != nil {
			return nil, err
		}
	}

	rows := s.buildEligibility(c, serviceIDs)
	replaceEligibility := scopeChangedToStoreWide || (c.Scope == ScopeServiceScoped && in.ServiceIDs != nil)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Eligibility").Save(c).Error; err != nil {
			return err
		}
		if replaceEligibility {
			if err := tx.Where("coupon_id = ?", c.ID).Delete(&ServiceEligibility{}).Error; err != nil {
				return err
			}
			if c.Scope == ScopeServiceScoped && len(rows) > 0 {
				return s.eligibility.WithTrx(tx).BatchCreate(ctx, eligibilityRefs(rows))
			}
		}
		return nil
	}); err != nil {
		zap.L().Error("failed to update coupon", zap.Error(err), zap.String("coupon_id", couponID))
		return nil, errutil.Internal("failed to update coupon", err)
	}

	return s.Get(ctx, tenantID, couponID)
}

// SetActive toggles a coupon without touching the rest of the definition.
// Deactivation takes effect on the next validation; reservations already
// taken are unaffected.
func (s *Registry) SetActive(ctx context.Context, tenantID, couponID string, active bool) (*Coupon, error) {
	c, err := s.Get(ctx, tenantID, couponID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&Coupon{}).
		Where("id = ?", c.ID).
		Update("is_active", active).Error; err != nil {
		zap.L().Error("failed to toggle coupon", zap.Error(err), zap.String("coupon_id", couponID))
		return nil, errutil.Internal("failed to toggle coupon", err)
	}

	c.IsActive = active
	return c, nil
}

// SetServiceEligibility replaces the whole eligibility set for a
// service-scoped coupon.
func (s *Registry) SetServiceEligibility(ctx context.Context, tenantID, couponID string, serviceIDs []string) (*Coupon, error) {
	c, err := s.Get(ctx, tenantID, couponID)
	if err != nil {
		return nil, err
	}
	if c.Scope != ScopeServiceScoped {
		return nil, errutil.UnprocessableEntity("coupon is not service scoped", nil)
	}
	if err := s.validate(c, serviceIDs); err != nil {
		return nil, err
	}
	if err := s.verifyServices(ctx, tenantID, serviceIDs); err != nil {
		return nil, err
	}

	rows := s.buildEligibility(c, serviceIDs)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("coupon_id = ?", c.ID).Delete(&ServiceEligibility{}).Error; err != nil {
			return err
		}
		return s.eligibility.WithTrx(tx).BatchCreate(ctx, eligibilityRefs(rows))
	}); err != nil {
		zap.L().Error("failed to replace eligibility", zap.Error(err), zap.String("coupon_id", couponID))
		return nil, errutil.Internal("failed to replace eligibility", err)
	}

	c.Eligibility = rows
	return c, nil
}

func (s *Registry) Get(ctx context.Context, tenantID, couponID string) (*Coupon, error) {
	c, err := s.coupons.FindOne(ctx, &Coupon{ID: couponID, TenantID: tenantID}, withEligibility)
	if err != nil {
		return nil, errutil.Internal("failed to query coupon", err)
	}
	if c == nil {
		return nil, errutil.NotFound("coupon not found", nil)
	}
	return c, nil
}

// FindByCode resolves a coupon by its normalized code within a tenant.
func (s *Registry) FindByCode(ctx context.Context, tenantID, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, errutil.NotFound("coupon not found", nil)
	}
	c, err := s.coupons.FindOne(ctx, &Coupon{TenantID: tenantID, Code: normalized}, withEligibility)
	if err != nil {
		return nil, errutil.Internal("failed to query coupon", err)
	}
	if c == nil {
		return nil, errutil.NotFound("coupon not found", nil)
	}
	return c, nil
}

// ListFilter narrows List; nil fields match everything.
type ListFilter struct {
	Active *bool
}

// List pages through a tenant's coupons newest first. The page info carries
// the cursor for the next call; the slice is already trimmed to the limit.
func (s *Registry) List(ctx context.Context, tenantID string, f ListFilter, p pagination.Pagination) ([]*Coupon, *pagination.PageInfo, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		withEligibility,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.ApplyPagination(p),
	}
	if f.Active != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field: "is_active", Operator: option.EQ, Value: *f.Active,
		}))
	}

	coupons, err := s.coupons.Find(ctx, &Coupon{TenantID: tenantID}, opts...)
	if err != nil {
		return nil, nil, errutil.Internal("failed to list coupons", err)
	}

	pageInfo := pagination.BuildCursorPageInfo(coupons, limit, func(c *Coupon) string {
		cursor, _ := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: c.CreatedAt.Format(time.RFC3339Nano),
			ID:        c.ID,
		})
		return cursor
	})
	if len(coupons) > limit {
		coupons = coupons[:limit]
	}
	return coupons, pageInfo, nil
}

func withEligibility(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Eligibility")
}

// validate enforces definition rules on the fully merged coupon, so create
// and update share one rule set.
func (s *Registry) validate(c *Coupon, serviceIDs []string) error {
	var details []errutil.Detail

	if !c.DiscountType.Valid() {
		details = append(details, errutil.Detail{Field: "discount_type", Message: "must be percentage or fixed_amount"})
	}
	if !c.Scope.Valid() {
		details = append(details, errutil.Detail{Field: "scope", Message: "must be store_wide or service_scoped"})
	}

	switch c.DiscountType {
	case DiscountPercentage:
		if c.DiscountValue.LessThanOrEqual(zero) || c.DiscountValue.GreaterThan(hundred) {
			details = append(details, errutil.Detail{Field: "discount_value", Message: "percentage must be within (0, 100]"})
		}
	case DiscountFixed:
		if c.DiscountValue.LessThanOrEqual(zero) {
			details = append(details, errutil.Detail{Field: "discount_value", Message: "fixed amount must be positive"})
		}
		if c.MaxDiscountAmount != nil {
			details = append(details, errutil.Detail{Field: "max_discount_amount", Message: "cap only applies to percentage discounts"})
		}
	}

	if c.MaxDiscountAmount != nil && c.MaxDiscountAmount.LessThanOrEqual(zero) {
		details = append(details, errutil.Detail{Field: "max_discount_amount", Message: "must be positive"})
	}
	if c.MinOrderValue != nil && c.MinOrderValue.IsNegative() {
		details = append(details, errutil.Detail{Field: "min_order_value", Message: "must not be negative"})
	}
	if c.TotalUsageLimit != nil && *c.TotalUsageLimit < 1 {
		details = append(details, errutil.Detail{Field: "total_usage_limit", Message: "must be at least 1"})
	}
	if c.PerCustomerUsageLimit != nil && *c.PerCustomerUsageLimit < 1 {
		details = append(details, errutil.Detail{Field: "per_customer_usage_limit", Message: "must be at least 1"})
	}
	if c.StartAt != nil && c.EndAt != nil && c.EndAt.Before(*c.StartAt) {
		details = append(details, errutil.Detail{Field: "end_at", Message: "must not precede start_at"})
	}

	if c.Scope == ScopeServiceScoped && len(serviceIDs) == 0 {
		details = append(details, errutil.Detail{Field: "service_ids", Message: "service scoped coupon requires at least one service"})
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("invalid coupon definition", nil, errutil.WithDetails(details...))
	}
	return nil
}

// verifyServices rejects eligibility entries pointing at services the tenant
// does not actually offer.
func (s *Registry) verifyServices(ctx context.Context, tenantID string, serviceIDs []string) error {
	for _, id := range serviceIDs {
		ok, err := s.catalog.ServiceExists(ctx, tenantID, id)
		if err != nil {
			return errutil.Internal("failed to verify service", err)
		}
		if !ok {
			return errutil.ValidationFailed("unknown service in eligibility set", nil,
				errutil.WithDetails(errutil.Detail{Field: "service_ids", Message: fmt.Sprintf("service %s not found", id)}))
		}
	}
	return nil
}

func eligibilityRefs(rows []ServiceEligibility) []*ServiceEligibility {
	out := make([]*ServiceEligibility, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out
}

func (s *Registry) buildEligibility(c *Coupon, serviceIDs []string) []ServiceEligibility {
	if c.Scope != ScopeServiceScoped {
		return nil
	}
	seen := make(map[string]struct{}, len(serviceIDs))
	rows := make([]ServiceEligibility, 0, len(serviceIDs))
	for _, id := range serviceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		rows = append(rows, ServiceEligibility{
			ID:        s.node.Generate().String(),
			TenantID:  c.TenantID,
			CouponID:  c.ID,
			ServiceID: id,
		})
	}
	return rows
}
