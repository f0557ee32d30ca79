package coupon

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed_amount"
)

func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

type Scope string

const (
	ScopeStoreWide     Scope = "store_wide"
	ScopeServiceScoped Scope = "service_scoped"
)

func (s Scope) Valid() bool {
	return s == ScopeStoreWide || s == ScopeServiceScoped
}

// Coupon is a tenant-scoped discount rule identified by a unique code. The
// code is stored normalized; lookups normalize before comparing, which makes
// them case-insensitive.
type Coupon struct {
	ID                    string           `gorm:"column:id;primaryKey"`
	TenantID              string           `gorm:"column:tenant_id;uniqueIndex:idx_coupons_tenant_code;not null"`
	Code                  string           `gorm:"column:code;uniqueIndex:idx_coupons_tenant_code;not null"`
	Name                  string           `gorm:"column:name;not null"`
	Description           string           `gorm:"column:description"`
	DiscountType          DiscountType     `gorm:"column:discount_type;not null"`
	DiscountValue         decimal.Decimal  `gorm:"column:discount_value;type:numeric(20,8);not null"`
	MaxDiscountAmount     *decimal.Decimal `gorm:"column:max_discount_amount;type:numeric(20,8)"`
	MinOrderValue         *decimal.Decimal `gorm:"column:min_order_value;type:numeric(20,8)"`
	Scope                 Scope            `gorm:"column:scope;not null;default:'store_wide'"`
	TotalUsageLimit       *int             `gorm:"column:total_usage_limit"`
	PerCustomerUsageLimit *int             `gorm:"column:per_customer_usage_limit"`
	StartAt               *time.Time       `gorm:"column:start_at"`
	EndAt                 *time.Time       `gorm:"column:end_at"`
	IsActive              bool             `gorm:"column:is_active;default:true"`
	Metadata              datatypes.JSON   `gorm:"column:metadata"`
	CreatedAt             time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time        `gorm:"column:updated_at;autoUpdateTime"`

	// Relations
	Eligibility []ServiceEligibility `gorm:"foreignKey:CouponID;constraint:OnDelete:CASCADE"`
}

// EligibleServiceIDs returns the service IDs a service-scoped coupon applies
// to. Empty for store-wide coupons.
func (c *Coupon) EligibleServiceIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Eligibility))
	for _, e := range c.Eligibility {
		out[e.ServiceID] = struct{}{}
	}
	return out
}

// ServiceEligibility is the join entity binding a service-scoped coupon to a
// bookable service.
type ServiceEligibility struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;index;not null"`
	CouponID  string    `gorm:"column:coupon_id;uniqueIndex:idx_eligibility_coupon_service;not null"`
	ServiceID string    `gorm:"column:service_id;uniqueIndex:idx_eligibility_coupon_service;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

var codeSanitizer = regexp.MustCompile(`[^A-Z0-9_-]`)

// NormalizeCode uppercases a coupon code and strips whitespace and anything
// outside [A-Z0-9_-]. Storage and lookup both go through this, so "save10"
// and " SAVE10 " resolve to the same coupon.
func NormalizeCode(code string) string {
	return codeSanitizer.ReplaceAllString(strings.ToUpper(strings.TrimSpace(code)), "")
}

// LineItem is one bookable service on an order, already priced.
type LineItem struct {
	ID        string          `json:"id"`
	ServiceID string          `json:"service_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// OrderContext is the already-parsed order an eligibility check runs against.
type OrderContext struct {
	TenantID   string
	CustomerID string
	Subtotal   decimal.Decimal
	LineItems  []LineItem
	Now        time.Time
}

type IneligibleReason string

const (
	ReasonInactive           IneligibleReason = "inactive"
	ReasonNotYetStarted      IneligibleReason = "not_yet_started"
	ReasonExpired            IneligibleReason = "expired"
	ReasonBelowMinimum       IneligibleReason = "below_minimum"
	ReasonNoEligibleServices IneligibleReason = "no_eligible_services"
)

// Eligibility is the outcome of evaluating a coupon against an order. When
// eligible, LineItems holds only the items the discount applies to and
// EligibleSubtotal their sum.
type Eligibility struct {
	Eligible         bool
	Reason           IneligibleReason
	LineItems        []LineItem
	EligibleSubtotal decimal.Decimal
}

// IneligibleError carries the first failing eligibility reason; it is
// surfaced verbatim to the end user.
type IneligibleError struct {
	Reason IneligibleReason
}

func (e IneligibleError) Error() string {
	return "coupon not eligible: " + string(e.Reason)
}
