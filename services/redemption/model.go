package redemption

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type State string

const (
	StateReserved  State = "reserved"
	StateConfirmed State = "confirmed"
	StateReleased  State = "released"
)

// Record is one redemption attempt. Its ID doubles as the opaque reservation
// token handed back to the booking flow. A reserved record whose ExpiresAt
// has passed no longer counts against any limit, whether or not the sweeper
// has flipped it to released yet.
type Record struct {
	ID               string           `gorm:"column:id;primaryKey"`
	TenantID         string           `gorm:"column:tenant_id;index;not null"`
	CouponID         string           `gorm:"column:coupon_id;index:idx_redemptions_coupon;not null"`
	CustomerID       string           `gorm:"column:customer_id;index:idx_redemptions_coupon;not null"`
	Reference        string           `gorm:"column:reference"`
	State            State            `gorm:"column:state;not null"`
	BookingID        string           `gorm:"column:booking_id"`
	AmountDiscounted *decimal.Decimal `gorm:"column:amount_discounted;type:numeric(20,8)"`
	ExpiresAt        time.Time        `gorm:"column:expires_at;index"`
	ConfirmedAt      *time.Time       `gorm:"column:confirmed_at"`
	ReleasedAt       *time.Time       `gorm:"column:released_at"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Record) TableName() string {
	return "redemptions"
}

// UsageCounter is the per-coupon lock anchor. Reserve takes a row lock on it
// before counting active redemptions, so two reservations for the same
// coupon can never interleave between check and insert.
type UsageCounter struct {
	ID       string `gorm:"column:id;primaryKey"`
	TenantID string `gorm:"column:tenant_id;not null"`
	CouponID string `gorm:"column:coupon_id;uniqueIndex;not null"`
}

func (UsageCounter) TableName() string {
	return "redemption_counters"
}

// Usage is the redemption tally for one coupon.
type Usage struct {
	CouponID  string `json:"coupon_id"`
	Reserved  int64  `json:"reserved"`
	Confirmed int64  `json:"confirmed"`
	Released  int64  `json:"released"`
}

type LimitScope string

const (
	LimitGlobal      LimitScope = "global"
	LimitPerCustomer LimitScope = "per_customer"
)

// LimitExceededError reports which usage limit blocked a reservation. End
// users see it as "this coupon is no longer available" regardless of scope.
type LimitExceededError struct {
	Scope LimitScope
}

func (e LimitExceededError) Error() string {
	return fmt.Sprintf("coupon usage limit exceeded: %s", e.Scope)
}

// AlreadyExpiredError means the reservation's TTL lapsed before confirm; the
// caller has to run the whole validation flow again.
type AlreadyExpiredError struct {
	Token string
}

func (e AlreadyExpiredError) Error() string {
	return fmt.Sprintf("reservation %s already expired", e.Token)
}
