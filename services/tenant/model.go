package tenant

import "time"

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusArchived:
		return true
	default:
		return false
	}
}

// Tenant is a business on the platform: a salon, a clinic, a studio. Every
// coupon, service and redemption row hangs off one.
type Tenant struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;uniqueIndex;not null"`
	Timezone  string    `gorm:"column:timezone"`
	Status    Status    `gorm:"column:status;not null;default:'active'"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
