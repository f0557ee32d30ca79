package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service is a bookable offering (a haircut, a massage, a consultation slot)
// owned by a tenant.
type Service struct {
	ID              string          `gorm:"column:id;primaryKey"`
	TenantID        string          `gorm:"column:tenant_id;index;not null"`
	Name            string          `gorm:"column:name;not null"`
	Description     string          `gorm:"column:description"`
	DurationMinutes int             `gorm:"column:duration_minutes"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(20,8)"`
	IsActive        bool            `gorm:"column:is_active;default:true"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
