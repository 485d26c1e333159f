package models

import "time"

const (
	DefaultPolicyPriceMax int64 = 1_000_000_000
	DefaultPolicyCycles         = 1
)

// Policy is a user's auto-buy configuration. At most one row exists per user.
type Policy struct {
	UserID        int64     `gorm:"column:user_id;primaryKey;autoIncrement:false" validate:"required"`
	Enabled       bool      `gorm:"column:enabled;not null;default:false;index"`
	PriceMin      int64     `gorm:"column:price_min;not null;default:0" validate:"gte=0"`
	PriceMax      int64     `gorm:"column:price_max;not null" validate:"gte=0,gtefield=PriceMin"`
	SupplyCeiling *int64    `gorm:"column:supply_ceiling" validate:"omitempty,gte=0"`
	Cycles        int       `gorm:"column:cycles;not null;default:1" validate:"gte=1,lte=100"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Policy) TableName() string { return "autobuy_policies" }

// DefaultPolicy mirrors the defaults users start with: disabled, any price, no
// supply cap, one cycle.
func DefaultPolicy(userID int64) Policy {
	return Policy{
		UserID:   userID,
		PriceMin: 0,
		PriceMax: DefaultPolicyPriceMax,
		Cycles:   DefaultPolicyCycles,
	}
}
