package models

import "time"

// Item is a catalog entry mirrored from the remote marketplace. Price and supply
// are overwritten in place on every sync.
type Item struct {
	ItemID          string    `gorm:"column:item_id;primaryKey"`
	Price           int64     `gorm:"column:price;not null"`
	RemainingSupply *int64    `gorm:"column:remaining_supply"`
	TotalSupply     *int64    `gorm:"column:total_supply"`
	IsNew           bool      `gorm:"column:is_new;not null;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Item) TableName() string { return "items" }

// SameListing reports whether price and supply match other.
func (i Item) SameListing(other Item) bool {
	return i.Price == other.Price &&
		equalOptional(i.RemainingSupply, other.RemainingSupply) &&
		equalOptional(i.TotalSupply, other.TotalSupply)
}

func equalOptional(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
