package models

import "time"

// Account is a user's wallet in points. Balance never goes negative.
type Account struct {
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Username  string    `gorm:"column:username;not null;default:''"`
	Balance   int64     `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }
