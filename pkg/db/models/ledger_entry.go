package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/pkg/enums"
)

// Charge references written by flows that have no external payment event.
const (
	ChargeRefAutobuy = "autobuy_transaction"
	ChargeRefManual  = "buy_gift_transaction"
)

// LedgerEntry is an append-only audit record of a balance movement. Only the
// status may change afterwards, and only completed -> refunded.
type LedgerEntry struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID          int64                   `gorm:"column:user_id;not null;index"`
	Amount          int64                   `gorm:"column:amount;not null"`
	ChargeReference string                  `gorm:"column:remote_charge_reference;not null;index"`
	Status          enums.LedgerEntryStatus `gorm:"column:status;not null;default:completed"`
	Memo            string                  `gorm:"column:memo"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = enums.LedgerEntryStatusCompleted
	}
	return nil
}
