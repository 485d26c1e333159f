package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/pkg/enums"
)

// PaymentIntent is the typed record behind an invoice. The invoice payload
// carries only the intent ID; everything else is read back from this row.
type PaymentIntent struct {
	ID              uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Kind            enums.PaymentKind         `gorm:"column:kind;not null" validate:"required"`
	PayerUserID     int64                     `gorm:"column:payer_user_id;not null;index" validate:"required"`
	Amount          int64                     `gorm:"column:amount;not null" validate:"gt=0"`
	TargetUserID    *int64                    `gorm:"column:target_user_id" validate:"required_if=Kind purchase"`
	ItemID          *string                   `gorm:"column:item_id" validate:"required_if=Kind purchase"`
	Quantity        int                       `gorm:"column:quantity;not null;default:1" validate:"gte=1,lte=100"`
	Status          enums.PaymentIntentStatus `gorm:"column:status;not null;default:pending"`
	ChargeReference *string                   `gorm:"column:remote_charge_reference"`
	CreatedAt       time.Time                 `gorm:"column:created_at;autoCreateTime"`
	ConsumedAt      *time.Time                `gorm:"column:consumed_at"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

func (p *PaymentIntent) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = enums.PaymentIntentStatusPending
	}
	return nil
}

// All returns every model managed by the schema, in dependency order.
func All() []any {
	return []any{&Account{}, &Policy{}, &Item{}, &LedgerEntry{}, &PaymentIntent{}}
}
