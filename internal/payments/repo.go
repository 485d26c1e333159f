package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
)

// Repository persists payment intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.PaymentIntent) error
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	MarkConsumed(ctx context.Context, id uuid.UUID, chargeRef string, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment intent repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// MarkConsumed moves a pending intent to consumed. It reports false if the
// intent was not pending.
func (r *repository) MarkConsumed(ctx context.Context, id uuid.UUID, chargeRef string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, enums.PaymentIntentStatusPending).
		Updates(map[string]any{
			"status":                  enums.PaymentIntentStatusConsumed,
			"remote_charge_reference": chargeRef,
			"consumed_at":             at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
