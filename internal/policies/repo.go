package policies

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/starbuy/pkg/db/models"
)

// Repository persists auto-buy policies.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListEnabled(ctx context.Context) ([]models.Policy, error)
	Get(ctx context.Context, userID int64) (*models.Policy, error)
	Upsert(ctx context.Context, policy *models.Policy) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a policy repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListEnabled returns enabled policies ordered by user_id.
func (r *repository) ListEnabled(ctx context.Context) ([]models.Policy, error) {
	var rows []models.Policy
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("user_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Get(ctx context.Context, userID int64) (*models.Policy, error) {
	var policy models.Policy
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// Upsert writes every mutable column, so false and nil values are persisted.
func (r *repository) Upsert(ctx context.Context, policy *models.Policy) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "price_min", "price_max", "supply_ceiling", "cycles", "updated_at",
		}),
	}).Create(policy).Error
}
