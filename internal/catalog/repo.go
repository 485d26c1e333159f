package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/pkg/db/models"
)

// Repository persists catalog items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	List(ctx context.Context) ([]models.Item, error)
	ListNew(ctx context.Context) ([]models.Item, error)
	Get(ctx context.Context, itemID string) (*models.Item, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.Item, error)
	Insert(ctx context.Context, item *models.Item) error
	UpdateListing(ctx context.Context, item models.Item) error
	ClearNew(ctx context.Context, ids []string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) List(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := r.db.WithContext(ctx).Order("item_id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListNew returns the items still flagged as newly observed, ordered by item_id.
func (r *repository) ListNew(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	if err := r.db.WithContext(ctx).
		Where("is_new = ?", true).
		Order("item_id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) Get(ctx context.Context, itemID string) (*models.Item, error) {
	var item models.Item
	err := r.db.WithContext(ctx).Where("item_id = ?", itemID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []string) (map[string]models.Item, error) {
	out := make(map[string]models.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var items []models.Item
	if err := r.db.WithContext(ctx).Where("item_id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	for _, item := range items {
		out[item.ItemID] = item
	}
	return out, nil
}

func (r *repository) Insert(ctx context.Context, item *models.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateListing overwrites price and supply in place and re-arms the new flag.
func (r *repository) UpdateListing(ctx context.Context, item models.Item) error {
	return r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("item_id = ?", item.ItemID).
		Updates(map[string]any{
			"price":            item.Price,
			"remaining_supply": item.RemainingSupply,
			"total_supply":     item.TotalSupply,
			"is_new":           true,
		}).Error
}

// ClearNew drops the new flag on exactly ids. Clearing an already cleared item
// is a no-op.
func (r *repository) ClearNew(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("item_id IN ? AND is_new = ?", ids, true).
		Update("is_new", false)
	return res.RowsAffected, res.Error
}
