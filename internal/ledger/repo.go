package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
)

// Repository manages accounts and ledger entries. Balance changes are always
// relative updates so concurrent writers cannot lose an update.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureAccount(ctx context.Context, userID int64, username string) error
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	LockAccount(ctx context.Context, userID int64) (*models.Account, error)
	AddBalance(ctx context.Context, userID, amount int64) error
	DebitBalance(ctx context.Context, userID, amount int64) (bool, error)
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindDepositByChargeRef(ctx context.Context, chargeRef string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
	MarkRefunded(ctx context.Context, entryID uuid.UUID) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// EnsureAccount creates a zero-balance account if none exists. An existing
// account only has its username refreshed.
func (r *repository) EnsureAccount(ctx context.Context, userID int64, username string) error {
	account := models.Account{UserID: userID, Username: username}
	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}
	if username != "" {
		onConflict = clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username"}),
		}
	}
	return r.db.WithContext(ctx).Clauses(onConflict).Create(&account).Error
}

func (r *repository) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	return r.findAccount(r.db.WithContext(ctx), userID)
}

// LockAccount reads the account with FOR UPDATE where the dialect supports it.
// sqlite serializes writers at the transaction level instead.
func (r *repository) LockAccount(ctx context.Context, userID int64) (*models.Account, error) {
	q := r.db.WithContext(ctx)
	if db.SupportsRowLocks(r.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.findAccount(q, userID)
}

func (r *repository) findAccount(q *gorm.DB, userID int64) (*models.Account, error) {
	var account models.Account
	err := q.Where("user_id = ?", userID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) AddBalance(ctx context.Context, userID, amount int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

// DebitBalance subtracts amount only if the balance covers it. The returned
// bool is false when the guard rejected the update.
func (r *repository) DebitBalance(ctx context.Context, userID, amount int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindDepositByChargeRef(ctx context.Context, chargeRef string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("remote_charge_reference = ? AND amount > 0", chargeRef).
		Order("created_at ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries returns the newest entries first.
func (r *repository) ListEntries(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkRefunded applies the completed -> refunded transition. It reports false
// if the entry was not in completed state.
func (r *repository) MarkRefunded(ctx context.Context, entryID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ?", entryID, enums.LedgerEntryStatusCompleted).
		Update("status", enums.LedgerEntryStatusRefunded)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
