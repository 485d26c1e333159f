package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const defaultHistoryLimit = 10

// Refunder returns a payment to the payer on the remote platform.
type Refunder interface {
	RefundStarPayment(ctx context.Context, userID int64, chargeID string) error
}

// Service defines balance operations outside the purchase path.
type Service interface {
	EnsureAccount(ctx context.Context, userID int64, username string) (models.Account, error)
	Balance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
	Credit(ctx context.Context, input CreditInput) (*CreditResult, error)
	Refund(ctx context.Context, chargeRef string) (*models.LedgerEntry, error)
}

// CreditInput describes one incoming payment.
type CreditInput struct {
	UserID    int64
	Username  string
	Amount    int64
	ChargeRef string
	Memo      string
}

// CreditResult carries the entry for the charge. Duplicate is true when the
// charge had already been credited and nothing changed.
type CreditResult struct {
	Entry     models.LedgerEntry
	Balance   int64
	Duplicate bool
}

// ServiceParams configure the ledger service. Guard and Refunder are optional.
type ServiceParams struct {
	Repo     Repository
	Tx       db.TxRunner
	Guard    *IdempotencyGuard
	Refunder Refunder
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	tx       db.TxRunner
	guard    *IdempotencyGuard
	refunder Refunder
	logg     *logger.Logger
}

// NewService wires a ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("ledger repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     params.Repo,
		tx:       params.Tx,
		guard:    params.Guard,
		refunder: params.Refunder,
		logg:     logg,
	}, nil
}

func (s *service) EnsureAccount(ctx context.Context, userID int64, username string) (models.Account, error) {
	if userID <= 0 {
		return models.Account{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := s.repo.EnsureAccount(ctx, userID, username); err != nil {
		return models.Account{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure account")
	}
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return models.Account{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return models.Account{}, pkgerrors.New(pkgerrors.CodeInternal, "account missing after create")
	}
	return *account, nil
}

// Balance returns zero for users without an account.
func (s *service) Balance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	if account == nil {
		return 0, nil
	}
	return account.Balance, nil
}

func (s *service) History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.repo.ListEntries(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

// Credit adds a deposit. A charge reference is credited at most once: the
// Redis guard drops concurrent duplicates and the ledger lookup catches
// replays after the guard expired.
func (s *service) Credit(ctx context.Context, input CreditInput) (*CreditResult, error) {
	if input.UserID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.ChargeRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	ctx = s.logg.WithFields(s.logg.WithUserID(ctx, input.UserID), map[string]any{"charge_ref": input.ChargeRef})

	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, input.ChargeRef)
		if err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("idempotency guard unavailable: %v", err))
		} else if seen {
			return s.existingCredit(ctx, input.ChargeRef)
		}
	}

	var result CreditResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindDepositByChargeRef(ctx, input.ChargeRef)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Entry = *existing
			result.Duplicate = true
			return s.fillBalance(ctx, repo, existing.UserID, &result)
		}
		if err := repo.EnsureAccount(ctx, input.UserID, input.Username); err != nil {
			return err
		}
		if err := repo.AddBalance(ctx, input.UserID, input.Amount); err != nil {
			return err
		}
		entry := models.LedgerEntry{
			UserID:          input.UserID,
			Amount:          input.Amount,
			ChargeReference: input.ChargeRef,
			Status:          enums.LedgerEntryStatusCompleted,
			Memo:            input.Memo,
		}
		if err := repo.CreateEntry(ctx, &entry); err != nil {
			return err
		}
		result.Entry = entry
		return s.fillBalance(ctx, repo, input.UserID, &result)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "ux_ledger_entries_deposit_charge") {
			return s.existingCredit(ctx, input.ChargeRef)
		}
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, input.ChargeRef); delErr != nil {
				s.logg.Error(ctx, "failed to clear idempotency key", delErr)
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit deposit")
	}
	if result.Duplicate {
		s.logg.Info(ctx, "duplicate deposit ignored")
	} else {
		s.logg.Info(ctx, "deposit credited")
	}
	return &result, nil
}

func (s *service) existingCredit(ctx context.Context, chargeRef string) (*CreditResult, error) {
	existing, err := s.repo.FindDepositByChargeRef(ctx, chargeRef)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit")
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "deposit is already being processed").
			WithDetails(map[string]any{"charge_ref": chargeRef})
	}
	result := &CreditResult{Entry: *existing, Duplicate: true}
	if err := s.fillBalance(ctx, s.repo, existing.UserID, result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return result, nil
}

func (s *service) fillBalance(ctx context.Context, repo Repository, userID int64, result *CreditResult) error {
	account, err := repo.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if account != nil {
		result.Balance = account.Balance
	}
	return nil
}

// Refund reverses a deposit: the entry moves completed -> refunded and the
// balance is debited by the deposit amount. It is declined when the balance
// no longer covers the deposit. The remote refund runs last inside the
// transaction so a rejected refund leaves local state untouched.
func (s *service) Refund(ctx context.Context, chargeRef string) (*models.LedgerEntry, error) {
	if chargeRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	ctx = s.logg.WithField(ctx, "charge_ref", chargeRef)

	var refunded models.LedgerEntry
	remoteDone := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		entry, err := repo.FindDepositByChargeRef(ctx, chargeRef)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deposit")
		}
		if entry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found")
		}
		if !entry.Status.CanTransitionTo(enums.LedgerEntryStatusRefunded) {
			return pkgerrors.New(pkgerrors.CodeConflict, "deposit already refunded")
		}
		if _, err := repo.LockAccount(ctx, entry.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock account")
		}
		ok, err := repo.DebitBalance(ctx, entry.UserID, entry.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit balance")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance no longer covers the deposit")
		}
		marked, err := repo.MarkRefunded(ctx, entry.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refunded")
		}
		if !marked {
			return pkgerrors.New(pkgerrors.CodeConflict, "deposit already refunded")
		}
		if s.refunder != nil {
			if err := s.refunder.RefundStarPayment(ctx, entry.UserID, chargeRef); err != nil {
				return err
			}
			remoteDone = true
		}
		refunded = *entry
		refunded.Status = enums.LedgerEntryStatusRefunded
		return nil
	})
	if err != nil {
		if remoteDone {
			s.logg.Critical(ctx, "refund sent but local commit failed", err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeLocalCommitFailure, err, "commit refund")
		}
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund deposit")
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithUserID(ctx, refunded.UserID), "deposit refunded")
	return &refunded, nil
}
