package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/pkg/db"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
	"github.com/angelmondragon/starbuy/pkg/metrics"
)

const defaultTimeout = 30 * time.Second

// Source tells which flow started a purchase.
type Source string

const (
	SourceAutobuy Source = "autobuy"
	SourceManual  Source = "manual"
)

func (s Source) chargeReference() string {
	if s == SourceManual {
		return models.ChargeRefManual
	}
	return models.ChargeRefAutobuy
}

// Sender delivers an item on the remote marketplace.
type Sender interface {
	SendItem(ctx context.Context, userID int64, itemID string) error
}

// FailureRecorder keeps purchases that need manual reconciliation.
type FailureRecorder interface {
	Push(ctx context.Context, item Reconciliation) error
}

// Request is one purchase attempt. PayerID is debited and RecipientID receives
// the item; RecipientID defaults to PayerID.
type Request struct {
	PayerID     int64
	RecipientID int64
	ItemID      string
	Price       int64
	Source      Source
}

// Result describes what happened. Balance is the payer's balance after the
// attempt as seen inside the transaction.
type Result struct {
	Outcome enums.PurchaseOutcome
	Reason  enums.IneligibilityReason
	Balance int64
	EntryID uuid.UUID
}

// ExecutorParams configure the executor. Recorder and Metrics are optional.
type ExecutorParams struct {
	Tx       db.TxRunner
	Ledger   ledger.Repository
	Sender   Sender
	Locker   UserLocker
	Recorder FailureRecorder
	Metrics  *metrics.AutobuyMetrics
	Logger   *logger.Logger
	Timeout  time.Duration
}

// Executor performs single purchases. The balance is debited if and only if
// the remote send succeeded.
type Executor struct {
	tx       db.TxRunner
	ledger   ledger.Repository
	sender   Sender
	locker   UserLocker
	recorder FailureRecorder
	metrics  *metrics.AutobuyMetrics
	logg     *logger.Logger
	timeout  time.Duration
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger repository required")
	}
	if params.Sender == nil {
		return nil, errors.New("item sender required")
	}
	locker := params.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Executor{
		tx:       params.Tx,
		ledger:   params.Ledger,
		sender:   params.Sender,
		locker:   locker,
		recorder: params.Recorder,
		metrics:  params.Metrics,
		logg:     logg,
		timeout:  timeout,
	}, nil
}

var errDeclined = errors.New("declined")

// Execute runs one purchase:
//
//  1. take the payer's lock
//  2. re-read the balance inside the transaction
//  3. decline without a remote call if it does not cover the price
//  4. send the item
//  5. debit and append the ledger entry, then commit
//
// With row locks (postgres) steps 2 to 5 share one transaction holding the
// account row. sqlite has a single connection, so there the balance read
// commits first, the send runs holding only the user lock, and the debit gets
// its own transaction; the conditional debit still keeps the balance floor.
//
// Once started, the attempt runs to completion on a detached context so
// shutdown never splits the remote send from the local commit.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(&req); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	ctx = e.logg.WithUserID(ctx, req.PayerID)
	ctx = e.logg.WithItemID(ctx, req.ItemID)
	ctx = e.logg.WithFields(ctx, map[string]any{"price": req.Price, "source": string(req.Source)})

	unlock, err := e.locker.Lock(ctx, req.PayerID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire user lock")
	}
	defer unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	var (
		result     Result
		remoteDone bool
		sentInTx   bool
	)
	err = e.tx.WithTx(runCtx, func(tx *gorm.DB) error {
		repo := e.ledger.WithTx(tx)
		balance, err := checkBalance(runCtx, repo, req)
		result.Balance = balance
		if err != nil {
			return err
		}
		if !db.SupportsRowLocks(tx) {
			return nil
		}
		if err := e.send(runCtx, req); err != nil {
			return err
		}
		remoteDone = true
		sentInTx = true
		return debit(runCtx, repo, req, &result)
	})
	if err == nil && !sentInTx {
		if err = e.send(runCtx, req); err == nil {
			remoteDone = true
			err = e.tx.WithTx(runCtx, func(tx *gorm.DB) error {
				return debit(runCtx, e.ledger.WithTx(tx), req, &result)
			})
		}
	}

	switch {
	case err == nil:
		result.Outcome = enums.PurchaseOutcomePurchased
		e.logg.Info(ctx, "purchase completed")
	case errors.Is(err, errDeclined):
		result.Outcome = enums.PurchaseOutcomeDeclined
		result.Reason = enums.ReasonInsufficientBalance
		e.logg.Debug(ctx, "purchase declined: insufficient balance")
		err = nil
	case !remoteDone && pkgerrors.HasCode(err, pkgerrors.CodeRemoteFailure):
		result.Outcome = enums.PurchaseOutcomeRemoteFailure
		e.logg.Warn(ctx, fmt.Sprintf("remote purchase failed: %v", err))
	case !remoteDone:
		result.Outcome = enums.PurchaseOutcomeAborted
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "purchase aborted before debit")
		e.logg.Error(ctx, "purchase aborted before debit", err)
	default:
		result.Outcome = enums.PurchaseOutcomeLocalCommitFailure
		err = pkgerrors.Wrap(pkgerrors.CodeLocalCommitFailure, err, "item sent but ledger commit failed")
		e.logg.Critical(ctx, "item sent but ledger commit failed", err)
		e.record(ctx, req, err)
	}
	e.metrics.IncPurchase(string(result.Outcome), string(req.Source))
	return result, err
}

// checkBalance makes sure the account exists and returns errDeclined when its
// balance does not cover the price.
func checkBalance(ctx context.Context, repo ledger.Repository, req Request) (int64, error) {
	if err := repo.EnsureAccount(ctx, req.PayerID, ""); err != nil {
		return 0, fmt.Errorf("ensure account: %w", err)
	}
	account, err := repo.LockAccount(ctx, req.PayerID)
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	if account == nil {
		return 0, fmt.Errorf("account %d missing", req.PayerID)
	}
	if account.Balance < req.Price {
		return account.Balance, errDeclined
	}
	return account.Balance, nil
}

func (e *Executor) send(ctx context.Context, req Request) error {
	if err := e.sender.SendItem(ctx, req.RecipientID, req.ItemID); err != nil {
		if !pkgerrors.HasCode(err, pkgerrors.CodeRemoteFailure) {
			err = pkgerrors.Wrap(pkgerrors.CodeRemoteFailure, err, "send item")
		}
		return err
	}
	return nil
}

// debit applies the guarded balance decrement and appends the entry.
// result.Balance holds the balance read before the send.
func debit(ctx context.Context, repo ledger.Repository, req Request, result *Result) error {
	ok, err := repo.DebitBalance(ctx, req.PayerID, req.Price)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if !ok {
		return errors.New("balance guard rejected debit")
	}
	entry := models.LedgerEntry{
		UserID:          req.PayerID,
		Amount:          -req.Price,
		ChargeReference: req.Source.chargeReference(),
		Status:          enums.LedgerEntryStatusCompleted,
		Memo:            memo(req),
	}
	if err := repo.CreateEntry(ctx, &entry); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	result.EntryID = entry.ID
	result.Balance -= req.Price
	return nil
}

func (e *Executor) record(ctx context.Context, req Request, cause error) {
	if e.recorder == nil {
		return
	}
	item := Reconciliation{
		UserID:     req.PayerID,
		ItemID:     req.ItemID,
		Price:      req.Price,
		Source:     req.Source,
		Error:      cause.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if err := e.recorder.Push(context.WithoutCancel(ctx), item); err != nil {
		e.logg.Critical(ctx, "failed to queue reconciliation", err)
	}
}

func validateRequest(req *Request) error {
	if req.PayerID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payer id is required")
	}
	if req.ItemID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	if req.Price < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if req.RecipientID == 0 {
		req.RecipientID = req.PayerID
	}
	if req.Source == "" {
		req.Source = SourceManual
	}
	return nil
}

func memo(req Request) string {
	if req.RecipientID != req.PayerID {
		return fmt.Sprintf("%s purchase of %s for %d", req.Source, req.ItemID, req.RecipientID)
	}
	return fmt.Sprintf("%s purchase of %s", req.Source, req.ItemID)
}
