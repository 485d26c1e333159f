package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/starbuy/api/validators"
	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/internal/purchase"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

// Currency is the only currency invoices are issued in.
const Currency = "XTR"

// ItemLookup resolves catalog items for manual purchases.
type ItemLookup interface {
	Get(ctx context.Context, itemID string) (*models.Item, error)
}

// Purchaser runs one purchase attempt.
type Purchaser interface {
	Execute(ctx context.Context, req purchase.Request) (purchase.Result, error)
}

// PurchaseIntentInput describes a manual purchase paid by invoice.
type PurchaseIntentInput struct {
	PayerID      int64
	TargetUserID int64
	ItemID       string
	Quantity     int
	Amount       int64
}

// BuyInput is a manual purchase request.
type BuyInput struct {
	PayerID     int64
	RecipientID int64
	ItemID      string
	Quantity    int
}

// BuyResult reports a manual purchase. When the balance is short, Invoice
// holds the intent to bill for the shortfall and nothing was bought.
type BuyResult struct {
	Total     int64
	Balance   int64
	Purchased int
	Results   []purchase.Result
	Invoice   *models.PaymentIntent
}

// SuccessfulPayment is the part of a payment confirmation the service reads.
type SuccessfulPayment struct {
	PayerID  int64
	Username string
	Payload  string
	Currency string
	Amount   int64
	ChargeID string
}

// PaymentOutcome reports what a confirmed payment did.
type PaymentOutcome struct {
	Intent    models.PaymentIntent
	Credit    *ledger.CreditResult
	Duplicate bool
	Purchase  *BuyResult
}

// Service owns typed payment intents and the flows they drive.
type Service interface {
	CreateDepositIntent(ctx context.Context, payerID, amount int64) (*models.PaymentIntent, error)
	CreatePurchaseIntent(ctx context.Context, input PurchaseIntentInput) (*models.PaymentIntent, error)
	Buy(ctx context.Context, input BuyInput) (*BuyResult, error)
	ValidatePreCheckout(ctx context.Context, payload string, payerID, amount int64) error
	HandleSuccessfulPayment(ctx context.Context, payment SuccessfulPayment) (*PaymentOutcome, error)
}

// ServiceParams configure the payments service.
type ServiceParams struct {
	Repo      Repository
	Ledger    ledger.Service
	Items     ItemLookup
	Purchaser Purchaser
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	ledger    ledger.Service
	items     ItemLookup
	purchaser Purchaser
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("payment intent repository required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger service required")
	}
	if params.Items == nil {
		return nil, errors.New("item lookup required")
	}
	if params.Purchaser == nil {
		return nil, errors.New("purchaser required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      params.Repo,
		ledger:    params.Ledger,
		items:     params.Items,
		purchaser: params.Purchaser,
		logg:      logg,
		now:       time.Now,
	}, nil
}

func (s *service) CreateDepositIntent(ctx context.Context, payerID, amount int64) (*models.PaymentIntent, error) {
	return s.create(ctx, &models.PaymentIntent{
		Kind:        enums.PaymentKindDeposit,
		PayerUserID: payerID,
		Amount:      amount,
		Quantity:    1,
	})
}

func (s *service) CreatePurchaseIntent(ctx context.Context, input PurchaseIntentInput) (*models.PaymentIntent, error) {
	target := input.TargetUserID
	item := input.ItemID
	return s.create(ctx, &models.PaymentIntent{
		Kind:         enums.PaymentKindPurchase,
		PayerUserID:  input.PayerID,
		Amount:       input.Amount,
		TargetUserID: &target,
		ItemID:       &item,
		Quantity:     input.Quantity,
	})
}

func (s *service) create(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	if err := validators.Struct(intent); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	return intent, nil
}

// Buy purchases quantity copies of an item for the recipient from the payer's
// balance. A short balance yields an invoice intent for the difference instead.
// Copies are bought one at a time; a failure stops the run and the copies
// already sent stay paid.
func (s *service) Buy(ctx context.Context, input BuyInput) (*BuyResult, error) {
	if input.PayerID <= 0 || input.RecipientID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payer and recipient are required")
	}
	if input.Quantity < 1 || input.Quantity > 100 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be between 1 and 100")
	}
	item, err := s.items.Get(ctx, input.ItemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load item")
	}
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "gift not found").
			WithDetails(map[string]any{"item_id": input.ItemID})
	}

	total := item.Price * int64(input.Quantity)
	balance, err := s.ledger.Balance(ctx, input.PayerID)
	if err != nil {
		return nil, err
	}
	result := &BuyResult{Total: total, Balance: balance}
	if balance < total {
		intent, err := s.CreatePurchaseIntent(ctx, PurchaseIntentInput{
			PayerID:      input.PayerID,
			TargetUserID: input.RecipientID,
			ItemID:       input.ItemID,
			Quantity:     input.Quantity,
			Amount:       total - balance,
		})
		if err != nil {
			return nil, err
		}
		result.Invoice = intent
		return result, nil
	}
	return s.buyCopies(ctx, input, item.Price, result)
}

func (s *service) buyCopies(ctx context.Context, input BuyInput, price int64, result *BuyResult) (*BuyResult, error) {
	for i := 0; i < input.Quantity; i++ {
		res, err := s.purchaser.Execute(ctx, purchase.Request{
			PayerID:     input.PayerID,
			RecipientID: input.RecipientID,
			ItemID:      input.ItemID,
			Price:       price,
			Source:      purchase.SourceManual,
		})
		result.Results = append(result.Results, res)
		if res.Outcome == enums.PurchaseOutcomePurchased || res.Outcome == enums.PurchaseOutcomeDeclined {
			result.Balance = res.Balance
		}
		if res.Outcome != enums.PurchaseOutcomePurchased {
			return result, err
		}
		result.Purchased++
	}
	return result, nil
}

// ValidatePreCheckout approves a checkout only for a pending intent owned by
// the payer with a matching amount.
func (s *service) ValidatePreCheckout(ctx context.Context, payload string, payerID, amount int64) error {
	_, err := s.loadIntent(ctx, payload, payerID, amount)
	return err
}

func (s *service) loadIntent(ctx context.Context, payload string, payerID, amount int64) (*models.PaymentIntent, error) {
	id, err := uuid.Parse(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown invoice payload")
	}
	intent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}
	if intent.PayerUserID != payerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent belongs to another user")
	}
	if intent.Amount != amount {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount does not match intent").
			WithDetails(map[string]any{"expected": intent.Amount, "got": amount})
	}
	return intent, nil
}

// HandleSuccessfulPayment credits the payment and, for purchase intents, buys
// the items. A replayed confirmation credits nothing and buys nothing.
func (s *service) HandleSuccessfulPayment(ctx context.Context, payment SuccessfulPayment) (*PaymentOutcome, error) {
	if payment.Currency != "" && payment.Currency != Currency {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency").
			WithDetails(map[string]any{"currency": payment.Currency})
	}
	intent, err := s.loadIntent(ctx, payment.Payload, payment.PayerID, payment.Amount)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(s.logg.WithUserID(ctx, payment.PayerID), map[string]any{
		"intent_id": intent.ID.String(),
		"kind":      string(intent.Kind),
	})

	credit, err := s.ledger.Credit(ctx, ledger.CreditInput{
		UserID:    payment.PayerID,
		Username:  payment.Username,
		Amount:    payment.Amount,
		ChargeRef: payment.ChargeID,
		Memo:      fmt.Sprintf("%s %s", intent.Kind, intent.ID),
	})
	if err != nil {
		return nil, err
	}
	outcome := &PaymentOutcome{Credit: credit, Duplicate: credit.Duplicate}

	consumed, err := s.repo.MarkConsumed(ctx, intent.ID, payment.ChargeID, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume payment intent")
	}
	if !consumed {
		outcome.Duplicate = true
	}
	if refreshed, err := s.repo.Get(ctx, intent.ID); err == nil && refreshed != nil {
		intent = refreshed
	}
	outcome.Intent = *intent
	if outcome.Duplicate {
		s.logg.Info(ctx, "payment already processed")
		return outcome, nil
	}

	if intent.Kind != enums.PaymentKindPurchase {
		return outcome, nil
	}
	// The intent records only the shortfall; the unit price comes from the
	// catalog. Without a catalog row the payment stays on the balance.
	item, err := s.items.Get(ctx, *intent.ItemID)
	if err != nil {
		return outcome, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load item")
	}
	if item == nil {
		s.logg.Warn(ctx, "gift missing from catalog; payment kept as balance")
		return outcome, nil
	}
	buy, err := s.buyCopies(ctx, BuyInput{
		PayerID:     intent.PayerUserID,
		RecipientID: *intent.TargetUserID,
		ItemID:      *intent.ItemID,
		Quantity:    intent.Quantity,
	}, item.Price, &BuyResult{Total: item.Price * int64(intent.Quantity), Balance: credit.Balance})
	outcome.Purchase = buy
	return outcome, err
}
