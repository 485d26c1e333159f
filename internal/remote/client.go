package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
)

const (
	methodGetAvailableGifts = "getAvailableGifts"
	methodSendGift          = "sendGift"
	methodRefundStarPayment = "refundStarPayment"

	defaultTimeout = 15 * time.Second
)

// Requester is the slice of *tgbotapi.BotAPI the client needs.
type Requester interface {
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Gift is one purchasable item as the marketplace reports it.
type Gift struct {
	ID             string `json:"id"`
	StarCount      *int64 `json:"star_count"`
	RemainingCount *int64 `json:"remaining_count,omitempty"`
	TotalCount     *int64 `json:"total_count,omitempty"`
}

type giftsResult struct {
	Gifts []Gift `json:"gifts"`
}

// Client talks to the gift marketplace through the Bot API. It is constructed
// once and injected; there is no package-level session.
type Client struct {
	api     Requester
	timeout time.Duration
}

// NewClient wraps a Bot API requester. Every call is bounded by timeout.
func NewClient(api Requester, timeout time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("bot api requester required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{api: api, timeout: timeout}, nil
}

// NewBotAPI builds a *tgbotapi.BotAPI whose HTTP client enforces timeout.
func NewBotAPI(token, endpoint string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
}

// FetchAvailableItems returns the current catalog snapshot. Transport errors,
// API errors and malformed payloads all surface as REMOTE_UNAVAILABLE.
func (c *Client) FetchAvailableItems(ctx context.Context) ([]Gift, error) {
	resp, err := c.call(ctx, methodGetAvailableGifts, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, "fetch available gifts")
	}
	var result giftsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, "decode available gifts")
	}
	if err := validateSnapshot(result.Gifts); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeRemoteUnavailable, err, "malformed gift snapshot")
	}
	return result.Gifts, nil
}

// SendItem asks the marketplace to deliver itemID to userID. Any failure,
// including a timeout, is REMOTE_FAILURE.
func (c *Client) SendItem(ctx context.Context, userID int64, itemID string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params["gift_id"] = itemID
	params["pay_for_upgrade"] = "false"

	if _, err := c.call(ctx, methodSendGift, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteFailure, err, "send gift").
			WithDetails(map[string]any{"reason": err.Error()})
	}
	return nil
}

// RefundStarPayment returns a Stars payment to the user who made it.
func (c *Client) RefundStarPayment(ctx context.Context, userID int64, chargeID string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params["telegram_payment_charge_id"] = chargeID

	if _, err := c.call(ctx, methodRefundStarPayment, params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemoteFailure, err, "refund star payment")
	}
	return nil
}

type callResult struct {
	resp *tgbotapi.APIResponse
	err  error
}

// call runs one Bot API request bounded by the client timeout and ctx. The
// underlying HTTP client carries the same timeout, so an abandoned request does
// not linger.
func (c *Client) call(ctx context.Context, method string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		resp, err := c.api.MakeRequest(method, params)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%s: %w", method, res.err)
		}
		if res.resp == nil {
			return nil, fmt.Errorf("%s: empty response", method)
		}
		if !res.resp.Ok {
			return nil, fmt.Errorf("%s: %s", method, res.resp.Description)
		}
		return res.resp, nil
	}
}

func validateSnapshot(gifts []Gift) error {
	if len(gifts) == 0 {
		return errors.New("empty gift list")
	}
	seen := make(map[string]struct{}, len(gifts))
	for i, gift := range gifts {
		if gift.ID == "" {
			return fmt.Errorf("gift %d: missing id", i)
		}
		if _, dup := seen[gift.ID]; dup {
			return fmt.Errorf("gift %s: duplicate id", gift.ID)
		}
		seen[gift.ID] = struct{}{}
		if gift.StarCount == nil || *gift.StarCount < 0 {
			return fmt.Errorf("gift %s: invalid star_count", gift.ID)
		}
		if gift.RemainingCount != nil && *gift.RemainingCount < 0 {
			return fmt.Errorf("gift %s: negative remaining_count", gift.ID)
		}
		if gift.TotalCount != nil && *gift.TotalCount < 0 {
			return fmt.Errorf("gift %s: negative total_count", gift.ID)
		}
	}
	return nil
}

// Price is the gift's star count; callers only see validated gifts.
func (g Gift) Price() int64 {
	if g.StarCount == nil {
		return 0
	}
	return *g.StarCount
}
