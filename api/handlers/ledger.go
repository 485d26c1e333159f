package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/starbuy/api/responses"
	"github.com/angelmondragon/starbuy/api/validators"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

// LedgerReader is the read side of the ledger service.
type LedgerReader interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit int) ([]models.LedgerEntry, error)
}

type ledgerEntryResponse struct {
	ID              string    `json:"id"`
	Amount          int64     `json:"amount"`
	ChargeReference string    `json:"charge_reference"`
	Status          string    `json:"status"`
	Memo            string    `json:"memo,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AccountGet returns the user's balance and their most recent ledger entries.
func AccountGet(ledger LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUserID(r, userIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 10, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := ledger.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := ledger.History(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history := make([]ledgerEntryResponse, 0, len(entries))
		for _, e := range entries {
			history = append(history, ledgerEntryResponse{
				ID:              e.ID.String(),
				Amount:          e.Amount,
				ChargeReference: e.ChargeReference,
				Status:          string(e.Status),
				Memo:            e.Memo,
				CreatedAt:       e.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"user_id": userID,
			"balance": balance,
			"history": history,
		})
	}
}
