package handlers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/starbuy/api/responses"
	"github.com/angelmondragon/starbuy/api/validators"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/pkg/db/models"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

const userIDParam = "userID"

// EligibilityPreviewer lists the new items a policy would buy right now.
type EligibilityPreviewer interface {
	EligibleNewItems(ctx context.Context, policy models.Policy) ([]models.Item, error)
}

type policyResponse struct {
	UserID        int64  `json:"user_id"`
	Enabled       bool   `json:"enabled"`
	PriceMin      int64  `json:"price_min"`
	PriceMax      int64  `json:"price_max"`
	SupplyCeiling *int64 `json:"supply_ceiling"`
	Cycles        int    `json:"cycles"`
}

func newPolicyResponse(p models.Policy) policyResponse {
	return policyResponse{
		UserID:        p.UserID,
		Enabled:       p.Enabled,
		PriceMin:      p.PriceMin,
		PriceMax:      p.PriceMax,
		SupplyCeiling: p.SupplyCeiling,
		Cycles:        p.Cycles,
	}
}

type policyPutRequest struct {
	Enabled       bool   `json:"enabled"`
	PriceMin      int64  `json:"price_min" validate:"gte=0"`
	PriceMax      int64  `json:"price_max" validate:"gte=0"`
	SupplyCeiling *int64 `json:"supply_ceiling" validate:"omitempty,gte=0"`
	Cycles        int    `json:"cycles" validate:"gte=1,lte=100"`
}

type itemResponse struct {
	ItemID          string `json:"item_id"`
	Price           int64  `json:"price"`
	RemainingSupply *int64 `json:"remaining_supply"`
	TotalSupply     *int64 `json:"total_supply"`
}

// PolicyGet returns the user's policy, or the defaults when none is stored.
func PolicyGet(svc policies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUserID(r, userIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		policy, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPolicyResponse(policy))
	}
}

// PolicyPut replaces the user's policy wholesale.
func PolicyPut(svc policies.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.ParseUserID(r, userIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req policyPutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithUserID(r.Context(), userID)
		saved, err := svc.Save(ctx, models.Policy{
			UserID:        userID,
			Enabled:       req.Enabled,
			PriceMin:      req.PriceMin,
			PriceMax:      req.PriceMax,
			SupplyCeiling: req.SupplyCeiling,
			Cycles:        req.Cycles,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		logg.Info(ctx, "policy.saved")
		responses.WriteSuccess(w, newPolicyResponse(saved))
	}
}

// EligibleItems previews which current new items the user's policy matches at
// their present balance. It never buys.
func EligibleItems(svc policies.Service, preview EligibilityPreviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if preview == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "eligibility preview unavailable"))
			return
		}
		userID, err := validators.ParseUserID(r, userIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		policy, err := svc.Get(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := preview.EligibleNewItems(r.Context(), policy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "preview eligible items"))
			return
		}
		out := make([]itemResponse, 0, len(items))
		for _, item := range items {
			out = append(out, itemResponse{
				ItemID:          item.ItemID,
				Price:           item.Price,
				RemainingSupply: item.RemainingSupply,
				TotalSupply:     item.TotalSupply,
			})
		}
		responses.WriteSuccess(w, map[string]any{
			"policy": newPolicyResponse(policy),
			"items":  out,
		})
	}
}
