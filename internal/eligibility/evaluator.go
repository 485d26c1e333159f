// Package eligibility decides whether a catalog item matches a user's auto-buy
// policy. It has no side effects.
package eligibility

import (
	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
)

// Decision is the outcome of Evaluate. Reason is empty when Eligible.
type Decision struct {
	Eligible bool
	Reason   enums.IneligibilityReason
}

func eligible() Decision { return Decision{Eligible: true} }

func ineligible(reason enums.IneligibilityReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate checks price range, then supply ceiling, then balance. The first
// failing check wins.
func Evaluate(item models.Item, policy models.Policy, balance int64) Decision {
	if item.Price < policy.PriceMin || item.Price > policy.PriceMax {
		return ineligible(enums.ReasonPriceOutOfRange)
	}
	if SupplyExceeded(item, policy) {
		return ineligible(enums.ReasonSupplyExceeded)
	}
	if balance < item.Price {
		return ineligible(enums.ReasonInsufficientBalance)
	}
	return eligible()
}

// SupplyExceeded is true only when both the ceiling and the item's total supply
// are known and the supply is above the ceiling.
func SupplyExceeded(item models.Item, policy models.Policy) bool {
	if policy.SupplyCeiling == nil || item.TotalSupply == nil {
		return false
	}
	return *item.TotalSupply > *policy.SupplyCeiling
}

// MatchesPolicy applies the balance-independent checks. Previews use it to show
// what the policy would act on regardless of current funds.
func MatchesPolicy(item models.Item, policy models.Policy) bool {
	d := Evaluate(item, policy, item.Price)
	return d.Eligible
}
