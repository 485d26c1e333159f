package eligibility

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/starbuy/pkg/db/models"
	"github.com/angelmondragon/starbuy/pkg/enums"
)

func ptr(v int64) *int64 { return &v }

func policy(min, max int64, ceiling *int64) models.Policy {
	return models.Policy{UserID: 1, Enabled: true, PriceMin: min, PriceMax: max, SupplyCeiling: ceiling, Cycles: 1}
}

func TestEvaluateScenarios(t *testing.T) {
	tests := []struct {
		name    string
		item    models.Item
		policy  models.Policy
		balance int64
		want    Decision
	}{
		{"price at upper bound", models.Item{Price: 100}, policy(50, 100, nil), 100, Decision{Eligible: true}},
		{"price above range", models.Item{Price: 101}, policy(50, 100, nil), 1000, Decision{Reason: enums.ReasonPriceOutOfRange}},
		{"price below range", models.Item{Price: 49}, policy(50, 100, nil), 1000, Decision{Reason: enums.ReasonPriceOutOfRange}},
		{"supply above ceiling", models.Item{Price: 60, TotalSupply: ptr(500)}, policy(50, 100, ptr(100)), 1000, Decision{Reason: enums.ReasonSupplyExceeded}},
		{"supply at ceiling", models.Item{Price: 60, TotalSupply: ptr(100)}, policy(50, 100, ptr(100)), 1000, Decision{Eligible: true}},
		{"supply unknown", models.Item{Price: 60}, policy(50, 100, ptr(100)), 1000, Decision{Eligible: true}},
		{"no ceiling", models.Item{Price: 60, TotalSupply: ptr(1_000_000)}, policy(50, 100, nil), 1000, Decision{Eligible: true}},
		{"balance one short", models.Item{Price: 60}, policy(50, 100, nil), 59, Decision{Reason: enums.ReasonInsufficientBalance}},
		{"price checked before supply", models.Item{Price: 500, TotalSupply: ptr(500)}, policy(50, 100, ptr(100)), 0, Decision{Reason: enums.ReasonPriceOutOfRange}},
		{"supply checked before balance", models.Item{Price: 60, TotalSupply: ptr(500)}, policy(50, 100, ptr(100)), 0, Decision{Reason: enums.ReasonSupplyExceeded}},
		{"free item with empty wallet", models.Item{Price: 0}, policy(0, 0, nil), 0, Decision{Eligible: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Evaluate(tc.item, tc.policy, tc.balance))
		})
	}
}

// The cross product of boundary values around every threshold must agree with
// the check order and be stable across calls.
func TestEvaluateBoundaryCrossProduct(t *testing.T) {
	const min, max, ceiling = int64(50), int64(100), int64(200)
	prices := []int64{0, min - 1, min, min + 1, max - 1, max, max + 1}
	supplies := []*int64{nil, ptr(0), ptr(ceiling - 1), ptr(ceiling), ptr(ceiling + 1)}
	ceilings := []*int64{nil, ptr(ceiling)}
	for _, price := range prices {
		balances := []int64{0, price - 1, price, price + 1}
		for _, supply := range supplies {
			for _, c := range ceilings {
				for _, balance := range balances {
					item := models.Item{ItemID: "x", Price: price, TotalSupply: supply}
					p := policy(min, max, c)
					name := fmt.Sprintf("p%d/s%v/c%v/b%d", price, deref(supply), deref(c), balance)

					var want enums.IneligibilityReason
					switch {
					case price < min || price > max:
						want = enums.ReasonPriceOutOfRange
					case c != nil && supply != nil && *supply > *c:
						want = enums.ReasonSupplyExceeded
					case balance < price:
						want = enums.ReasonInsufficientBalance
					}

					got := Evaluate(item, p, balance)
					assert.Equal(t, want, got.Reason, name)
					assert.Equal(t, want == enums.ReasonNone, got.Eligible, name)
					assert.Equal(t, got, Evaluate(item, p, balance), name)
				}
			}
		}
	}
}

func TestMatchesPolicyIgnoresBalance(t *testing.T) {
	assert.True(t, MatchesPolicy(models.Item{Price: 80}, policy(50, 100, nil)))
	assert.False(t, MatchesPolicy(models.Item{Price: 80, TotalSupply: ptr(5)}, policy(50, 100, ptr(1))))
}

func deref(v *int64) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprint(*v)
}
