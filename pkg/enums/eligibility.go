package enums

// IneligibilityReason explains why an item was rejected for a policy. The
// declaration order is the evaluation order.
type IneligibilityReason string

const (
	ReasonNone                IneligibilityReason = ""
	ReasonPriceOutOfRange     IneligibilityReason = "price_out_of_range"
	ReasonSupplyExceeded      IneligibilityReason = "supply_exceeded"
	ReasonInsufficientBalance IneligibilityReason = "insufficient_balance"
)

func (r IneligibilityReason) String() string {
	if r == ReasonNone {
		return "eligible"
	}
	return string(r)
}
