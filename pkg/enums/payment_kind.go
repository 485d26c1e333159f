package enums

import "fmt"

// PaymentKind tags what a payment intent pays for.
type PaymentKind string

const (
	PaymentKindDeposit  PaymentKind = "deposit"
	PaymentKindPurchase PaymentKind = "purchase"
)

var validPaymentKinds = []PaymentKind{
	PaymentKindDeposit,
	PaymentKindPurchase,
}

// IsValid reports whether the value matches a known payment kind.
func (k PaymentKind) IsValid() bool {
	for _, candidate := range validPaymentKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePaymentKind converts raw input into PaymentKind.
func ParsePaymentKind(value string) (PaymentKind, error) {
	for _, candidate := range validPaymentKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment kind %q", value)
}

// PaymentIntentStatus tracks whether an intent has been consumed.
type PaymentIntentStatus string

const (
	PaymentIntentStatusPending  PaymentIntentStatus = "pending"
	PaymentIntentStatusConsumed PaymentIntentStatus = "consumed"
)
