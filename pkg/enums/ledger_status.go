package enums

import "fmt"

// LedgerEntryStatus maps to the ledger_entries.status column.
type LedgerEntryStatus string

const (
	LedgerEntryStatusCompleted LedgerEntryStatus = "completed"
	LedgerEntryStatusRefunded  LedgerEntryStatus = "refunded"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusCompleted,
	LedgerEntryStatusRefunded,
}

// IsValid reports whether the value matches a known ledger entry status.
func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo enforces the only allowed mutation: completed -> refunded.
func (s LedgerEntryStatus) CanTransitionTo(next LedgerEntryStatus) bool {
	return s == LedgerEntryStatusCompleted && next == LedgerEntryStatusRefunded
}

// ParseLedgerEntryStatus converts raw input into LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}
