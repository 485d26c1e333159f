package enums

// PurchaseOutcome is the result class of one purchase attempt.
type PurchaseOutcome string

const (
	PurchaseOutcomePurchased          PurchaseOutcome = "purchased"
	PurchaseOutcomeDeclined           PurchaseOutcome = "declined"
	PurchaseOutcomeRemoteFailure      PurchaseOutcome = "remote_failure"
	PurchaseOutcomeLocalCommitFailure PurchaseOutcome = "local_commit_failure"
	// PurchaseOutcomeAborted means a local error stopped the attempt before the
	// remote call; nothing changed anywhere.
	PurchaseOutcomeAborted PurchaseOutcome = "aborted"
)

// RoundPhase names the states of the reconciliation loop.
type RoundPhase string

const (
	RoundPhaseIdle       RoundPhase = "idle"
	RoundPhaseSyncing    RoundPhase = "syncing"
	RoundPhaseEvaluating RoundPhase = "evaluating"
	RoundPhaseSettling   RoundPhase = "settling"
)
