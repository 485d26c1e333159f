package handlers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/starbuy/api/responses"
	"github.com/angelmondragon/starbuy/api/validators"
	"github.com/angelmondragon/starbuy/internal/autobuy"
	"github.com/angelmondragon/starbuy/internal/purchase"
	pkgerrors "github.com/angelmondragon/starbuy/pkg/errors"
	"github.com/angelmondragon/starbuy/pkg/enums"
	"github.com/angelmondragon/starbuy/pkg/logger"
)

// RoundRunner is the reconciliation loop as seen by operators.
type RoundRunner interface {
	Phase() enums.RoundPhase
	RunRound(ctx context.Context) (autobuy.RoundReport, error)
}

// ReconciliationLister reads the manual reconciliation queue.
type ReconciliationLister interface {
	List(ctx context.Context, limit int) ([]purchase.Reconciliation, error)
	Len(ctx context.Context) (int64, error)
}

// RoundPhase reports the loop's current phase.
func RoundPhase(runner RoundRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		responses.WriteSuccess(w, map[string]string{"phase": string(runner.Phase())})
	}
}

// RoundTrigger runs one round immediately. It waits behind a round already in
// progress. Per-user failures are reported next to the summary; a sync failure
// fails the request.
func RoundTrigger(runner RoundRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := runner.RunRound(r.Context())
		if err != nil && report.Aborted {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		body := map[string]any{"report": report}
		if err != nil {
			logg.Error(r.Context(), "round.partial_failure", err)
			body["error"] = err.Error()
		}
		responses.WriteSuccess(w, body)
	}
}

// Reconciliations lists purchases that need manual ledger repair.
func Reconciliations(queue ReconciliationLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if queue == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "reconciliation queue not configured"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items, err := queue.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read reconciliation queue"))
			return
		}
		total, err := queue.Len(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count reconciliation queue"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"items": items, "total": total})
	}
}
