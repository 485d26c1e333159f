// Package cli implements starbuyctl, the operator command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/internal/autobuy"
	"github.com/angelmondragon/starbuy/internal/ledger"
	"github.com/angelmondragon/starbuy/internal/policies"
	"github.com/angelmondragon/starbuy/internal/purchase"
	"github.com/angelmondragon/starbuy/pkg/db/models"
)

// ValidFormats are the accepted --format values.
var ValidFormats = []string{"text", "json"}

// RoundRunner runs and previews reconciliation rounds.
type RoundRunner interface {
	RunRound(ctx context.Context) (autobuy.RoundReport, error)
	EligibleNewItems(ctx context.Context, policy models.Policy) ([]models.Item, error)
}

// ItemLister reads the catalog.
type ItemLister interface {
	List(ctx context.Context) ([]models.Item, error)
	ListNew(ctx context.Context) ([]models.Item, error)
}

// ReconciliationLister reads the manual reconciliation queue.
type ReconciliationLister interface {
	List(ctx context.Context, limit int) ([]purchase.Reconciliation, error)
	Len(ctx context.Context) (int64, error)
}

// Deps are the services commands operate on. Queue is nil without Redis.
type Deps struct {
	Policies policies.Service
	Ledger   ledger.Service
	Loop     RoundRunner
	Items    ItemLister
	Queue    ReconciliationLister
}

// Loader builds Deps on first use. The caller owns whatever it opens.
type Loader func(ctx context.Context) (*Deps, error)

// RootOptions hold the global flags.
type RootOptions struct {
	Format string

	load Loader
	deps *Deps
}

// NewRootCommand builds starbuyctl. Services are loaded lazily so --help and
// flag errors never touch the database.
func NewRootCommand(load Loader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "starbuyctl",
		Short: "Operate the Starbuy auto-buy engine",
		Long:  "Inspect and change auto-buy policies, balances and the reconciliation queue, or run a single round by hand.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRoundCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

func (o *RootOptions) services(ctx context.Context) (*Deps, error) {
	if o.deps != nil {
		return o.deps, nil
	}
	if o.load == nil {
		return nil, fmt.Errorf("no service loader configured")
	}
	deps, err := o.load(ctx)
	if err != nil {
		return nil, err
	}
	o.deps = deps
	return deps, nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
