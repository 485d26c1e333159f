package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRoundCommand runs one Sync -> Evaluate -> Settle pass. With Redis
// configured the round is skipped while a worker holds the round lock.
func NewRoundCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "round",
		Short: "Run a single auto-buy round now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := opts.services(cmd.Context())
			if err != nil {
				return err
			}
			report, roundErr := deps.Loop.RunRound(cmd.Context())
			if err := output(cmd, opts, report, func(w io.Writer) {
				fmt.Fprintf(w, "round\t%s\n", report.ID)
				if report.Skipped {
					fmt.Fprintln(w, "skipped\tanother replica holds the round lock")
					return
				}
				fmt.Fprintf(w, "synced\t+%d inserted, %d updated, %d unchanged\n",
					report.Sync.Inserted, report.Sync.Updated, report.Sync.Unchanged)
				fmt.Fprintf(w, "new items\t%d\n", report.NewItems)
				fmt.Fprintf(w, "policies\t%d (%d invalid)\n", report.Policies, report.InvalidPolicies)
				fmt.Fprintf(w, "purchased\t%d\n", report.Purchased)
				fmt.Fprintf(w, "declined\t%d\n", report.Declined)
				fmt.Fprintf(w, "remote failures\t%d\n", report.RemoteFailures)
				fmt.Fprintf(w, "commit failures\t%d\n", report.CommitFailures)
				fmt.Fprintf(w, "cleared\t%d\n", report.Cleared)
			}); err != nil {
				return err
			}
			return roundErr
		},
	}
}
