package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/internal/purchase"
)

type reconcileView struct {
	Total int64                     `json:"total"`
	Items []purchase.Reconciliation `json:"items"`
}

// NewReconcileCommand exposes the queue of purchases that were sent but not
// recorded locally.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Manual reconciliation queue",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending reconciliations, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := opts.services(cmd.Context())
			if err != nil {
				return err
			}
			if deps.Queue == nil {
				return errors.New("reconciliation queue requires redis")
			}
			items, err := deps.Queue.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			total, err := deps.Queue.Len(cmd.Context())
			if err != nil {
				return err
			}
			view := reconcileView{Total: total, Items: items}
			return output(cmd, opts, view, func(w io.Writer) {
				fmt.Fprintf(w, "pending\t%d\n\n", view.Total)
				fmt.Fprintln(w, "WHEN\tUSER\tITEM\tPRICE\tSOURCE\tERROR")
				for _, r := range view.Items {
					fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\t%s\n",
						r.OccurredAt.UTC().Format(time.RFC3339), r.UserID, r.ItemID, r.Price, r.Source, r.Error)
				}
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum entries to show; 0 lists all")
	cmd.AddCommand(list)
	return cmd
}
