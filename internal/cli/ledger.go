package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/pkg/db/models"
)

type entryView struct {
	ID              string    `json:"id"`
	UserID          int64     `json:"user_id"`
	Amount          int64     `json:"amount"`
	ChargeReference string    `json:"charge_reference"`
	Status          string    `json:"status"`
	Memo            string    `json:"memo,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func viewEntry(e models.LedgerEntry) entryView {
	return entryView{
		ID:              e.ID.String(),
		UserID:          e.UserID,
		Amount:          e.Amount,
		ChargeReference: e.ChargeReference,
		Status:          string(e.Status),
		Memo:            e.Memo,
		CreatedAt:       e.CreatedAt,
	}
}

type balanceView struct {
	UserID  int64       `json:"user_id"`
	Balance int64       `json:"balance"`
	History []entryView `json:"history"`
}

// NewBalanceCommand shows a balance and the latest ledger entries.
func NewBalanceCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance and recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			deps, err := opts.services(cmd.Context())
			if err != nil {
				return err
			}
			balance, err := deps.Ledger.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			entries, err := deps.Ledger.History(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			view := balanceView{UserID: userID, Balance: balance, History: make([]entryView, 0, len(entries))}
			for _, e := range entries {
				view.History = append(view.History, viewEntry(e))
			}
			return output(cmd, opts, view, func(w io.Writer) {
				fmt.Fprintf(w, "user\t%d\nbalance\t%d\n\n", view.UserID, view.Balance)
				fmt.Fprintln(w, "WHEN\tAMOUNT\tREFERENCE\tSTATUS")
				for _, e := range view.History {
					fmt.Fprintf(w, "%s\t%+d\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.Amount, e.ChargeReference, e.Status)
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "history", 10, "number of ledger entries to show")
	return cmd
}

// NewLedgerCommand groups ledger corrections.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger corrections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refund <charge-id>",
		Short: "Refund a deposit to the payer and debit it from their balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := opts.services(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := deps.Ledger.Refund(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			view := viewEntry(*entry)
			return output(cmd, opts, view, func(w io.Writer) {
				fmt.Fprintf(w, "refunded\t%s\nuser\t%d\namount\t%d\n", view.ChargeReference, view.UserID, view.Amount)
			})
		},
	})
	return cmd
}
