package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/pkg/db/models"
)

type itemView struct {
	ItemID          string `json:"item_id"`
	Price           int64  `json:"price"`
	RemainingSupply *int64 `json:"remaining_supply"`
	TotalSupply     *int64 `json:"total_supply"`
	IsNew           bool   `json:"is_new"`
}

func viewItems(items []models.Item) []itemView {
	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, itemView{
			ItemID:          item.ItemID,
			Price:           item.Price,
			RemainingSupply: item.RemainingSupply,
			TotalSupply:     item.TotalSupply,
			IsNew:           item.IsNew,
		})
	}
	return out
}

func writeItems(w io.Writer, items []itemView) {
	fmt.Fprintln(w, "ITEM\tPRICE\tREMAINING\tTOTAL\tNEW")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\n",
			item.ItemID, item.Price, optional(item.RemainingSupply), optional(item.TotalSupply), item.IsNew)
	}
}

// NewCatalogCommand lists the mirrored catalog.
func NewCatalogCommand(opts *RootOptions) *cobra.Command {
	var onlyNew bool
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List catalog items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := opts.services(cmd.Context())
			if err != nil {
				return err
			}
			var items []models.Item
			if onlyNew {
				items, err = deps.Items.ListNew(cmd.Context())
			} else {
				items, err = deps.Items.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			views := viewItems(items)
			return output(cmd, opts, views, func(w io.Writer) { writeItems(w, views) })
		},
	}
	cmd.Flags().BoolVar(&onlyNew, "new", false, "only items in the new-item set")
	return cmd
}
