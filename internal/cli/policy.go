package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/starbuy/pkg/db/models"
)

type policyView struct {
	UserID        int64  `json:"user_id"`
	Enabled       bool   `json:"enabled"`
	PriceMin      int64  `json:"price_min"`
	PriceMax      int64  `json:"price_max"`
	SupplyCeiling *int64 `json:"supply_ceiling"`
	Cycles        int    `json:"cycles"`
}

func viewPolicy(p models.Policy) policyView {
	return policyView{
		UserID:        p.UserID,
		Enabled:       p.Enabled,
		PriceMin:      p.PriceMin,
		PriceMax:      p.PriceMax,
		SupplyCeiling: p.SupplyCeiling,
		Cycles:        p.Cycles,
	}
}

func writePolicy(w io.Writer, p policyView) {
	fmt.Fprintf(w, "user\t%d\n", p.UserID)
	fmt.Fprintf(w, "enabled\t%t\n", p.Enabled)
	fmt.Fprintf(w, "price\t%d..%d\n", p.PriceMin, p.PriceMax)
	fmt.Fprintf(w, "supply ceiling\t%s\n", optional(p.SupplyCeiling))
	fmt.Fprintf(w, "cycles\t%d\n", p.Cycles)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

// NewPolicyCommand groups policy inspection and edits.
func NewPolicyCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect or change a user's auto-buy policy",
	}
	cmd.AddCommand(newPolicyGetCommand(opts))
	cmd.AddCommand(newPolicySetCommand(opts))
	cmd.AddCommand(newPolicyPreviewCommand(opts))
	return cmd
}

func newPolicyGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <user-id>",
		Short: "Show a policy (defaults when none is stored)",
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
			policy, err := deps.Policies.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			view := viewPolicy(policy)
			return output(cmd, opts, view, func(w io.Writer) { writePolicy(w, view) })
		},
	}
}

func newPolicySetCommand(opts *RootOptions) *cobra.Command {
	var (
		enabled  bool
		priceMin int64
		priceMax int64
		supply   int64
		cycles   int
	)
	cmd := &cobra.Command{
		Use:   "set <user-id>",
		Short: "Change fields of a policy; unset flags keep their value",
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
			policy, err := deps.Policies.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				policy.Enabled = enabled
			}
			if flags.Changed("price-min") {
				policy.PriceMin = priceMin
			}
			if flags.Changed("price-max") {
				policy.PriceMax = priceMax
			}
			if flags.Changed("supply") {
				if supply < 0 {
					policy.SupplyCeiling = nil
				} else {
					ceiling := supply
					policy.SupplyCeiling = &ceiling
				}
			}
			if flags.Changed("cycles") {
				policy.Cycles = cycles
			}
			saved, err := deps.Policies.Save(cmd.Context(), policy)
			if err != nil {
				return err
			}
			view := viewPolicy(saved)
			return output(cmd, opts, view, func(w io.Writer) { writePolicy(w, view) })
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "enable auto-buy")
	cmd.Flags().Int64Var(&priceMin, "price-min", 0, "minimum price, inclusive")
	cmd.Flags().Int64Var(&priceMax, "price-max", models.DefaultPolicyPriceMax, "maximum price, inclusive")
	cmd.Flags().Int64Var(&supply, "supply", -1, "supply ceiling; negative removes it")
	cmd.Flags().IntVar(&cycles, "cycles", models.DefaultPolicyCycles, "purchases per eligible item per round")
	return cmd
}

func newPolicyPreviewCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <user-id>",
		Short: "List the new items the policy would buy at the current balance",
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
			policy, err := deps.Policies.Get(cmd.Context(), userID)
			if err != nil {
				return err
			}
			items, err := deps.Loop.EligibleNewItems(cmd.Context(), policy)
			if err != nil {
				return err
			}
			views := viewItems(items)
			return output(cmd, opts, views, func(w io.Writer) { writeItems(w, views) })
		},
	}
}
