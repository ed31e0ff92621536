package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orcworks/orc/internal/plan"
)

func newPlanListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every plan tracked by this repository's snapshot store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			r, console, _, err := buildRunner(ctx, cmd)
			if err != nil {
				return err
			}
			if err := r.Recover(ctx); err != nil {
				return printErr(console, err)
			}

			out := cmd.OutOrStdout()
			for _, p := range r.GetAll() {
				fmt.Fprintf(out, "%s  %-20s  %s\n", p.ID, p.Spec.Name, plan.Rollup(p))
			}
			return nil
		},
	}
	return cmd
}
