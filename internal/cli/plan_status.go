package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orcworks/orc/internal/plan"
)

func newPlanStatusCommand() *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Print a plan's rollup status and per-node states",
		Args:  cobra.ExactArgs(1),
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

			p, err := r.Get(args[0])
			if err != nil {
				return printErr(console, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "plan %s (%s) status=%s paused=%v\n", p.ID, p.Spec.Name, plan.Rollup(p), p.IsPaused)
			if endedAt, err := r.GetEffectiveEndedAt(p.ID); err == nil && endedAt != nil {
				fmt.Fprintf(out, "ended at %s\n", endedAt.Format("2006-01-02 15:04:05"))
			}
			for nodeID, node := range p.Nodes {
				ns := p.NodeStates[nodeID]
				fmt.Fprintf(out, "  %-24s %-10s attempts=%d\n", node.ProducerID, ns.Status, ns.Attempts)
				if !history {
					continue
				}
				attempts, err := r.GetNodeAttempts(p.ID, nodeID)
				if err != nil {
					continue
				}
				for _, a := range attempts {
					line := fmt.Sprintf("    attempt %d (%s) %s", a.AttemptNumber, a.TriggerType, a.Status)
					if a.FailedPhase != "" {
						line += fmt.Sprintf(" in %s: %s", a.FailedPhase, a.Error)
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "include per-node attempt history")
	return cmd
}
