package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPlanRetryCommand() *cobra.Command {
	var node string
	var clearWorktree bool

	cmd := &cobra.Command{
		Use:   "retry <plan-id>",
		Short: "Retry a failed node, or every failed node in the plan",
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

			planID := args[0]
			if node != "" {
				p, err := r.Get(planID)
				if err != nil {
					return printErr(console, err)
				}
				nodeID, ok := p.ProducerIDToNodeID[node]
				if !ok {
					return printErr(console, fmt.Errorf("no node with producerId %q in plan %s", node, planID))
				}
				if err := r.RetryNode(planID, nodeID, nil, nil, nil, clearWorktree); err != nil {
					return printErr(console, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "plan %s node %s: retry queued\n", planID, node)
				return nil
			}

			if err := r.RetryPlan(planID, nil); err != nil {
				return printErr(console, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s: retrying every failed node\n", planID)
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "producerId of a single node to retry (default: every failed node)")
	cmd.Flags().BoolVar(&clearWorktree, "clear-worktree", false, "reset the node's retained worktree to its base commit before retrying")
	return cmd
}
