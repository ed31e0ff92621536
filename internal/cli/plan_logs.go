package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPlanLogsCommand() *cobra.Command {
	var node string
	var attempt int
	var tail int
	var failure bool

	cmd := &cobra.Command{
		Use:   "logs <plan-id>",
		Short: "Print a node's attempt log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if node == "" {
				return fmt.Errorf("--node is required")
			}

			r, console, _, err := buildRunner(ctx, cmd)
			if err != nil {
				return err
			}
			if err := r.Recover(ctx); err != nil {
				return printErr(console, err)
			}

			planID := args[0]
			p, err := r.Get(planID)
			if err != nil {
				return printErr(console, err)
			}
			nodeID, ok := p.ProducerIDToNodeID[node]
			if !ok {
				return printErr(console, fmt.Errorf("no node with producerId %q in plan %s", node, planID))
			}

			out := cmd.OutOrStdout()
			if failure {
				fc, err := r.GetNodeFailureContext(planID, nodeID)
				if err != nil {
					return printErr(console, err)
				}
				fmt.Fprintf(out, "node %s attempt %d failed in phase %s: %s\n", fc.ProducerID, fc.AttemptNumber, fc.FailedPhase, fc.Error)
				if fc.ExitCode != nil {
					fmt.Fprintf(out, "exit code: %d\n", *fc.ExitCode)
				}
				if fc.PhaseLog != "" {
					fmt.Fprintln(out, fc.PhaseLog)
				}
				return nil
			}

			full, err := r.GetNodeLogs(planID, nodeID, attempt)
			if err != nil {
				return printErr(console, err)
			}
			if tail > 0 {
				fmt.Fprintln(out, tailLines(full, tail))
				return nil
			}
			fmt.Fprint(out, full)
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "producerId of the node whose log to print")
	cmd.Flags().IntVar(&attempt, "attempt", 0, "attempt number (default: the node's latest attempt)")
	cmd.Flags().IntVar(&tail, "tail", 0, "print only the last N lines")
	cmd.Flags().BoolVar(&failure, "failure", false, "print the failing phase's context from the last failed attempt")
	return cmd
}

func tailLines(full string, n int) string {
	lines := strings.Split(strings.TrimRight(full, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
