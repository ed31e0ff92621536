package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/orcworks/orc/internal/logging"
	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/planfile"
)

func newPlanCreateCommand() *cobra.Command {
	var showInstructions bool

	cmd := &cobra.Command{
		Use:   "create <plan-file.yaml>",
		Short: "Validate a plan file without enqueuing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := planfile.Load(args[0])
			if err != nil {
				return err
			}
			if err := plan.ValidateSpec(spec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %q: %d jobs, target=%s — valid\n", spec.Name, len(spec.Jobs), spec.TargetBranch)
			if showInstructions {
				printAgentInstructionPreviews(cmd, spec)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showInstructions, "show-instructions", false, "print a plain-text preview of each agent job's Markdown instructions")
	return cmd
}

// printAgentInstructionPreviews renders each agent-kind job's Markdown
// instructions down to a terminal-width plain-text preview, so an operator
// can sanity-check what will be sent to the agent CLI before enqueuing.
func printAgentInstructionPreviews(cmd *cobra.Command, spec plan.PlanSpec) {
	width := logging.TerminalWidth()
	for _, job := range spec.Jobs {
		if job.Work.Kind != plan.WorkAgent || job.Work.Instructions == "" {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n--- %s (agent instructions) ---\n", job.ProducerID)
		fmt.Fprintln(cmd.OutOrStdout(), logging.PreviewInstructions(job.Work.Instructions, width))
	}
}
