package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// runnerHandle is the subset of *runner.Runner the lifecycle commands need.
type runnerHandle interface {
	Pause(planID string) error
	Resume(planID string) error
	Cancel(planID string) error
	Recover(ctx context.Context) error
}

// newPlanPauseCommand, newPlanResumeCommand, and newPlanCancelCommand are
// grouped here since each is a one-line call into runner.Runner with no
// flags of its own, the same shape as the teacher's simple single-verb
// subcommands in internal/cmd.
func newPlanPauseCommand() *cobra.Command {
	return lifecycleCommand("pause", "Pause a running plan; in-flight nodes finish their current phase", func(r runnerHandle, planID string) error {
		return r.Pause(planID)
	})
}

func newPlanResumeCommand() *cobra.Command {
	return lifecycleCommand("resume", "Resume a paused plan", func(r runnerHandle, planID string) error {
		return r.Resume(planID)
	})
}

func newPlanCancelCommand() *cobra.Command {
	return lifecycleCommand("cancel", "Cancel a plan; running nodes are interrupted", func(r runnerHandle, planID string) error {
		return r.Cancel(planID)
	})
}

func lifecycleCommand(use, short string, action func(r runnerHandle, planID string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <plan-id>",
		Short: short,
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
			if err := action(r, args[0]); err != nil {
				return printErr(console, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s: %s ok\n", args[0], use)
			return nil
		},
	}
}
