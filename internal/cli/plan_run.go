package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/planfile"
)

func newPlanRunCommand() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "run <plan-file.yaml>",
		Short: "Enqueue a plan file and start the runner",
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

			spec, err := planfile.Load(args[0])
			if err != nil {
				return err
			}

			if err := r.Recover(ctx); err != nil {
				return printErr(console, fmt.Errorf("recover prior plans: %w", err))
			}
			r.Start(ctx)
			defer r.Stop()

			p, err := r.Enqueue(ctx, spec)
			if err != nil {
				return printErr(console, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s enqueued (%s)\n", p.ID, p.Spec.Name)

			if !wait {
				return nil
			}
			return pollUntilTerminal(ctx, cmd, r, p.ID)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", true, "block until the plan reaches a terminal status")
	return cmd
}

// pollUntilTerminal reports the plan's status on a fixed interval until it
// reaches one of the rollup's terminal states, the CLI equivalent of
// watching Plan.Status without wiring a dedicated subscriber onto the event
// bus for a single one-shot invocation.
func pollUntilTerminal(ctx context.Context, cmd *cobra.Command, r statusGetter, planID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := r.GetStatus(planID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan %s: %s\n", planID, status)
			switch status {
			case plan.PlanSucceeded, plan.PlanFailed, plan.PlanPartial, plan.PlanCanceled:
				return nil
			}
		}
	}
}

// statusGetter narrows *runner.Runner to the one method pollUntilTerminal
// needs, so it can be exercised with a fake in tests.
type statusGetter interface {
	GetStatus(planID string) (plan.PlanStatus, error)
}
