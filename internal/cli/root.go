// Package cli wires cobra subcommands onto the Plan Runner, grounded on
// the teacher's internal/cmd.NewRootCommand/NewRunCommand flag-handling
// idiom (one cobra.Command per operation, flags read back with
// cmd.Flags().GetX and a Changed() check where an override needs to
// distinguish "not set" from "set to the zero value").
package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orcworks/orc/internal/capacity"
	"github.com/orcworks/orc/internal/config"
	"github.com/orcworks/orc/internal/events"
	"github.com/orcworks/orc/internal/gitops"
	"github.com/orcworks/orc/internal/logging"
	"github.com/orcworks/orc/internal/logstore"
	"github.com/orcworks/orc/internal/pipeline"
	"github.com/orcworks/orc/internal/runner"
	"github.com/orcworks/orc/internal/store"
	"github.com/orcworks/orc/internal/workexec"
)

// NewRootCommand builds the "orc" root command and every subcommand.
func NewRootCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orc",
		Short: "DAG plan orchestrator for git worktree-isolated agent work",
		Long: `orc schedules a directed acyclic graph of work units against a single
git repository: each node runs in its own worktree through prechecks,
work, and postchecks, commits its changes, and integrates forward from
its dependencies and in reverse into the plan's target branch.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "orc.yaml", "path to the orc config file")
	cmd.PersistentFlags().String("repo", ".", "path to the git repository to operate on")

	cmd.AddCommand(newPlanCreateCommand())
	cmd.AddCommand(newPlanRunCommand())
	cmd.AddCommand(newPlanStatusCommand())
	cmd.AddCommand(newPlanListCommand())
	cmd.AddCommand(newPlanPauseCommand())
	cmd.AddCommand(newPlanResumeCommand())
	cmd.AddCommand(newPlanCancelCommand())
	cmd.AddCommand(newPlanRetryCommand())
	cmd.AddCommand(newPlanLogsCommand())
	return cmd
}

// buildRunner wires every collaborator package together from config and the
// resolved repo root, the composition root every subcommand shares.
func buildRunner(ctx context.Context, cmd *cobra.Command) (*runner.Runner, *logging.ConsoleLogger, *gitops.Repo, error) {
	configPath, _ := cmd.Flags().GetString("config")
	repoPath, _ := cmd.Flags().GetString("repo")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	console := logging.New(os.Stdout, cfg.Console.LogLevel)

	timeout := time.Duration(cfg.Git.CommandTimeoutSeconds) * time.Second
	repo, err := gitops.Open(ctx, repoPath, timeout)
	if err != nil {
		return nil, nil, nil, err
	}

	workspaceRoot := cfg.WorkspaceRoot
	if workspaceRoot == "" {
		workspaceRoot = repo.Root()
	}

	broker, err := capacity.Open(workspaceRoot, cfg.Capacity.GlobalCap)
	if err != nil {
		return nil, nil, nil, err
	}
	bus := events.New()
	logs := logstore.New(repo.Root())
	snapshots := store.NewSnapshotStore(repo.Root())

	var ledger *store.Ledger
	if cfg.Ledger.Enabled {
		ledger, err = store.NewLedger(filepathJoin(repo.Root(), cfg.Ledger.DBPath))
		if err != nil {
			return nil, nil, nil, err
		}
	}

	exec := workexec.NewExecutor()
	pipe := pipeline.New(repo, exec, logs, bus, console)

	r := runner.New(runner.Options{
		Repo:      repo,
		Snapshots: snapshots,
		Ledger:    ledger,
		Bus:       bus,
		Broker:    broker,
		Pipeline:  pipe,
		Logs:      logs,
		GlobalCap: cfg.Capacity.GlobalCap,
	})
	return r, console, repo, nil
}

func filepathJoin(root, rel string) string {
	if rel == "" {
		return root
	}
	if os.IsPathSeparator(rel[0]) {
		return rel
	}
	return root + string(os.PathSeparator) + rel
}

func printErr(console *logging.ConsoleLogger, err error) error {
	if err != nil {
		console.Errorf("%v", err)
	}
	return err
}
