// Package workexec runs one WorkSpec (process, shell, agent, or raw string)
// inside a node's worktree and reports back a uniform Result, independent
// of which variant produced it. The pipeline package calls this once per
// phase (prechecks/work/postchecks, spec.md §4.4); workexec itself knows
// nothing about plans, nodes, or phases.
package workexec

import (
	"context"
	"time"

	"github.com/orcworks/orc/internal/plan"
)

// Result is what any WorkSpec variant produces once it finishes.
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	SessionID string // non-empty only for WorkAgent
	TimedOut  bool
}

// Succeeded reports whether the run should be treated as a success: exit
// code 0 and not canceled/timed out.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// Options configures a single Run call.
type Options struct {
	Dir    string            // worktree path the command runs in
	Env    map[string]string // extra env vars layered on top of os.Environ()
	Stdout LineWriter        // optional streaming sink for live logs
	Stderr LineWriter

	// AgentOptions is only consulted for WorkAgent specs.
	AgentOptions AgentOptions
}

// LineWriter receives output as it's produced, for the log tail the runner
// exposes while a node is running (spec.md §6.4 Logs operation).
type LineWriter interface {
	WriteLine(line string)
}

// Runner executes a plan.WorkSpec and returns its Result.
type Runner interface {
	Run(ctx context.Context, work plan.WorkSpec, opts Options) (Result, error)
}
