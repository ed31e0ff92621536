package workexec

import (
	"context"
	"runtime"

	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/plan"
)

// Executor is the concrete workexec.Runner: it dispatches on WorkSpec.Kind
// and shares the common logging/cancellation plumbing across all four
// variants (spec.md §9 "Polymorphic WorkSpec").
type Executor struct {
	// PreviousSessionID is consulted only for WorkAgent specs with
	// ResumesSession() true; the pipeline sets it from NodeState before
	// each attempt.
	PreviousSessionID string
}

// NewExecutor returns a ready-to-use Executor.
func NewExecutor() *Executor { return &Executor{} }

// Run executes work and returns its Result. Context cancellation (plan
// cancel, force-fail, or shutdown; pausing a plan does not cancel) terminates the underlying process and the error
// Kind returned is orcerr.KindInterrupted rather than an execution failure
// (spec.md §7 propagation policy).
func (e *Executor) Run(ctx context.Context, work plan.WorkSpec, opts Options) (Result, error) {
	const phase = "work"

	resolved := resolveStringVariant(work)

	var result Result
	var err error
	switch resolved.Kind {
	case plan.WorkProcess:
		result, err = runProcess(ctx, resolved, opts, phase)
	case plan.WorkShell:
		result, err = runShell(ctx, resolved, opts, phase)
	case plan.WorkAgent:
		result, err = runAgent(ctx, resolved, e.PreviousSessionID, opts, phase)
	default:
		return Result{}, orcerr.New(orcerr.KindValidation, "unsupported work kind: "+string(resolved.Kind))
	}

	if ctx.Err() != nil && ctx.Err() != context.DeadlineExceeded {
		return result, orcerr.Wrap(orcerr.KindInterrupted, "work canceled", ctx.Err())
	}
	return result, err
}

// resolveStringVariant turns a WorkString spec into the shell variant it
// means at execution time (spec.md §4.2): the platform default shell.
// WorkAgent specs produced by NewStringWork's "@agent " detection already
// carry Kind=WorkAgent and pass through unchanged.
func resolveStringVariant(work plan.WorkSpec) plan.WorkSpec {
	if work.Kind != plan.WorkString {
		return work
	}
	shellKind := plan.ShellSh
	if runtime.GOOS == "windows" {
		shellKind = plan.ShellCmd
	}
	return plan.WorkSpec{
		Kind:      plan.WorkShell,
		Command:   work.String,
		Shell:     shellKind,
		OnFailure: work.OnFailure,
	}
}
