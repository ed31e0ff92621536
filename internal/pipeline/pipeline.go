// Package pipeline runs one node attempt through its seven steps — setup,
// merge-fi, prechecks, work, commit, postchecks, merge-ri (spec.md §4.4) —
// wiring together gitops, workexec, and logstore the way the teacher's
// executor.DefaultTaskExecutor.executeTask sequences a task's hooks one
// after another, short-circuiting on the first failure and always
// recording what happened before returning.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/orcworks/orc/internal/events"
	"github.com/orcworks/orc/internal/gitops"
	"github.com/orcworks/orc/internal/logstore"
	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/workexec"
)

// Logger is the narrow logging surface a Pipeline needs, matching the
// teacher's executor.Logger shape in spirit (per-event methods a caller's
// concrete logger implements) but scoped to node attempts instead of
// waves/tasks.
type Logger interface {
	StepStarted(planID, nodeID string, step plan.Step)
	StepFinished(planID, nodeID string, step plan.Step, status plan.StepStatus, dur time.Duration)
	AttemptFinished(planID, nodeID string, rec plan.AttemptRecord)
}

// Pipeline executes attempts for nodes belonging to one Plan's repository.
// Runner is the concrete Executor, not the workexec.Runner interface,
// because each phase run needs its PreviousSessionID field set to the
// node's last captured agent session id before dispatch (spec.md §4.4 step
// 4 resume policy).
type Pipeline struct {
	Repo    *gitops.Repo
	Runner  *workexec.Executor
	Logs    *logstore.Store
	Bus     *events.Bus
	Log     Logger
	Timeout time.Duration // not read by RunAttempt; phases get no deadline beyond ctx
}

// New returns a Pipeline with its collaborators wired in.
func New(repo *gitops.Repo, runner *workexec.Executor, logs *logstore.Store, bus *events.Bus, logger Logger) *Pipeline {
	return &Pipeline{Repo: repo, Runner: runner, Logs: logs, Bus: bus, Log: logger}
}

// upstreamRefs resolves the completed-commit SHA of every dependency of
// node, the refs merge-fi folds into the new worktree (spec.md §4.4 step 2).
func upstreamRefs(p *plan.Plan, node *plan.Node) []string {
	refs := make([]string, 0, len(node.Dependencies))
	for _, depID := range node.Dependencies {
		if ds := p.NodeStates[depID]; ds != nil && ds.CompletedCommit != "" {
			refs = append(refs, ds.CompletedCommit)
		}
	}
	return refs
}

// RunAttempt executes one full attempt of node and returns the resulting
// AttemptRecord. Every failed or canceled attempt is recorded (AttemptFailed
// or AttemptCanceled) and its cause is also returned as the error. When the
// attempt log cannot be opened, the returned record is empty and nothing is
// recorded.
func (pl *Pipeline) RunAttempt(ctx context.Context, p *plan.Plan, node *plan.Node, trigger plan.TriggerType) (plan.AttemptRecord, error) {
	ns := p.NodeStates[node.ID]
	attemptNumber := ns.Attempts + 1

	rec := plan.AttemptRecord{
		AttemptNumber: attemptNumber,
		TriggerType:   trigger,
		StartedAt:     time.Now(),
		StepStatuses:  map[plan.Step]plan.StepStatus{},
	}
	for _, s := range plan.AllSteps {
		rec.StepStatuses[s] = plan.StepPending
	}

	writer, err := pl.Logs.OpenAttempt(p.ID, node.ID, attemptNumber)
	if err != nil {
		return plan.AttemptRecord{}, orcerr.Wrap(orcerr.KindInternal, "open attempt log", err)
	}
	defer writer.Close()
	rec.LogFilePath = writer.Path()

	// Step 1: setup — create the node's isolated worktree, detached at its
	// base commit (a dependency's completed commit for non-root nodes, the
	// plan's base branch for roots).
	startRef := p.BaseBranch
	if node.BaseBranchOverride != "" {
		startRef = node.BaseBranchOverride
	} else if refs := upstreamRefs(p, node); len(refs) > 0 {
		startRef = refs[0]
	}
	writer.MarkPhase("setup")
	var worktreePath string
	if pl.Repo.HasWorktree(node.ID) {
		worktreePath = pl.Repo.WorktreePath(node.ID)
		if ns.ClearWorktreeOnRetry {
			resetRef := startRef
			if ns.BaseCommit != "" {
				resetRef = ns.BaseCommit
			}
			if err := pl.Repo.ResetWorktree(ctx, worktreePath, resetRef); err != nil {
				return pl.finalize(p, node, rec, plan.AttemptFailed, "", err)
			}
		}
		// else: retained in its detached-HEAD state from the failed attempt
		// for inspection/continuation (spec.md §3), reused as-is.
	} else {
		var err error
		worktreePath, err = pl.Repo.AddWorktree(ctx, node.ID, startRef)
		if err != nil {
			return pl.finalize(p, node, rec, plan.AttemptFailed, "", err)
		}
	}
	rec.WorktreePath = worktreePath
	ns.WorktreePath = worktreePath

	if err := materializeSymlinks(p.Spec.ExtraSymlinkDirs, pl.Repo.Root(), worktreePath); err != nil {
		return pl.finalize(p, node, rec, plan.AttemptFailed, "", err)
	}

	baseSHA, err := pl.Repo.HeadSHA(ctx, worktreePath)
	if err != nil {
		return pl.finalize(p, node, rec, plan.AttemptFailed, "", err)
	}
	rec.BaseCommit = baseSHA
	ns.BaseCommit = baseSHA

	// Step 2: merge-fi — fold every other dependency's completed commit in
	// on top of the chosen start ref. With one or zero dependencies there is
	// nothing to fold in and the step is marked skipped (spec.md §4.4 step 2).
	if refs := upstreamRefs(p, node); len(refs) > 1 {
		if err := pl.runMergeFI(ctx, p.ID, node.ID, worktreePath, refs[1:], writer); err != nil {
			return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepMergeFI, err)
		}
		rec.StepStatuses[plan.StepMergeFI] = plan.StepSuccess
	} else {
		rec.StepStatuses[plan.StepMergeFI] = plan.StepSkipped
	}

	effectiveWork := plan.EffectiveWork(node, ns)

	// Step 3: prechecks.
	if pc := plan.EffectivePrechecks(node, ns); pc != nil {
		if err := pl.runPhase(ctx, p.ID, node.ID, plan.StepPrechecks, *pc, worktreePath, plan.EffectiveEnv(p.Spec.Env, node), writer, &rec, ns); err != nil {
			return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepPrechecks, err)
		}
	}
	rec.StepStatuses[plan.StepPrechecks] = plan.StepSuccess

	// Step 4: work.
	rec.WorkUsed = effectiveWork
	if err := pl.runPhase(ctx, p.ID, node.ID, plan.StepWork, effectiveWork, worktreePath, plan.EffectiveEnv(p.Spec.Env, node), writer, &rec, ns); err != nil {
		return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepWork, err)
	}
	rec.StepStatuses[plan.StepWork] = plan.StepSuccess

	// Step 5: commit — stage and commit whatever the work phase produced.
	writer.MarkPhase("commit")
	pl.Log.StepStarted(p.ID, node.ID, plan.StepCommit)
	started := time.Now()
	committed, err := pl.Repo.CommitAll(ctx, worktreePath, commitMessage(node))
	pl.Log.StepFinished(p.ID, node.ID, plan.StepCommit, plan.StepSuccess, time.Since(started))
	if err != nil {
		return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepCommit, err)
	}
	if !committed && !node.ExpectsNoChanges {
		return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepCommit,
			orcerr.New(orcerr.KindExecution, "work produced no changes to commit"))
	}
	rec.StepStatuses[plan.StepCommit] = plan.StepSuccess

	// Step 6: postchecks, run against the now-committed tree.
	if qc := plan.EffectivePostchecks(node, ns); qc != nil {
		if err := pl.runPhase(ctx, p.ID, node.ID, plan.StepPostchecks, *qc, worktreePath, plan.EffectiveEnv(p.Spec.Env, node), writer, &rec, ns); err != nil {
			return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepPostchecks, err)
		}
	}
	rec.StepStatuses[plan.StepPostchecks] = plan.StepSuccess

	headSHA, err := pl.Repo.HeadSHA(ctx, worktreePath)
	if err != nil {
		return pl.finalize(p, node, rec, plan.AttemptFailed, "", err)
	}
	ns.CompletedCommit = headSHA

	summary, err := pl.buildWorkSummary(ctx, worktreePath, baseSHA)
	if err == nil {
		rec.WorkSummary = &summary
		ns.WorkSummary = &summary
	}

	// Step 7: merge-ri — leaves merge their completed work back into the
	// plan's target branch immediately; intermediate nodes defer this to
	// when their dependents run merge-fi against this node's commit.
	if plan.IsLeaf(node) {
		if err := pl.runMergeRI(ctx, p, node, headSHA, writer, &rec); err != nil {
			return pl.finalize(p, node, rec, plan.AttemptFailed, plan.StepMergeRI, err)
		}
		ns.MergedToTarget = true
	} else {
		rec.StepStatuses[plan.StepMergeRI] = plan.StepSkipped
	}

	return pl.finalize(p, node, rec, plan.AttemptSucceeded, "", nil)
}

// materializeSymlinks links every declared read-only shared directory
// (e.g. node_modules) from repoRoot into worktreePath, so a node's work
// step sees them without git tracking or copying their contents (spec.md
// §4.4 step 1). A directory that doesn't exist at repoRoot is skipped —
// declaring one is opportunistic, not a hard dependency.
func materializeSymlinks(dirs []string, repoRoot, worktreePath string) error {
	for _, rel := range dirs {
		src := filepath.Join(repoRoot, rel)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dst := filepath.Join(worktreePath, rel)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return orcerr.Wrap(orcerr.KindInternal, "create symlink parent for "+rel, err)
		}
		if err := os.Symlink(src, dst); err != nil {
			return orcerr.Wrap(orcerr.KindInternal, "symlink shared directory "+rel, err)
		}
	}
	return nil
}

func (pl *Pipeline) runMergeFI(ctx context.Context, planID, nodeID, worktreePath string, refs []string, writer *logstore.AttemptWriter) error {
	writer.MarkPhase(string(plan.StepMergeFI))
	pl.Log.StepStarted(planID, nodeID, plan.StepMergeFI)
	started := time.Now()
	err := pl.Repo.MergeFromRefs(ctx, worktreePath, refs, "merge-fi: integrate upstream dependencies")
	status := plan.StepSuccess
	if err != nil {
		status = plan.StepFailed
	}
	pl.Log.StepFinished(planID, nodeID, plan.StepMergeFI, status, time.Since(started))
	return err
}

func (pl *Pipeline) runMergeRI(ctx context.Context, p *plan.Plan, node *plan.Node, headSHA string, writer *logstore.AttemptWriter, rec *plan.AttemptRecord) error {
	writer.MarkPhase(string(plan.StepMergeRI))
	started := time.Now()
	err := pl.Repo.MergeBack(ctx, p.TargetBranch, headSHA, fmt.Sprintf("merge-ri: %s (%s)", node.Name, node.ProducerID))
	status := plan.StepSuccess
	if err != nil {
		status = plan.StepFailed
	}
	pl.Log.StepFinished(p.ID, node.ID, plan.StepMergeRI, status, time.Since(started))
	rec.StepStatuses[plan.StepMergeRI] = status
	return err
}

// runPhase executes one of prechecks/work/postchecks, streaming output to
// the attempt log and recording per-phase metrics and (for agent work) the
// session id for future resume.
func (pl *Pipeline) runPhase(ctx context.Context, planID, nodeID string, step plan.Step, work plan.WorkSpec, worktreePath string, envForNode map[string]string, writer *logstore.AttemptWriter, rec *plan.AttemptRecord, ns *plan.NodeState) error {
	writer.MarkPhase(string(step))
	pl.Log.StepStarted(planID, nodeID, step)
	started := time.Now()

	opts := workexec.Options{
		Dir:    worktreePath,
		Env:    envForNode,
		Stdout: writer,
		Stderr: writer,
	}
	pl.Runner.PreviousSessionID = ns.CopilotSessionID

	result, err := pl.Runner.Run(ctx, work, opts)
	dur := time.Since(started)

	if rec.PhaseMetrics == nil {
		rec.PhaseMetrics = map[plan.Step]plan.Metrics{}
	}
	rec.PhaseMetrics[step] = plan.Metrics{WallClock: dur}
	if result.SessionID != "" {
		rec.CopilotSessionID = result.SessionID
		ns.CopilotSessionID = result.SessionID
	}

	status := plan.StepSuccess
	if err != nil || !result.Succeeded() {
		status = plan.StepFailed
	}
	rec.StepStatuses[step] = status
	pl.Log.StepFinished(planID, nodeID, step, status, dur)

	if err != nil {
		return err
	}
	if !result.Succeeded() {
		code := result.ExitCode
		return orcerr.Execution(string(step), fmt.Sprintf("%s exited %d", step, code), lastLines(result.Stderr))
	}
	return nil
}

func (pl *Pipeline) buildWorkSummary(ctx context.Context, worktreePath, baseSHA string) (plan.WorkSummary, error) {
	diff, err := pl.Repo.Diff(ctx, worktreePath, baseSHA)
	if err != nil {
		return plan.WorkSummary{}, err
	}
	subjects, err := pl.Repo.CommitSubjects(ctx, worktreePath, baseSHA)
	if err != nil {
		return plan.WorkSummary{}, err
	}
	return plan.WorkSummary{
		Added:          diff.Added,
		Modified:       diff.Modified,
		Deleted:        diff.Deleted,
		FileEntries:    diff.Files,
		CommitSubjects: subjects,
	}, nil
}

func (pl *Pipeline) finalize(p *plan.Plan, node *plan.Node, rec plan.AttemptRecord, status plan.AttemptStatus, failedPhase plan.Step, cause error) (plan.AttemptRecord, error) {
	if cause != nil && errors.Is(cause, &orcerr.Error{Kind: orcerr.KindInterrupted}) {
		status = plan.AttemptCanceled
	}
	rec.EndedAt = time.Now()
	rec.Status = status
	rec.FailedPhase = failedPhase
	if cause != nil {
		rec.Error = cause.Error()
	}

	ns := p.NodeStates[node.ID]
	ns.Attempts = rec.AttemptNumber
	ns.LastAttempt = &rec
	ns.AttemptHistory = append(ns.AttemptHistory, rec)
	ns.StepStatuses = rec.StepStatuses

	pl.Log.AttemptFinished(p.ID, node.ID, rec)
	pl.Bus.Publish(events.Event{
		Topic:  events.TopicNodeTransition,
		PlanID: p.ID,
		NodeID: node.ID,
		Data:   map[string]any{"attemptStatus": string(status)},
	})

	if status == plan.AttemptSucceeded {
		return rec, nil
	}
	return rec, cause
}

// commitMessage builds the deterministic commit message spec.md §4.4 step 5
// prescribes: "<node.name> [<producerId>]\n\n<task>".
func commitMessage(node *plan.Node) string {
	return fmt.Sprintf("%s [%s]\n\n%s", node.Name, node.ProducerID, node.Task)
}

func lastLines(s string) string {
	const maxLen = 4000
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}
