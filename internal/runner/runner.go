// Package runner implements the Plan Runner (spec.md §4.7): the public
// operation surface external callers (CLI, MCP façade, editor UI) use to
// enqueue, pause, resume, cancel, retry, reshape, and inspect plans. It owns
// the in-memory plan registry, wires the Scheduler/Pipeline/Capacity
// Broker/Event Bus together, and persists every state transition through
// store.SnapshotStore. Grounded on the teacher's Orchestrator as the
// top-level coordinating type, generalized from a single-plan CLI run to a
// long-lived multi-plan registry (spec.md §4.7 requires idempotent
// multi-plan operations a one-shot CLI orchestrator never needed).
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orcworks/orc/internal/capacity"
	"github.com/orcworks/orc/internal/events"
	"github.com/orcworks/orc/internal/gitops"
	"github.com/orcworks/orc/internal/logstore"
	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/pipeline"
	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/scheduler"
	"github.com/orcworks/orc/internal/store"
)

// Runner is the Plan Runner. One Runner instance coordinates every plan
// active against a single git repository.
type Runner struct {
	repo      *gitops.Repo
	snapshots *store.SnapshotStore
	ledger    *store.Ledger
	bus       *events.Bus
	broker    *capacity.Broker
	pipe      *pipeline.Pipeline
	logs      *logstore.Store
	sched     *scheduler.Scheduler

	mu      sync.Mutex
	plans   map[string]*plan.Plan
	cancels map[string]map[string]context.CancelFunc // planID -> nodeID -> cancel

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Options bundles a Runner's collaborators, already constructed by the
// caller (cmd/orc's root command wires these up from config).
type Options struct {
	Repo      *gitops.Repo
	Snapshots *store.SnapshotStore
	Ledger    *store.Ledger
	Bus       *events.Bus
	Broker    *capacity.Broker
	Pipeline  *pipeline.Pipeline
	Logs      *logstore.Store
	GlobalCap int
}

// New constructs a Runner and its Scheduler, but does not start the
// admission loop or recover crashed plans — call Recover then Start.
func New(opts Options) *Runner {
	r := &Runner{
		repo:      opts.Repo,
		snapshots: opts.Snapshots,
		ledger:    opts.Ledger,
		bus:       opts.Bus,
		broker:    opts.Broker,
		pipe:      opts.Pipeline,
		logs:      opts.Logs,
		plans:     make(map[string]*plan.Plan),
		cancels:   make(map[string]map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
	r.sched = scheduler.New(r, dispatcherFunc(r.runNode), opts.Broker, opts.Bus, opts.GlobalCap)
	return r
}

// dispatcherFunc adapts a plain function to scheduler.Dispatcher.
type dispatcherFunc func(ctx context.Context, p *plan.Plan, node *plan.Node)

func (f dispatcherFunc) Dispatch(ctx context.Context, p *plan.Plan, node *plan.Node) {
	f(ctx, p, node)
}

// Start launches the Scheduler's admission loop, the ~1s pulse the spec
// uses to refresh live log tails and sweep stale capacity rows (spec.md
// §4.6 — a fallback trigger, not a correctness requirement), and the
// capacity heartbeat that keeps this instance's broker rows fresh so other
// instances don't garbage-collect them (spec.md §4.8).
func (r *Runner) Start(ctx context.Context) {
	r.sched.Start(ctx)
	r.bus.PulseEvery(time.Second, r.stopCh)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				_ = r.broker.Heartbeat()
			}
		}
	}()
}

// Stop halts the admission loop, pulse, and heartbeat; running nodes are
// not interrupted.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	r.sched.Stop()
}

// ActivePlans implements scheduler.PlanSource: every tracked plan except a
// paused one with no scheduled or running node. Terminal plans stay in the
// registry, and are returned here, until Delete removes them.
func (r *Runner) ActivePlans() []*plan.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*plan.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		if !p.IsPaused || hasActiveNode(p) {
			out = append(out, p)
		}
	}
	return out
}

func hasActiveNode(p *plan.Plan) bool {
	for _, ns := range p.NodeStates {
		if ns.Status == plan.StatusRunning || ns.Status == plan.StatusScheduled {
			return true
		}
	}
	return false
}

// Lock implements scheduler.PlanSource: the Runner serializes mutation of
// one plan's NodeStates behind a single mutex per call, coarse-grained but
// adequate since the scheduler only holds it for readiness recomputation
// and a status flip, never for the pipeline run itself.
func (r *Runner) Lock(planID string) func() {
	r.mu.Lock()
	return r.mu.Unlock
}

// Enqueue validates and builds a Plan from spec, resolves its branches,
// persists it, and emits planCreated (spec.md §4.7 enqueue).
func (r *Runner) Enqueue(ctx context.Context, spec plan.PlanSpec) (*plan.Plan, error) {
	baseBranch := spec.BaseBranch
	if baseBranch == "" {
		resolved, err := r.repo.ResolveTargetRoot(ctx)
		if err != nil {
			return nil, err
		}
		baseBranch = resolved
	}
	targetBranch := spec.TargetBranch
	if targetBranch == "" {
		targetBranch = baseBranch
	}
	if targetBranch == baseBranch && isDefaultBranch(baseBranch) {
		targetBranch = fmt.Sprintf("orc/%s", spec.Name)
		if !r.repo.BranchExists(ctx, targetBranch) {
			if err := r.repo.CreateBranch(ctx, targetBranch, baseBranch); err != nil {
				return nil, err
			}
		}
	}

	p, err := plan.Build(spec, baseBranch, targetBranch)
	if err != nil {
		return nil, orcerr.Wrap(orcerr.KindValidation, "build plan", err)
	}

	r.mu.Lock()
	r.plans[p.ID] = p
	r.mu.Unlock()

	if err := r.snapshots.Save(p); err != nil {
		return nil, err
	}
	if r.ledger != nil {
		_ = r.ledger.RecordPlanCreated(ctx, p)
	}
	r.bus.Publish(events.Event{Topic: events.TopicPlanCreated, PlanID: p.ID})
	r.sched.Kick()
	return p, nil
}

func isDefaultBranch(name string) bool {
	return name == "main" || name == "master"
}

// Get returns a tracked plan by ID.
func (r *Runner) Get(planID string) (*plan.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return nil, orcerr.New(orcerr.KindNotFound, "plan not found: "+planID)
	}
	return p, nil
}

// GetAll returns every tracked plan.
func (r *Runner) GetAll() []*plan.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*plan.Plan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	return out
}

// GetStatus returns the Plan-level rollup status.
func (r *Runner) GetStatus(planID string) (plan.PlanStatus, error) {
	p, err := r.Get(planID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return plan.Rollup(p), nil
}

// Pause sets isPaused; running nodes complete, nothing new admits.
func (r *Runner) Pause(planID string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	p.IsPaused = true
	r.mu.Unlock()
	return r.snapshots.Save(p)
}

// Resume clears isPaused and kicks the scheduler.
func (r *Runner) Resume(planID string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	p.IsPaused = false
	r.mu.Unlock()
	if err := r.snapshots.Save(p); err != nil {
		return err
	}
	r.sched.Kick()
	return nil
}

// Cancel marks every non-terminal node canceled, closes the plan, and calls
// the derived context.CancelFunc runNode stored for every node of this plan
// currently in flight, which workexec's process/shell/agent adapters
// propagate into cmd.Cancel (process-group kill on Unix, job-object close on
// Windows) to actually tear down the running descendant tree, not just flip
// its recorded status (spec.md §4.7, §5).
func (r *Runner) Cancel(planID string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	now := time.Now()
	for _, ns := range p.NodeStates {
		if !ns.Status.Terminal() {
			ns.Status = plan.StatusCanceled
			ns.FailureReason = plan.FailureCanceled
			ns.EndedAt = &now
		}
	}
	p.Canceled = true
	p.EndedAt = &now
	for _, cancel := range r.cancels[planID] {
		cancel()
	}
	r.mu.Unlock()

	if err := r.snapshots.Save(p); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Topic: events.TopicPlanCompleted, PlanID: planID, Data: map[string]any{"status": string(plan.PlanCanceled)}})
	if r.ledger != nil {
		_ = r.ledger.RecordPlanEnded(context.Background(), planID, plan.PlanCanceled, now)
	}
	return nil
}

// Delete cancels (if needed), removes worktrees, and drops persisted state.
func (r *Runner) Delete(ctx context.Context, planID string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	status, _ := r.GetStatus(planID)
	if status != plan.PlanSucceeded && status != plan.PlanFailed && status != plan.PlanPartial && status != plan.PlanCanceled {
		if err := r.Cancel(planID); err != nil {
			return err
		}
	}

	r.mu.Lock()
	for _, ns := range p.NodeStates {
		if ns.WorktreePath != "" && !ns.WorktreeCleanedUp {
			_ = r.repo.RemoveWorktree(ctx, ns.WorktreePath)
			ns.WorktreeCleanedUp = true
		}
	}
	delete(r.plans, planID)
	delete(r.cancels, planID)
	r.mu.Unlock()

	if err := r.snapshots.Delete(planID); err != nil {
		return err
	}
	r.bus.Publish(events.Event{Topic: events.TopicPlanDeleted, PlanID: planID})
	return nil
}

// RetryNode replaces the specified stages of a failed/canceled node and
// resets it to ready (spec.md §4.7 retryNode).
func (r *Runner) RetryNode(planID, nodeID string, newWork, newPrechecks, newPostchecks *plan.WorkSpec, clearWorktree bool) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := p.NodeStates[nodeID]
	if !ok {
		return orcerr.New(orcerr.KindNotFound, "node not found: "+nodeID)
	}
	if ns.Status != plan.StatusFailed && ns.Status != plan.StatusCanceled {
		return orcerr.New(orcerr.KindInvalidState, "retryNode requires a failed or canceled node, got "+string(ns.Status))
	}

	if newWork != nil {
		ns.EffectiveWork = newWork
	}
	if newPrechecks != nil {
		ns.EffectivePrechecks = newPrechecks
	}
	if newPostchecks != nil {
		ns.EffectivePostchecks = newPostchecks
	}
	ns.ClearWorktreeOnRetry = clearWorktree
	ns.PendingTrigger = plan.TriggerRetry
	ns.Status = plan.StatusReady
	ns.Error = ""
	ns.FailureReason = ""
	ns.EndedAt = nil
	plan.UnblockDependents(p, nodeID)
	// Retrying reopens the plan: an explicitly canceled plan whose node is
	// retried is live again, and its end time is no longer meaningful.
	p.Canceled = false
	p.EndedAt = nil

	if err := r.snapshots.Save(p); err != nil {
		return err
	}
	r.sched.Kick()
	return nil
}

// RetryPlan applies RetryNode to every failed node (or the given subset)
// then resumes the plan.
func (r *Runner) RetryPlan(planID string, nodeIDs []string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}

	targets := nodeIDs
	if len(targets) == 0 {
		r.mu.Lock()
		for id, ns := range p.NodeStates {
			if ns.Status == plan.StatusFailed || ns.Status == plan.StatusCanceled {
				targets = append(targets, id)
			}
		}
		r.mu.Unlock()
	}
	for _, id := range targets {
		if err := r.RetryNode(planID, id, nil, nil, nil, false); err != nil {
			return err
		}
	}
	return r.Resume(planID)
}

// Reshape applies a batch of topology operations atomically (spec.md §4.7).
func (r *Runner) Reshape(planID string, ops []plan.ReshapeOp) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	reshaped, err := plan.Reshape(p, ops)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.plans[planID] = reshaped
	r.mu.Unlock()

	return r.snapshots.Save(reshaped)
}

// ForceFailNode marks a running/scheduled node failed with failureReason
// crashed (spec.md §4.7) and, if the node is actually running, cancels its
// derived context so the in-flight pipeline attempt is interrupted rather
// than left to run to completion against a plan that has already moved on.
func (r *Runner) ForceFailNode(planID, nodeID, reason string) error {
	p, err := r.Get(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	ns, ok := p.NodeStates[nodeID]
	if !ok {
		return orcerr.New(orcerr.KindNotFound, "node not found: "+nodeID)
	}
	if ns.Status != plan.StatusRunning && ns.Status != plan.StatusScheduled {
		return orcerr.New(orcerr.KindInvalidState, "forceFailNode requires running or scheduled, got "+string(ns.Status))
	}
	now := time.Now()
	ns.Status = plan.StatusFailed
	ns.FailureReason = plan.FailureCrashed
	ns.Error = reason
	ns.EndedAt = &now
	if cancel, ok := r.cancels[planID][nodeID]; ok {
		cancel()
	}
	return r.snapshots.Save(p)
}

// runNode is the Scheduler's Dispatcher callback: it runs one attempt
// through the Pipeline, recomputes readiness, persists, and emits
// planCompleted once the rollup goes terminal.
func (r *Runner) runNode(ctx context.Context, p *plan.Plan, node *plan.Node) {
	nodeCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	ns := p.NodeStates[node.ID]
	ns.Status = plan.StatusRunning
	started := time.Now()
	ns.StartedAt = &started
	if p.StartedAt == nil {
		p.StartedAt = &started
	}
	if r.cancels[p.ID] == nil {
		r.cancels[p.ID] = make(map[string]context.CancelFunc)
	}
	r.cancels[p.ID][node.ID] = cancel
	trigger := plan.TriggerInitial
	switch {
	case ns.PendingTrigger != "":
		trigger = ns.PendingTrigger
		ns.PendingTrigger = ""
	case ns.Attempts > 0:
		trigger = plan.TriggerRetry
	}
	r.mu.Unlock()
	r.bus.Publish(events.Event{Topic: events.TopicNodeTransition, PlanID: p.ID, NodeID: node.ID, Data: map[string]any{"status": string(plan.StatusRunning)}})
	rec, runErr := r.pipe.RunAttempt(nodeCtx, p, node, trigger)
	cancel()

	r.mu.Lock()
	delete(r.cancels[p.ID], node.ID)
	var toClean string
	if runErr == nil {
		ns.Status = plan.StatusSucceeded
		if plan.IsLeaf(node) && ns.MergedToTarget && p.Spec.CleanUp() {
			toClean = ns.WorktreePath
		}
	} else if rec.Status == plan.AttemptCanceled || ns.Status == plan.StatusCanceled {
		// Cancel(planId) already flipped the state and failure reason; the
		// pipeline's interrupted attempt only confirms it. Cancellation is
		// terminal, never auto-healed.
		ns.Status = plan.StatusCanceled
		ns.FailureReason = plan.FailureCanceled
		// A cancel that lands outside a work phase (e.g. during worktree
		// setup) surfaces as a plain failure; record the attempt as canceled.
		if last := len(ns.AttemptHistory) - 1; rec.Status == plan.AttemptFailed && last >= 0 && ns.AttemptHistory[last].AttemptNumber == rec.AttemptNumber {
			rec.Status = plan.AttemptCanceled
			ns.AttemptHistory[last] = rec
			ns.LastAttempt = &rec
		}
	} else if ns.Status == plan.StatusFailed && ns.FailureReason == plan.FailureCrashed {
		// ForceFailNode marked this node while its attempt was in flight;
		// keep the crashed classification it chose.
	} else if rec.FailedPhase == plan.StepWork && !ns.AutoHealAttempted && rec.WorkUsed.AutoHealable() {
		// spec.md §4.4 step 4, §7: one automatic agent-assisted retry for
		// an auto-healable work-phase failure (always true for the
		// Snapshot-Validation node unless its work spec opts out).
		healWork := plan.AutoHealWork(node.Task, rec.Error)
		ns.EffectiveWork = &healWork
		ns.AutoHealAttempted = true
		ns.PendingTrigger = plan.TriggerAutoHeal
		ns.Status = plan.StatusReady
		ns.Error = ""
	} else {
		ns.Status = plan.StatusFailed
		ns.FailureReason = plan.FailureNormal
		ns.Error = rec.Error
	}
	ended := time.Now()
	ns.EndedAt = &ended
	changed := plan.RecomputeReadiness(p)
	rollup := plan.Rollup(p)
	if rollup == plan.PlanSucceeded || rollup == plan.PlanFailed || rollup == plan.PlanPartial {
		p.EndedAt = &ended
	}
	r.mu.Unlock()

	if toClean != "" {
		if err := r.repo.RemoveWorktree(ctx, toClean); err == nil {
			r.mu.Lock()
			ns.WorktreeCleanedUp = true
			r.mu.Unlock()
		}
	}

	if r.ledger != nil {
		_ = r.ledger.RecordAttempt(ctx, p.ID, node.ID, node.ProducerID, rec)
	}
	_ = r.snapshots.Save(p)

	for _, id := range changed {
		r.bus.Publish(events.Event{Topic: events.TopicNodeTransition, PlanID: p.ID, NodeID: id})
	}
	if ns.Status == plan.StatusReady {
		r.sched.Kick()
	}
	if rollup == plan.PlanSucceeded || rollup == plan.PlanFailed || rollup == plan.PlanPartial {
		r.bus.Publish(events.Event{Topic: events.TopicPlanCompleted, PlanID: p.ID, Data: map[string]any{"status": string(rollup)}})
		if r.ledger != nil {
			_ = r.ledger.RecordPlanEnded(ctx, p.ID, rollup, *p.EndedAt)
		}
	}
}

// Recover reloads every snapshot on disk, marks previously running/
// scheduled nodes as crashed-failed (and therefore retryable), and emits
// planCreated for each recovered plan (spec.md §4.9 boot sequence).
func (r *Runner) Recover(ctx context.Context) error {
	ids, err := r.snapshots.ListPlanIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, states, err := r.snapshots.Load(id)
		if err != nil {
			return fmt.Errorf("recover plan %s: %w", id, err)
		}
		p.NodeStates = states

		touched := false
		for _, ns := range states {
			if ns.Status == plan.StatusRunning || ns.Status == plan.StatusScheduled {
				ns.Status = plan.StatusFailed
				ns.FailureReason = plan.FailureCrashed
				ns.Error = "interrupted by restart"
				touched = true
			}
		}

		r.mu.Lock()
		r.plans[id] = p
		r.mu.Unlock()

		if touched {
			if err := r.snapshots.Save(p); err != nil {
				return err
			}
		}
		r.bus.Publish(events.Event{Topic: events.TopicPlanCreated, PlanID: id})
	}
	return nil
}
