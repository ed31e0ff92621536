package runner

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/capacity"
	"github.com/orcworks/orc/internal/events"
	"github.com/orcworks/orc/internal/gitops"
	"github.com/orcworks/orc/internal/logging"
	"github.com/orcworks/orc/internal/logstore"
	"github.com/orcworks/orc/internal/pipeline"
	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/store"
	"github.com/orcworks/orc/internal/workexec"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-q", "-b", "main")
	runGit(t, dir, "config", "user.email", "orc-test@example.com")
	runGit(t, dir, "config", "user.name", "orc-test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-q", "-m", "initial commit")
	return dir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

func shellWork(command string) plan.WorkSpec {
	shell := plan.ShellSh
	if runtime.GOOS == "windows" {
		shell = plan.ShellCmd
	}
	return plan.WorkSpec{Kind: plan.WorkShell, Command: command, Shell: shell}
}

// newTestRunner wires every collaborator against a real temp git repo, the
// way cli.buildRunner wires them for a live process, minus config loading.
func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	dir := initRepo(t)
	repo, err := gitops.Open(context.Background(), dir, 10*time.Second)
	require.NoError(t, err)

	broker, err := capacity.Open(dir, 4)
	require.NoError(t, err)
	bus := events.New()
	logs := logstore.New(repo.Root())
	snapshots := store.NewSnapshotStore(repo.Root())
	console := logging.New(io.Discard, "error")
	pipe := pipeline.New(repo, workexec.NewExecutor(), logs, bus, console)

	r := New(Options{
		Repo:      repo,
		Snapshots: snapshots,
		Bus:       bus,
		Broker:    broker,
		Pipeline:  pipe,
		Logs:      logs,
		GlobalCap: 4,
	})
	return r, dir
}

func onePlanSpec(name string) plan.PlanSpec {
	return plan.PlanSpec{
		Name:        name,
		MaxParallel: 1,
		Jobs: []plan.JobSpec{
			{ProducerID: "build", Task: "build the thing", Work: shellWork("echo built > output.txt")},
		},
	}
}

func waitForTerminal(t *testing.T, r *Runner, planID string) plan.PlanStatus {
	t.Helper()
	var status plan.PlanStatus
	require.Eventually(t, func() bool {
		s, err := r.GetStatus(planID)
		require.NoError(t, err)
		status = s
		return s == plan.PlanSucceeded || s == plan.PlanFailed || s == plan.PlanPartial || s == plan.PlanCanceled
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestEnqueueRunsToSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	defer r.Stop()

	p, err := r.Enqueue(ctx, onePlanSpec("demo"))
	require.NoError(t, err)
	assert.NotEqual(t, "main", p.TargetBranch, "a default-branch plan integrates into its own orc/ branch")

	status := waitForTerminal(t, r, p.ID)
	assert.Equal(t, plan.PlanSucceeded, status)

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	nodeID := got.ProducerIDToNodeID["build"]
	assert.True(t, got.NodeStates[nodeID].MergedToTarget)
}

func TestEnqueueHonorsExplicitNonDefaultTargetBranch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, dir := newTestRunner(t)
	runGit(t, dir, "branch", "integration-branch", "main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.BaseBranch = "main"
	spec.TargetBranch = "integration-branch"
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "integration-branch", p.TargetBranch)

	status := waitForTerminal(t, r, p.ID)
	assert.Equal(t, plan.PlanSucceeded, status)
}

func TestEnqueueFailingNodeRollsUpToFailed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.Jobs[0].Work = shellWork("exit 1")
	spec.Jobs[0].Work.OnFailure = &plan.OnFailure{NoAutoHeal: true}

	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)

	status := waitForTerminal(t, r, p.ID)
	assert.Equal(t, plan.PlanFailed, status)
}

func TestPauseBlocksAdmissionUntilResume(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.StartPaused = true
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)

	status, err := r.GetStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanPaused, status)

	require.NoError(t, r.Resume(p.ID))
	finalStatus := waitForTerminal(t, r, p.ID)
	assert.Equal(t, plan.PlanSucceeded, finalStatus)
}

func TestCancelMarksNonTerminalNodesCanceled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spec := onePlanSpec("demo")
	spec.StartPaused = true
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)

	require.NoError(t, r.Cancel(p.ID))
	status, err := r.GetStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCanceled, status)

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	for _, ns := range got.NodeStates {
		assert.Equal(t, plan.StatusCanceled, ns.Status)
	}
}

func TestCancelInterruptsRunningWork(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.Jobs[0].Work = shellWork("sleep 30")
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)

	nodeID := p.ProducerIDToNodeID["build"]
	require.Eventually(t, func() bool {
		got, err := r.Get(p.ID)
		require.NoError(t, err)
		return got.NodeStates[nodeID].Status == plan.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Cancel(p.ID))

	require.Eventually(t, func() bool {
		got, err := r.Get(p.ID)
		require.NoError(t, err)
		ns := got.NodeStates[nodeID]
		return ns.Status == plan.StatusCanceled && len(ns.AttemptHistory) == 1
	}, 5*time.Second, 10*time.Millisecond, "the sleep must be killed well before its 30s run out")

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	ns := got.NodeStates[nodeID]
	assert.Equal(t, plan.FailureCanceled, ns.FailureReason)
	assert.Equal(t, plan.AttemptCanceled, ns.AttemptHistory[0].Status)

	status, err := r.GetStatus(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanCanceled, status)
}

func TestRetryPlanRetriesFailedNodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.Jobs[0].Work = shellWork("exit 1")
	spec.Jobs[0].Work.OnFailure = &plan.OnFailure{NoAutoHeal: true}
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, plan.PlanFailed, waitForTerminal(t, r, p.ID))

	nodeID := p.ProducerIDToNodeID["build"]
	fixed := shellWork("echo fixed > output.txt")
	require.NoError(t, r.RetryNode(p.ID, nodeID, &fixed, nil, nil, false))

	finalStatus := waitForTerminal(t, r, p.ID)
	assert.Equal(t, plan.PlanSucceeded, finalStatus)
}

func TestRetryUnblocksDownstreamNodes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := plan.PlanSpec{
		Name:        "chain",
		MaxParallel: 1,
		Jobs: []plan.JobSpec{
			{ProducerID: "build", Task: "build", Work: shellWork("exit 1")},
			{ProducerID: "test", Task: "test", Work: shellWork("test -f output.txt"), Dependencies: []string{"build"}, ExpectsNoChanges: true},
		},
	}
	spec.Jobs[0].Work.OnFailure = &plan.OnFailure{NoAutoHeal: true}

	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, plan.PlanFailed, waitForTerminal(t, r, p.ID))

	buildID := p.ProducerIDToNodeID["build"]
	testID := p.ProducerIDToNodeID["test"]
	got, err := r.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, plan.StatusBlocked, got.NodeStates[testID].Status)

	fixed := shellWork("echo built > output.txt")
	require.NoError(t, r.RetryNode(p.ID, buildID, &fixed, nil, nil, false))

	require.Equal(t, plan.PlanSucceeded, waitForTerminal(t, r, p.ID))
	assert.Equal(t, plan.StatusSucceeded, got.NodeStates[testID].Status)
}

func TestReshapeAddsNodeToRunningPlan(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spec := onePlanSpec("demo")
	spec.StartPaused = true
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)

	err = r.Reshape(p.ID, []plan.ReshapeOp{{
		Kind:   plan.OpAddNode,
		NewJob: &plan.JobSpec{ProducerID: "extra", Task: "extra work", Work: shellWork("true")},
	}})
	require.NoError(t, err)

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	_, ok := got.ProducerIDToNodeID["extra"]
	assert.True(t, ok)
}

func TestDeleteRemovesSnapshotAndWorktrees(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, dir := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	p, err := r.Enqueue(ctx, onePlanSpec("demo"))
	require.NoError(t, err)
	waitForTerminal(t, r, p.ID)
	r.Stop()

	require.NoError(t, r.Delete(ctx, p.ID))
	_, err = r.Get(p.ID)
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, ".orc", "plans", p.ID+".json"))
}

func TestRecoverMarksRunningNodesCrashedFailed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, dir := newTestRunner(t)
	ctx := context.Background()

	p, err := r.Enqueue(ctx, func() plan.PlanSpec {
		s := onePlanSpec("demo")
		s.StartPaused = true
		return s
	}())
	require.NoError(t, err)

	nodeID := p.ProducerIDToNodeID["build"]
	p.NodeStates[nodeID].Status = plan.StatusRunning
	require.NoError(t, r.snapshots.Save(p))

	r2, _ := newTestRunner2(t, dir)
	require.NoError(t, r2.Recover(ctx))

	recovered, err := r2.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, recovered.NodeStates[nodeID].Status)
	assert.Equal(t, plan.FailureCrashed, recovered.NodeStates[nodeID].FailureReason)
}

func TestReadAPIsSurfaceAttemptHistoryAndFailureContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	r, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	spec := onePlanSpec("demo")
	spec.Jobs[0].Work = shellWork("echo doomed; exit 3")
	spec.Jobs[0].Work.OnFailure = &plan.OnFailure{NoAutoHeal: true}
	p, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, plan.PlanFailed, waitForTerminal(t, r, p.ID))

	nodeID := p.ProducerIDToNodeID["build"]

	attempts, err := r.GetNodeAttempts(p.ID, nodeID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, plan.TriggerInitial, attempts[0].TriggerType)
	assert.Equal(t, plan.AttemptFailed, attempts[0].Status)
	assert.Equal(t, plan.StepWork, attempts[0].FailedPhase)

	logs, err := r.GetNodeLogs(p.ID, nodeID, 0)
	require.NoError(t, err)
	assert.Contains(t, logs, "doomed")

	fc, err := r.GetNodeFailureContext(p.ID, nodeID)
	require.NoError(t, err)
	assert.Equal(t, "build", fc.ProducerID)
	assert.Equal(t, plan.StepWork, fc.FailedPhase)
	assert.Contains(t, fc.PhaseLog, "doomed")

	fixed := shellWork("echo fixed > output.txt")
	require.NoError(t, r.RetryNode(p.ID, nodeID, &fixed, nil, nil, false))
	require.Equal(t, plan.PlanSucceeded, waitForTerminal(t, r, p.ID))

	attempts, err = r.GetNodeAttempts(p.ID, nodeID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, plan.TriggerRetry, attempts[1].TriggerType)

	_, err = r.GetNodeFailureContext(p.ID, nodeID)
	assert.Error(t, err, "a succeeded node has no failure context")
}

func TestGetEffectiveEndedAtCoversChildPlans(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	parentSpec := onePlanSpec("parent")
	parentSpec.StartPaused = true
	parent, err := r.Enqueue(ctx, parentSpec)
	require.NoError(t, err)

	childSpec := onePlanSpec("child")
	childSpec.StartPaused = true
	child, err := r.Enqueue(ctx, childSpec)
	require.NoError(t, err)
	child.ParentPlanID = parent.ID

	require.NoError(t, r.Cancel(parent.ID))
	endedAt, err := r.GetEffectiveEndedAt(parent.ID)
	require.NoError(t, err)
	assert.Nil(t, endedAt, "parent tree is not done while the child plan still runs")

	require.NoError(t, r.Cancel(child.ID))
	endedAt, err = r.GetEffectiveEndedAt(parent.ID)
	require.NoError(t, err)
	require.NotNil(t, endedAt)
	assert.False(t, endedAt.Before(*parent.EndedAt))
}

// newTestRunner2 rebuilds a Runner against an already-initialized repo dir,
// simulating a second process recovering after a restart.
func newTestRunner2(t *testing.T, dir string) (*Runner, string) {
	t.Helper()
	repo, err := gitops.Open(context.Background(), dir, 10*time.Second)
	require.NoError(t, err)

	broker, err := capacity.Open(dir, 4)
	require.NoError(t, err)
	bus := events.New()
	logs := logstore.New(repo.Root())
	snapshots := store.NewSnapshotStore(repo.Root())
	console := logging.New(io.Discard, "error")
	pipe := pipeline.New(repo, workexec.NewExecutor(), logs, bus, console)

	r := New(Options{
		Repo:      repo,
		Snapshots: snapshots,
		Bus:       bus,
		Broker:    broker,
		Pipeline:  pipe,
		Logs:      logs,
		GlobalCap: 4,
	})
	return r, dir
}
