// Package plan holds the in-memory Plan/Node data model, its topology
// invariants, and the per-node state machine (spec.md §3, §4.5). It owns no
// I/O: git, process execution, and persistence all live in sibling packages
// and operate on the types defined here.
package plan

import "time"

// NodeStatus is the lifecycle state of a Node (spec.md §4.5).
type NodeStatus string

const (
	StatusPending   NodeStatus = "pending"
	StatusReady     NodeStatus = "ready"
	StatusScheduled NodeStatus = "scheduled"
	StatusRunning   NodeStatus = "running"
	StatusSucceeded NodeStatus = "succeeded"
	StatusFailed    NodeStatus = "failed"
	StatusBlocked   NodeStatus = "blocked"
	StatusCanceled  NodeStatus = "canceled"
)

func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusBlocked, StatusCanceled:
		return true
	}
	return false
}

// FailureReason classifies why a node ended in a non-succeeded terminal state.
type FailureReason string

const (
	FailureNormal   FailureReason = "normal"
	FailureCrashed  FailureReason = "crashed"
	FailureCanceled FailureReason = "canceled"
)

// Step names the pipeline steps tracked in NodeState.StepStatuses (spec.md §4.4).
type Step string

const (
	StepMergeFI    Step = "merge-fi"
	StepPrechecks  Step = "prechecks"
	StepWork       Step = "work"
	StepCommit     Step = "commit"
	StepPostchecks Step = "postchecks"
	StepMergeRI    Step = "merge-ri"
)

// AllSteps is the canonical step order (spec.md §4.4 steps 2-7; "setup" is
// step 1 and is not tracked in StepStatuses because it has no pending state
// a caller would observe — it either completes or the attempt never starts).
var AllSteps = []Step{StepMergeFI, StepPrechecks, StepWork, StepCommit, StepPostchecks, StepMergeRI}

// StepStatus is the per-step execution state within one attempt.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// TriggerType classifies why an attempt began.
type TriggerType string

const (
	TriggerInitial  TriggerType = "initial"
	TriggerRetry    TriggerType = "retry"
	TriggerAutoHeal TriggerType = "auto-heal"
)

// AttemptStatus is the terminal status of a completed attempt.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptCanceled  AttemptStatus = "canceled"
)

// Metrics captures optional resource usage for a phase or a whole node.
// Fields are populated only when the Work Executor or process-tree sampler
// (an external collaborator, spec.md §1) surfaces them; zero value means
// "unknown", not "zero usage".
type Metrics struct {
	WallClock time.Duration `json:"wallClock,omitempty"`
	CPUTimeMs int64         `json:"cpuTimeMs,omitempty"`
}

// WorkSummary is the base->completed diff summary for a node (spec.md §3).
type WorkSummary struct {
	Added         int      `json:"added"`
	Modified      int      `json:"modified"`
	Deleted       int      `json:"deleted"`
	FileEntries   []string `json:"fileEntries,omitempty"`
	CommitSubjects []string `json:"commitSubjects,omitempty"`
}

// AttemptRecord is an immutable record of one execution attempt of a node
// (spec.md §3). Once appended to NodeState.AttemptHistory it is never
// mutated.
type AttemptRecord struct {
	AttemptNumber   int                      `json:"attemptNumber"`
	TriggerType     TriggerType              `json:"triggerType"`
	StartedAt       time.Time                `json:"startedAt"`
	EndedAt         time.Time                `json:"endedAt"`
	Status          AttemptStatus            `json:"status"`
	FailedPhase     Step                     `json:"failedPhase,omitempty"`
	ExitCode        *int                     `json:"exitCode,omitempty"`
	Error           string                   `json:"error,omitempty"`
	CopilotSessionID string                  `json:"copilotSessionId,omitempty"`
	StepStatuses    map[Step]StepStatus      `json:"stepStatuses"`
	WorktreePath    string                   `json:"worktreePath,omitempty"`
	BaseCommit      string                   `json:"baseCommit,omitempty"`
	WorkUsed        WorkSpec                 `json:"workUsed"`
	LogFilePath     string                   `json:"logFilePath,omitempty"`
	Metrics         *Metrics                 `json:"metrics,omitempty"`
	PhaseMetrics    map[Step]Metrics         `json:"phaseMetrics,omitempty"`
	WorkSummary     *WorkSummary             `json:"workSummary,omitempty"`
}

// Node is one work unit within a Plan (spec.md §3).
type Node struct {
	ID           string
	ProducerID   string
	Name         string
	Type         string // "job" or "subplan"
	Dependencies []string
	Dependents   []string

	Task             string
	Work             WorkSpec
	Prechecks        *WorkSpec
	Postchecks       *WorkSpec
	Instructions     string
	Group            string
	ExpectsNoChanges bool
	BaseBranchOverride string // roots only
	Env              map[string]string // overrides the plan-wide env map; node keys win
}

// EffectiveEnv merges the plan-wide environment mapping with this node's
// overrides, node keys winning (spec.md §3).
func EffectiveEnv(planEnv map[string]string, node *Node) map[string]string {
	if len(planEnv) == 0 && len(node.Env) == 0 {
		return nil
	}
	out := make(map[string]string, len(planEnv)+len(node.Env))
	for k, v := range planEnv {
		out[k] = v
	}
	for k, v := range node.Env {
		out[k] = v
	}
	return out
}

// NewNodeState returns a freshly-initialized NodeState for a node that has
// never been attempted.
func NewNodeState() *NodeState {
	return &NodeState{
		Status:       StatusPending,
		StepStatuses: freshStepStatuses(),
	}
}

func freshStepStatuses() map[Step]StepStatus {
	m := make(map[Step]StepStatus, len(AllSteps))
	for _, s := range AllSteps {
		m[s] = StepPending
	}
	return m
}

// NodeState is the mutable execution state of a Node (spec.md §3).
type NodeState struct {
	Status      NodeStatus
	Attempts    int
	ScheduledAt *time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	Error       string
	FailureReason FailureReason

	BaseCommit      string
	CompletedCommit string
	WorktreePath    string
	WorktreeCleanedUp bool
	MergedToTarget  bool // leaves only

	CopilotSessionID string

	StepStatuses map[Step]StepStatus
	LastAttempt  *AttemptRecord
	AttemptHistory []AttemptRecord

	PhaseMetrics map[Step]Metrics
	Metrics      Metrics

	WorkSummary           *WorkSummary
	AggregatedWorkSummary *WorkSummary // leaves

	// EffectiveWork/Prechecks/Postchecks hold the current work spec after
	// any retryNode replacement (spec.md §4.7); nil means "use the Node's
	// original spec".
	EffectiveWork       *WorkSpec
	EffectivePrechecks  *WorkSpec
	EffectivePostchecks *WorkSpec
	ClearWorktreeOnRetry bool

	// AutoHealAttempted marks that this node has already consumed its one
	// automatic agent-assisted retry after an auto-healable failure
	// (spec.md §7); a second ordinary failure fails the node for good.
	AutoHealAttempted bool

	// PendingTrigger records why the next attempt will run (retry vs
	// auto-heal), set when the node is reset to ready and consumed when the
	// attempt starts, so the AttemptRecord's triggerType survives the
	// ready -> scheduled -> running hop.
	PendingTrigger TriggerType
}

// Plan is the runtime instance built from a PlanSpec (spec.md §3).
type Plan struct {
	ID           string
	Spec         PlanSpec
	BaseBranch   string
	TargetBranch string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time

	Nodes           map[string]*Node
	NodeStates      map[string]*NodeState
	ProducerIDToNodeID map[string]string

	Roots  []string
	Leaves []string

	IsPaused     bool
	// Canceled marks an explicit cancel(planId) call; the rollup reports
	// PlanCanceled for the whole plan regardless of how individual nodes
	// ended (spec.md §4.5: "canceled (explicit cancel)").
	Canceled     bool
	ParentPlanID string
	WorkSummary  WorkSummary
}

// PlanStatus is the rollup status of a Plan (spec.md §4.5).
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanSucceeded PlanStatus = "succeeded"
	PlanFailed    PlanStatus = "failed"
	PlanPartial   PlanStatus = "partial"
	PlanCanceled  PlanStatus = "canceled"
)
