package plan

import "regexp"

// ProducerIDPattern is the validation regex for JobSpec.ProducerID (spec.md §6.5).
var ProducerIDPattern = regexp.MustCompile(`^[a-z0-9-]{3,64}$`)

// JobSpec describes one work unit within a PlanSpec (spec.md §3).
type JobSpec struct {
	ProducerID     string    `json:"producerId" yaml:"producerId"`
	Task           string    `json:"task" yaml:"task"`
	Work           WorkSpec  `json:"work" yaml:"work"`
	Dependencies   []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Prechecks      *WorkSpec `json:"prechecks,omitempty" yaml:"prechecks,omitempty"`
	Postchecks     *WorkSpec `json:"postchecks,omitempty" yaml:"postchecks,omitempty"`
	Instructions   string    `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Group          string    `json:"group,omitempty" yaml:"group,omitempty"`
	ExpectsNoChanges bool    `json:"expectsNoChanges,omitempty" yaml:"expectsNoChanges,omitempty"`
	BaseBranch     string    `json:"baseBranch,omitempty" yaml:"baseBranch,omitempty"`
	// Env overrides the plan-wide environment mapping for this node only;
	// keys present here win over the plan-wide map (spec.md §3).
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// PlanSpec is the immutable input to Runner.Enqueue (spec.md §3).
type PlanSpec struct {
	Name                  string            `json:"name" yaml:"name"`
	BaseBranch            string            `json:"baseBranch,omitempty" yaml:"baseBranch,omitempty"`
	TargetBranch          string            `json:"targetBranch,omitempty" yaml:"targetBranch,omitempty"`
	MaxParallel           int               `json:"maxParallel,omitempty" yaml:"maxParallel,omitempty"`
	CleanUpSuccessfulWork *bool             `json:"cleanUpSuccessfulWork,omitempty" yaml:"cleanUpSuccessfulWork,omitempty"`
	VerifyRI              *WorkSpec         `json:"verifyRi,omitempty" yaml:"verifyRi,omitempty"`
	Env                   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	ExtraSymlinkDirs      []string          `json:"extraSymlinkDirs,omitempty" yaml:"extraSymlinkDirs,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Jobs                  []JobSpec         `json:"jobs" yaml:"jobs"`
	StartPaused           bool              `json:"startPaused,omitempty" yaml:"startPaused,omitempty"`
}

// CleanUp resolves the effective cleanUpSuccessfulWork value (default true).
func (p PlanSpec) CleanUp() bool {
	if p.CleanUpSuccessfulWork == nil {
		return true
	}
	return *p.CleanUpSuccessfulWork
}

// SnapshotValidationProducerID is the reserved producerId of the
// auto-injected Snapshot-Validation node.
const SnapshotValidationProducerID = "snapshot-validation"
