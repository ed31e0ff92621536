package plan

import (
	"fmt"

	"github.com/google/uuid"
)

// ReshapeOpKind enumerates the reshape operations of spec.md §4.7.
type ReshapeOpKind string

const (
	OpAddNode    ReshapeOpKind = "add_node"
	OpRemoveNode ReshapeOpKind = "remove_node"
	OpUpdateDeps ReshapeOpKind = "update_deps"
	OpAddBefore  ReshapeOpKind = "add_before"
	OpAddAfter   ReshapeOpKind = "add_after"
)

// ReshapeOp is one atomic step of a Reshape batch.
type ReshapeOp struct {
	Kind ReshapeOpKind

	NewJob *JobSpec // add_node, add_before, add_after

	TargetProducerID string   // remove_node, update_deps, add_before, add_after
	NewDependencies  []string // update_deps
}

// Reshape applies ops in sequence against a deep-copied Plan; cycle checks
// run after every op, and the whole batch is rolled back on any failure
// (spec.md §4.7). Only pending/ready nodes may be removed or have their
// dependencies updated. On success, the Snapshot-Validation node (if
// present) is resynced and the returned Plan replaces the caller's.
func Reshape(p *Plan, ops []ReshapeOp) (*Plan, error) {
	working := clonePlan(p)

	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpAddNode:
			err = applyAddNode(working, op.NewJob, nil)
		case OpRemoveNode:
			err = applyRemoveNode(working, op.TargetProducerID)
		case OpUpdateDeps:
			err = applyUpdateDeps(working, op.TargetProducerID, op.NewDependencies)
		case OpAddBefore:
			err = applyAddBefore(working, op.TargetProducerID, op.NewJob)
		case OpAddAfter:
			err = applyAddAfter(working, op.TargetProducerID, op.NewJob)
		default:
			err = fmt.Errorf("unknown reshape op %q", op.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("reshape op %d (%s): %w", i, op.Kind, err)
		}
		if err := checkAcyclic(working); err != nil {
			return nil, fmt.Errorf("reshape op %d (%s): %w", i, op.Kind, err)
		}
	}

	SyncSnapshotValidation(working)
	if err := checkAcyclic(working); err != nil {
		return nil, err
	}
	RecomputeReadiness(working)
	return working, nil
}

func clonePlan(p *Plan) *Plan {
	cp := *p
	cp.Nodes = make(map[string]*Node, len(p.Nodes))
	cp.NodeStates = make(map[string]*NodeState, len(p.NodeStates))
	cp.ProducerIDToNodeID = make(map[string]string, len(p.ProducerIDToNodeID))
	for id, n := range p.Nodes {
		nn := *n
		nn.Dependencies = append([]string{}, n.Dependencies...)
		nn.Dependents = append([]string{}, n.Dependents...)
		cp.Nodes[id] = &nn
	}
	for id, ns := range p.NodeStates {
		nns := *ns
		cp.NodeStates[id] = &nns
	}
	for k, v := range p.ProducerIDToNodeID {
		cp.ProducerIDToNodeID[k] = v
	}
	cp.Roots = append([]string{}, p.Roots...)
	cp.Leaves = append([]string{}, p.Leaves...)
	return &cp
}

func mustMutable(p *Plan, producerID string) (*Node, error) {
	id, ok := p.ProducerIDToNodeID[producerID]
	if !ok {
		return nil, fmt.Errorf("unknown producerId %q", producerID)
	}
	ns := p.NodeStates[id]
	if ns.Status != StatusPending && ns.Status != StatusReady {
		return nil, fmt.Errorf("producerId %q is not pending/ready (status=%s)", producerID, ns.Status)
	}
	return p.Nodes[id], nil
}

func applyAddNode(p *Plan, job *JobSpec, extraDeps []string) error {
	if job == nil {
		return fmt.Errorf("add_node requires a job spec")
	}
	if !ProducerIDPattern.MatchString(job.ProducerID) {
		return fmt.Errorf("producerId %q invalid", job.ProducerID)
	}
	if _, exists := p.ProducerIDToNodeID[job.ProducerID]; exists {
		return fmt.Errorf("producerId %q already exists", job.ProducerID)
	}
	deps := make([]string, 0, len(job.Dependencies)+len(extraDeps))
	for _, depProducer := range job.Dependencies {
		depID, ok := p.ProducerIDToNodeID[depProducer]
		if !ok {
			return fmt.Errorf("unknown dependency producerId %q", depProducer)
		}
		deps = append(deps, depID)
	}
	deps = append(deps, extraDeps...)

	id := newNodeID(p)
	node := &Node{
		ID:           id,
		ProducerID:   job.ProducerID,
		Name:         job.Task,
		Type:         "job",
		Dependencies: deps,
		Task:         job.Task,
		Work:         job.Work,
		Prechecks:    job.Prechecks,
		Postchecks:   job.Postchecks,
		Group:        job.Group,
	}
	p.ProducerIDToNodeID[job.ProducerID] = id
	p.Nodes[id] = node
	p.NodeStates[id] = NewNodeState()
	for _, dep := range deps {
		p.Nodes[dep].Dependents = append(p.Nodes[dep].Dependents, id)
	}
	if len(deps) == 0 {
		p.Roots = append(p.Roots, id)
	}
	recomputeLeaves(p)
	return nil
}

func applyRemoveNode(p *Plan, producerID string) error {
	node, err := mustMutable(p, producerID)
	if err != nil {
		return err
	}
	if len(node.Dependents) > 0 {
		return fmt.Errorf("producerId %q has dependents; update_deps them first", producerID)
	}
	for _, dep := range node.Dependencies {
		p.Nodes[dep].Dependents = removeString(p.Nodes[dep].Dependents, node.ID)
	}
	delete(p.Nodes, node.ID)
	delete(p.NodeStates, node.ID)
	delete(p.ProducerIDToNodeID, producerID)
	p.Roots = removeString(p.Roots, node.ID)
	recomputeLeaves(p)
	return nil
}

func applyUpdateDeps(p *Plan, producerID string, newDeps []string) error {
	node, err := mustMutable(p, producerID)
	if err != nil {
		return err
	}
	resolved := make([]string, 0, len(newDeps))
	for _, depProducer := range newDeps {
		depID, ok := p.ProducerIDToNodeID[depProducer]
		if !ok {
			return fmt.Errorf("unknown dependency producerId %q", depProducer)
		}
		resolved = append(resolved, depID)
	}
	for _, dep := range node.Dependencies {
		p.Nodes[dep].Dependents = removeString(p.Nodes[dep].Dependents, node.ID)
	}
	node.Dependencies = resolved
	for _, dep := range resolved {
		p.Nodes[dep].Dependents = append(p.Nodes[dep].Dependents, node.ID)
	}
	if len(resolved) == 0 {
		p.Roots = appendUnique(p.Roots, node.ID)
	} else {
		p.Roots = removeString(p.Roots, node.ID)
	}
	recomputeLeaves(p)
	return nil
}

// applyAddBefore: the new node takes over Y's current dependency set; Y is
// replaced with a single dependency on the new node (spec.md §9 Open
// Question (a), resolved conservatively as documented there).
func applyAddBefore(p *Plan, targetProducerID string, job *JobSpec) error {
	target, err := mustMutable(p, targetProducerID)
	if err != nil {
		return err
	}
	oldDeps := append([]string{}, target.Dependencies...)
	job.Dependencies = nil // wired directly below via node IDs, not producerIds
	if err := applyAddNode(p, job, oldDeps); err != nil {
		return err
	}
	newID := p.ProducerIDToNodeID[job.ProducerID]

	for _, dep := range oldDeps {
		p.Nodes[dep].Dependents = removeString(p.Nodes[dep].Dependents, target.ID)
	}
	target.Dependencies = []string{newID}
	p.Nodes[newID].Dependents = append(p.Nodes[newID].Dependents, target.ID)
	p.Roots = removeString(p.Roots, target.ID)
	recomputeLeaves(p)
	return nil
}

// applyAddAfter: the new node depends solely on Y; Y's current dependents
// are rewired to depend on the new node instead (spec.md §9 Open Question (a)).
func applyAddAfter(p *Plan, targetProducerID string, job *JobSpec) error {
	target, err := mustMutable(p, targetProducerID)
	if err != nil {
		return err
	}
	oldDependents := append([]string{}, target.Dependents...)

	job.Dependencies = nil
	if err := applyAddNode(p, job, []string{target.ID}); err != nil {
		return err
	}
	newID := p.ProducerIDToNodeID[job.ProducerID]

	for _, dependentID := range oldDependents {
		dependent := p.Nodes[dependentID]
		dependent.Dependencies = replaceString(dependent.Dependencies, target.ID, newID)
		p.Nodes[newID].Dependents = append(p.Nodes[newID].Dependents, dependentID)
	}
	target.Dependents = []string{newID}
	recomputeLeaves(p)
	return nil
}

func replaceString(ss []string, old, replacement string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		if s == old {
			out[i] = replacement
		} else {
			out[i] = s
		}
	}
	return out
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

func recomputeLeaves(p *Plan) {
	var leaves []string
	for id, n := range p.Nodes {
		if len(n.Dependents) == 0 {
			leaves = append(leaves, id)
		}
	}
	p.Leaves = leaves
}

func newNodeID(p *Plan) string {
	// Node IDs are UUIDs elsewhere; reshape-added nodes follow the same
	// scheme to stay indistinguishable from Build-time nodes.
	return uuid.NewString()
}
