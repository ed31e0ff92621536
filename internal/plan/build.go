package plan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Build validates spec and constructs a runtime Plan with Node/NodeState
// maps, dependents transposed from dependencies, roots/leaves derived, and
// (if spec.VerifyRI is set) the Snapshot-Validation node injected as the
// unique final leaf depending on every other leaf (spec.md §4.5, §9).
//
// baseBranch/targetBranch must already be resolved by the caller (the git
// porcelain layer owns default-branch detection, spec.md §4.1); Build only
// wires them onto the Plan and onto root nodes that don't override them.
func Build(spec PlanSpec, baseBranch, targetBranch string) (*Plan, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	p := &Plan{
		ID:                 uuid.NewString(),
		Spec:               spec,
		BaseBranch:         baseBranch,
		TargetBranch:       targetBranch,
		CreatedAt:          time.Now(),
		Nodes:              make(map[string]*Node),
		NodeStates:         make(map[string]*NodeState),
		ProducerIDToNodeID: make(map[string]string),
		IsPaused:           spec.StartPaused,
	}

	for _, j := range spec.Jobs {
		id := uuid.NewString()
		p.ProducerIDToNodeID[j.ProducerID] = id
	}

	for _, j := range spec.Jobs {
		id := p.ProducerIDToNodeID[j.ProducerID]
		deps := make([]string, 0, len(j.Dependencies))
		for _, dep := range j.Dependencies {
			deps = append(deps, p.ProducerIDToNodeID[dep])
		}
		node := &Node{
			ID:               id,
			ProducerID:       j.ProducerID,
			Name:             j.Task,
			Type:             "job",
			Dependencies:     deps,
			Task:             j.Task,
			Work:             j.Work,
			Prechecks:        j.Prechecks,
			Postchecks:       j.Postchecks,
			Instructions:     j.Instructions,
			Group:            j.Group,
			ExpectsNoChanges: j.ExpectsNoChanges,
			Env:              j.Env,
		}
		if len(deps) == 0 {
			node.BaseBranchOverride = j.BaseBranch
		}
		p.Nodes[id] = node
		p.NodeStates[id] = NewNodeState()
	}

	wireDependents(p)
	p.Roots, p.Leaves = rootsAndLeaves(p)

	if spec.VerifyRI != nil {
		if err := injectSnapshotValidation(p, *spec.VerifyRI); err != nil {
			return nil, err
		}
	}

	if err := checkAcyclic(p); err != nil {
		return nil, err
	}

	seedReadiness(p)
	return p, nil
}

func wireDependents(p *Plan) {
	for id, n := range p.Nodes {
		for _, dep := range n.Dependencies {
			if dn, ok := p.Nodes[dep]; ok {
				dn.Dependents = append(dn.Dependents, id)
			}
		}
	}
}

func rootsAndLeaves(p *Plan) (roots, leaves []string) {
	for id, n := range p.Nodes {
		if len(n.Dependencies) == 0 {
			roots = append(roots, id)
		}
		if len(n.Dependents) == 0 {
			leaves = append(leaves, id)
		}
	}
	return roots, leaves
}

// injectSnapshotValidation adds the auto-injected final verification node
// depending on every current leaf (spec.md §4.5, §9: "the unique final
// leaf"). Subsequent reshape operations call SyncSnapshotValidation to keep
// its dependency set current.
func injectSnapshotValidation(p *Plan, work WorkSpec) error {
	id := uuid.NewString()
	p.ProducerIDToNodeID[SnapshotValidationProducerID] = id
	node := &Node{
		ID:           id,
		ProducerID:   SnapshotValidationProducerID,
		Name:         "Snapshot Validation",
		Type:         "job",
		Dependencies: append([]string{}, p.Leaves...),
		Task:         "verify repository snapshot",
		Work:         work,
	}
	for _, leafID := range p.Leaves {
		if leaf, ok := p.Nodes[leafID]; ok {
			leaf.Dependents = append(leaf.Dependents, id)
		}
	}
	p.Nodes[id] = node
	p.NodeStates[id] = NewNodeState()
	p.Leaves = []string{id}
	return nil
}

// SyncSnapshotValidation re-points the Snapshot-Validation node's
// dependencies at the current leaf set after a reshape (spec.md §4.7).
func SyncSnapshotValidation(p *Plan) {
	svID, ok := p.ProducerIDToNodeID[SnapshotValidationProducerID]
	if !ok {
		return
	}
	sv, ok := p.Nodes[svID]
	if !ok {
		return
	}
	for _, oldDep := range sv.Dependencies {
		if n, ok := p.Nodes[oldDep]; ok {
			n.Dependents = removeString(n.Dependents, svID)
		}
	}
	var newLeaves []string
	for id, n := range p.Nodes {
		if id == svID {
			continue
		}
		hasNonSVDependent := false
		for _, dep := range n.Dependents {
			if dep != svID {
				hasNonSVDependent = true
				break
			}
		}
		if !hasNonSVDependent {
			newLeaves = append(newLeaves, id)
		}
	}
	sv.Dependencies = newLeaves
	for _, id := range newLeaves {
		if n, ok := p.Nodes[id]; ok {
			n.Dependents = append(n.Dependents, svID)
		}
	}
	p.Leaves = []string{svID}
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// checkAcyclic verifies the node-ID graph (post Snapshot-Validation
// injection) has no cycles and that dependents is exactly the transpose of
// dependencies (spec.md §3, §8).
func checkAcyclic(p *Plan) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	colors := make(map[string]int, len(p.Nodes))
	var dfs func(string) bool
	dfs = func(id string) bool {
		colors[id] = gray
		for _, dep := range p.Nodes[id].Dependencies {
			if colors[dep] == gray {
				return true
			}
			if colors[dep] == white && dfs(dep) {
				return true
			}
		}
		colors[id] = black
		return false
	}
	for id := range p.Nodes {
		if colors[id] == white {
			if dfs(id) {
				return fmt.Errorf("plan validation failed: circular dependency detected among node IDs")
			}
		}
	}
	return nil
}

// seedReadiness transitions root nodes with no dependencies to ready,
// unless the plan starts paused (spec.md §4.5).
func seedReadiness(p *Plan) {
	if p.IsPaused {
		return
	}
	for _, id := range p.Roots {
		if ns := p.NodeStates[id]; ns.Status == StatusPending {
			ns.Status = StatusReady
		}
	}
}
