package plan

import "sort"

// RecomputeReadiness walks every pending node and promotes it to ready (all
// dependencies succeeded) or blocked (any dependency terminally failed),
// per spec.md §4.5. It is idempotent and safe to call after any transition.
// Returns the node IDs that changed status, for event emission.
func RecomputeReadiness(p *Plan) []string {
	var changed []string
	if p.IsPaused {
		return changed
	}
	for id, ns := range p.NodeStates {
		if ns.Status != StatusPending {
			continue
		}
		node := p.Nodes[id]
		allSucceeded := true
		anyBad := false
		for _, dep := range node.Dependencies {
			depStatus := p.NodeStates[dep].Status
			if depStatus != StatusSucceeded {
				allSucceeded = false
			}
			if depStatus == StatusFailed || depStatus == StatusBlocked || depStatus == StatusCanceled {
				anyBad = true
			}
		}
		switch {
		case anyBad:
			ns.Status = StatusBlocked
			ns.FailureReason = FailureNormal
			changed = append(changed, id)
		case allSucceeded:
			ns.Status = StatusReady
			changed = append(changed, id)
		}
	}
	return changed
}

// UnblockDependents resets every blocked node downstream of nodeID back to
// pending, transitively, after the node is retried. A node blocked by some
// OTHER still-failed dependency is re-blocked by the next
// RecomputeReadiness pass, so resetting here never over-promotes.
func UnblockDependents(p *Plan, nodeID string) {
	for _, depID := range p.Nodes[nodeID].Dependents {
		ns := p.NodeStates[depID]
		if ns.Status != StatusBlocked {
			continue
		}
		ns.Status = StatusPending
		ns.FailureReason = ""
		UnblockDependents(p, depID)
	}
}

// EffectiveWork returns the WorkSpec a node's next attempt should run: the
// retry-replacement if one was set via retryNode, otherwise the node's
// original work (spec.md §4.7).
func EffectiveWork(n *Node, ns *NodeState) WorkSpec {
	if ns.EffectiveWork != nil {
		return *ns.EffectiveWork
	}
	return n.Work
}

// EffectivePrechecks returns the effective prechecks WorkSpec, or nil.
func EffectivePrechecks(n *Node, ns *NodeState) *WorkSpec {
	if ns.EffectivePrechecks != nil {
		return ns.EffectivePrechecks
	}
	return n.Prechecks
}

// EffectivePostchecks returns the effective postchecks WorkSpec, or nil.
func EffectivePostchecks(n *Node, ns *NodeState) *WorkSpec {
	if ns.EffectivePostchecks != nil {
		return ns.EffectivePostchecks
	}
	return n.Postchecks
}

// IsLeaf reports whether a node has no dependents, i.e. runs merge-ri
// (spec.md §4.4 step 7).
func IsLeaf(n *Node) bool {
	return len(n.Dependents) == 0
}

// Ready returns the IDs of all nodes currently in status ready, in a stable
// order (insertion order of p.Spec.Jobs, then nodes not listed there, such as
// ones added by Reshape, in node-ID order, snapshot-validation last), for
// FIFO-per-plan admission (spec.md §4.6).
func Ready(p *Plan) []string {
	order := make([]string, 0, len(p.Nodes))
	listed := make(map[string]bool, len(p.Nodes))
	for _, j := range p.Spec.Jobs {
		if id, ok := p.ProducerIDToNodeID[j.ProducerID]; ok && !listed[id] {
			order = append(order, id)
			listed[id] = true
		}
	}
	var extra []string
	for id, n := range p.Nodes {
		if !listed[id] && n.ProducerID != SnapshotValidationProducerID {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)
	if id, ok := p.ProducerIDToNodeID[SnapshotValidationProducerID]; ok {
		order = append(order, id)
	}
	var ready []string
	for _, id := range order {
		if p.NodeStates[id].Status == StatusReady {
			ready = append(ready, id)
		}
	}
	return ready
}

// Rollup computes the Plan-level status from its NodeStates (spec.md §4.5).
func Rollup(p *Plan) PlanStatus {
	if p.Canceled {
		return PlanCanceled
	}
	if p.IsPaused {
		anyActive := false
		for _, ns := range p.NodeStates {
			if ns.Status == StatusRunning || ns.Status == StatusScheduled {
				anyActive = true
				break
			}
		}
		if !anyActive {
			return PlanPaused
		}
	}

	total := len(p.NodeStates)
	if total == 0 {
		return PlanPending
	}

	started := false
	allTerminal := true
	succeededCount := 0
	anyBad := false

	for _, ns := range p.NodeStates {
		if ns.Status != StatusPending && ns.Status != StatusReady {
			started = true
		}
		if !ns.Status.Terminal() {
			allTerminal = false
		}
		if ns.Status == StatusSucceeded {
			succeededCount++
		}
		if ns.Status == StatusFailed || ns.Status == StatusBlocked || ns.Status == StatusCanceled {
			anyBad = true
		}
	}

	if !started {
		return PlanPending
	}
	if !allTerminal {
		return PlanRunning
	}
	if succeededCount == total {
		return PlanSucceeded
	}
	if anyBad && succeededCount == 0 {
		return PlanFailed
	}
	return PlanPartial
}
