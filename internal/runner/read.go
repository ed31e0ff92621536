package runner

import (
	"time"

	"github.com/orcworks/orc/internal/logstore"
	"github.com/orcworks/orc/internal/orcerr"
	"github.com/orcworks/orc/internal/plan"
)

// Read-side operations of the Plan Runner (spec.md §4.7): log retrieval,
// attempt history, failure context for retry tooling, and the effective
// end time of a plan tree. All of them return copies or immutable records;
// none mutates plan state.

// GetNodeLogs returns the full log of one node attempt. attempt == 0 means
// the node's latest attempt.
func (r *Runner) GetNodeLogs(planID, nodeID string, attempt int) (string, error) {
	p, err := r.Get(planID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	ns, ok := p.NodeStates[nodeID]
	if !ok {
		r.mu.Unlock()
		return "", orcerr.New(orcerr.KindNotFound, "node not found: "+nodeID)
	}
	if attempt == 0 {
		attempt = ns.Attempts
	}
	r.mu.Unlock()
	if attempt == 0 {
		return "", orcerr.New(orcerr.KindInvalidState, "node has no attempts yet: "+nodeID)
	}
	return r.logs.ReadFull(planID, nodeID, attempt)
}

// GetNodeAttempts returns a copy of the node's attempt history, oldest
// first. AttemptRecords are immutable once appended, so the copy shares
// them safely.
func (r *Runner) GetNodeAttempts(planID, nodeID string) ([]plan.AttemptRecord, error) {
	p, err := r.Get(planID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := p.NodeStates[nodeID]
	if !ok {
		return nil, orcerr.New(orcerr.KindNotFound, "node not found: "+nodeID)
	}
	out := make([]plan.AttemptRecord, len(ns.AttemptHistory))
	copy(out, ns.AttemptHistory)
	return out, nil
}

// FailureContext bundles everything a caller needs to decide how to retry a
// failed node: what ran, where it broke, and the failing phase's log output.
type FailureContext struct {
	NodeID        string
	ProducerID    string
	Task          string
	AttemptNumber int
	FailedPhase   plan.Step
	Error         string
	ExitCode      *int
	SessionID     string
	WorkUsed      plan.WorkSpec
	PhaseLog      string
}

// GetNodeFailureContext returns the failure context of a node's most recent
// failed or canceled attempt. Succeeded and never-attempted nodes yield an
// InvalidState error.
func (r *Runner) GetNodeFailureContext(planID, nodeID string) (*FailureContext, error) {
	p, err := r.Get(planID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	node, ok := p.Nodes[nodeID]
	if !ok {
		r.mu.Unlock()
		return nil, orcerr.New(orcerr.KindNotFound, "node not found: "+nodeID)
	}
	ns := p.NodeStates[nodeID]
	last := ns.LastAttempt
	r.mu.Unlock()

	if last == nil || last.Status == plan.AttemptSucceeded {
		return nil, orcerr.New(orcerr.KindInvalidState, "node has no failed attempt: "+nodeID)
	}

	fc := &FailureContext{
		NodeID:        nodeID,
		ProducerID:    node.ProducerID,
		Task:          node.Task,
		AttemptNumber: last.AttemptNumber,
		FailedPhase:   last.FailedPhase,
		Error:         last.Error,
		ExitCode:      last.ExitCode,
		SessionID:     last.CopilotSessionID,
		WorkUsed:      last.WorkUsed,
	}
	if full, err := r.logs.ReadFull(planID, nodeID, last.AttemptNumber); err == nil {
		if last.FailedPhase != "" {
			fc.PhaseLog = logstore.PhaseSection(full, string(last.FailedPhase))
		} else {
			fc.PhaseLog = full
		}
	}
	return fc, nil
}

// GetEffectiveEndedAt returns when a plan and every plan spawned under it
// actually finished: the latest EndedAt across the plan and its children,
// recursively. A nil result means the tree is still running somewhere.
func (r *Runner) GetEffectiveEndedAt(planID string) (*time.Time, error) {
	if _, err := r.Get(planID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveEndedAtLocked(planID), nil
}

func (r *Runner) effectiveEndedAtLocked(planID string) *time.Time {
	p, ok := r.plans[planID]
	if !ok || p.EndedAt == nil {
		return nil
	}
	latest := *p.EndedAt
	for id, child := range r.plans {
		if child.ParentPlanID != planID {
			continue
		}
		childEnd := r.effectiveEndedAtLocked(id)
		if childEnd == nil {
			return nil
		}
		if childEnd.After(latest) {
			latest = *childEnd
		}
	}
	return &latest
}
