package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/plan"
)

func samplePlan() *plan.Plan {
	return &plan.Plan{
		ID:   "plan-1",
		Spec: plan.PlanSpec{Name: "demo"},
		Nodes: map[string]*plan.Node{
			"node-1": {ID: "node-1", ProducerID: "setup"},
		},
		NodeStates: map[string]*plan.NodeState{
			"node-1": plan.NewNodeState(),
		},
		ProducerIDToNodeID: map[string]string{"setup": "node-1"},
	}
}

func TestSnapshotSaveThenLoadRoundTrips(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	p := samplePlan()

	require.NoError(t, s.Save(p))

	loaded, states, err := s.Load(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Equal(t, p.Spec.Name, loaded.Spec.Name)
	require.Contains(t, states, "node-1")
	assert.Equal(t, plan.StatusPending, states["node-1"].Status)
}

func TestSnapshotListPlanIDs(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())

	ids, err := s.ListPlanIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	p1 := samplePlan()
	p2 := samplePlan()
	p2.ID = "plan-2"
	require.NoError(t, s.Save(p1))
	require.NoError(t, s.Save(p2))

	ids, err = s.ListPlanIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"plan-1", "plan-2"}, ids)
}

func TestSnapshotDelete(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	p := samplePlan()
	require.NoError(t, s.Save(p))

	require.NoError(t, s.Delete(p.ID))

	_, _, err := s.Load(p.ID)
	require.Error(t, err)

	// deleting again is not an error.
	require.NoError(t, s.Delete(p.ID))
}

func TestSnapshotLoadMissingPlan(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	_, _, err := s.Load("does-not-exist")
	require.Error(t, err)
}
