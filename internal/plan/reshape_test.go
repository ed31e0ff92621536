package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshapeAddNode(t *testing.T) {
	p := buildTestPlan(t)
	job := &JobSpec{ProducerID: "extra", Task: "extra work", Work: WorkSpec{Kind: WorkString, String: "true"}, Dependencies: []string{"build"}}

	out, err := Reshape(p, []ReshapeOp{{Kind: OpAddNode, NewJob: job}})
	require.NoError(t, err)

	extraID, ok := out.ProducerIDToNodeID["extra"]
	require.True(t, ok)
	assert.Equal(t, []string{extraID}, out.Leaves)
	assert.Equal(t, []string{out.ProducerIDToNodeID["build"]}, out.Nodes[extraID].Dependencies)

	// the original plan is untouched.
	_, stillAbsent := p.ProducerIDToNodeID["extra"]
	assert.False(t, stillAbsent)
}

func TestReshapeRemoveNodeRejectsNodeWithDependents(t *testing.T) {
	p := buildTestPlan(t)
	_, err := Reshape(p, []ReshapeOp{{Kind: OpRemoveNode, TargetProducerID: "setup"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has dependents")
}

func TestReshapeRemoveLeaf(t *testing.T) {
	p := buildTestPlan(t)
	out, err := Reshape(p, []ReshapeOp{{Kind: OpRemoveNode, TargetProducerID: "build"}})
	require.NoError(t, err)

	_, exists := out.ProducerIDToNodeID["build"]
	assert.False(t, exists)
	setupID := out.ProducerIDToNodeID["setup"]
	assert.Empty(t, out.Nodes[setupID].Dependents)
	assert.Equal(t, []string{setupID}, out.Leaves)
}

func TestReshapeRejectsCycle(t *testing.T) {
	p := buildTestPlan(t)
	_, err := Reshape(p, []ReshapeOp{{Kind: OpUpdateDeps, TargetProducerID: "setup", NewDependencies: []string{"build"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestReshapeAddBeforeRewiresExistingDependency(t *testing.T) {
	p := buildTestPlan(t)
	job := &JobSpec{ProducerID: "lint", Task: "lint the module", Work: WorkSpec{Kind: WorkString, String: "true"}}

	out, err := Reshape(p, []ReshapeOp{{Kind: OpAddBefore, TargetProducerID: "build", NewJob: job}})
	require.NoError(t, err)

	lintID := out.ProducerIDToNodeID["lint"]
	buildID := out.ProducerIDToNodeID["build"]
	setupID := out.ProducerIDToNodeID["setup"]

	assert.Equal(t, []string{setupID}, out.Nodes[lintID].Dependencies)
	assert.Equal(t, []string{lintID}, out.Nodes[buildID].Dependencies)
}

func TestReshapeAddAfterRewiresDependents(t *testing.T) {
	p := buildTestPlan(t)
	job := &JobSpec{ProducerID: "smoke", Task: "smoke test", Work: WorkSpec{Kind: WorkString, String: "true"}}

	out, err := Reshape(p, []ReshapeOp{{Kind: OpAddAfter, TargetProducerID: "setup", NewJob: job}})
	require.NoError(t, err)

	smokeID := out.ProducerIDToNodeID["smoke"]
	buildID := out.ProducerIDToNodeID["build"]
	setupID := out.ProducerIDToNodeID["setup"]

	assert.Equal(t, []string{setupID}, out.Nodes[smokeID].Dependencies)
	assert.Equal(t, []string{smokeID}, out.Nodes[buildID].Dependencies)
	assert.Equal(t, []string{smokeID}, out.Nodes[setupID].Dependents)
}

func TestReshapeResyncsSnapshotValidation(t *testing.T) {
	spec := validSpec()
	spec.VerifyRI = &WorkSpec{Kind: WorkString, String: "verify"}
	p, err := Build(spec, "main", "main")
	require.NoError(t, err)

	job := &JobSpec{ProducerID: "docs", Task: "docs", Work: WorkSpec{Kind: WorkString, String: "true"}, Dependencies: []string{"build"}}
	out, err := Reshape(p, []ReshapeOp{{Kind: OpAddNode, NewJob: job}})
	require.NoError(t, err)

	svID := out.ProducerIDToNodeID[SnapshotValidationProducerID]
	docsID := out.ProducerIDToNodeID["docs"]
	assert.Equal(t, []string{svID}, out.Leaves)
	assert.Contains(t, out.Nodes[svID].Dependencies, docsID)
}
