package planfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/plan"
)

func TestLoadParsesPlanSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	contents := `
name: demo-plan
targetBranch: main
jobs:
  - producerId: setup
    task: scaffold module
    work:
      kind: string
      string: "true"
  - producerId: build
    task: build the module
    dependencies: [setup]
    work:
      kind: shell
      command: go build ./...
      shell: bash
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	spec, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo-plan", spec.Name)
	assert.Equal(t, "main", spec.TargetBranch)
	require.Len(t, spec.Jobs, 2)
	assert.Equal(t, "setup", spec.Jobs[0].ProducerID)
	assert.Equal(t, plan.WorkShell, spec.Jobs[1].Work.Kind)
	assert.Equal(t, []string{"setup"}, spec.Jobs[1].Dependencies)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	spec := plan.PlanSpec{
		Name:         "roundtrip",
		TargetBranch: "main",
		Jobs: []plan.JobSpec{
			{ProducerID: "only-job", Task: "do the thing", Work: plan.WorkSpec{Kind: plan.WorkString, String: "true"}},
		},
	}

	require.NoError(t, Save(path, spec))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, spec, loaded)
}
