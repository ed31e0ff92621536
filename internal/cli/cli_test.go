package cli

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/plan"
	"github.com/orcworks/orc/internal/planfile"
)

// extractPlanID pulls the plan ID out of "plan <id> enqueued (<name>)\n".
func extractPlanID(out string) string {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "plan" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

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

// writeConfig disables the SQLite ledger, keeping these CLI tests scoped to
// the snapshot store and gitops/workexec plumbing they actually exercise.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "orc.yaml")
	contents := "ledger:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func shellWork(command string) plan.WorkSpec {
	shell := plan.ShellSh
	if runtime.GOOS == "windows" {
		shell = plan.ShellCmd
	}
	return plan.WorkSpec{Kind: plan.WorkShell, Command: command, Shell: shell}
}

func writePlanFile(t *testing.T, dir string, spec plan.PlanSpec) string {
	t.Helper()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, planfile.Save(path, spec))
	return path
}

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCommandRegistersEverySubcommand(t *testing.T) {
	cmd := NewRootCommand("test")
	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"create", "run", "status", "list", "pause", "resume", "cancel", "retry", "logs"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestPlanCreateValidatesWithoutEnqueuing(t *testing.T) {
	dir := initRepo(t)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name: "demo",
		Jobs: []plan.JobSpec{{ProducerID: "build", Task: "build", Work: shellWork("true")}},
	})

	out, err := execRoot(t, "create", planPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"demo"`)
	assert.Contains(t, out, "valid")

	assert.NoDirExists(t, filepath.Join(dir, ".orc", "plans"))
}

func TestPlanCreateRejectsInvalidSpec(t *testing.T) {
	dir := initRepo(t)
	planPath := writePlanFile(t, dir, plan.PlanSpec{Name: "demo"}) // no jobs

	_, err := execRoot(t, "create", planPath)
	assert.Error(t, err)
}

func TestPlanCreateShowInstructionsPreviewsAgentWork(t *testing.T) {
	dir := initRepo(t)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name: "demo",
		Jobs: []plan.JobSpec{{
			ProducerID: "fix-bug",
			Task:       "fix the bug",
			Work: plan.WorkSpec{
				Kind:         plan.WorkAgent,
				Instructions: "# Fix it\n\nThe **login** handler panics on `nil`.",
			},
		}},
	})

	out, err := execRoot(t, "create", planPath, "--show-instructions")
	require.NoError(t, err)
	assert.Contains(t, out, "fix-bug (agent instructions)")
	assert.Contains(t, out, "Fix it")
	assert.NotContains(t, out, "**login**")
}

func TestPlanRunEnqueuesAndWaitsForSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	dir := initRepo(t)
	configPath := writeConfig(t, dir)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name:        "demo",
		MaxParallel: 1,
		Jobs:        []plan.JobSpec{{ProducerID: "build", Task: "build", Work: shellWork("echo built > output.txt")}},
	})

	out, err := execRoot(t, "run", planPath, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued")
	assert.Contains(t, out, string(plan.PlanSucceeded))
}

func TestPlanStatusAndListReflectEnqueuedPlan(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	dir := initRepo(t)
	configPath := writeConfig(t, dir)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name:        "demo",
		StartPaused: true,
		Jobs:        []plan.JobSpec{{ProducerID: "build", Task: "build", Work: shellWork("true")}},
	})

	runOut, err := execRoot(t, "run", planPath, "--repo", dir, "--config", configPath, "--wait=false")
	require.NoError(t, err)

	planID := extractPlanID(runOut)
	require.NotEmpty(t, planID)

	statusOut, err := execRoot(t, "status", planID, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, statusOut, "paused=true")
	assert.Contains(t, statusOut, "build")

	listOut, err := execRoot(t, "list", "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, listOut, planID)
	assert.Contains(t, listOut, "demo")
}

func TestPlanLifecycleCommandsPauseResumeCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	dir := initRepo(t)
	configPath := writeConfig(t, dir)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name:        "demo",
		StartPaused: true,
		Jobs:        []plan.JobSpec{{ProducerID: "build", Task: "build", Work: shellWork("true")}},
	})

	runOut, err := execRoot(t, "run", planPath, "--repo", dir, "--config", configPath, "--wait=false")
	require.NoError(t, err)
	planID := extractPlanID(runOut)
	require.NotEmpty(t, planID)

	resumeOut, err := execRoot(t, "resume", planID, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, resumeOut, "ok")

	cancelOut, err := execRoot(t, "cancel", planID, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, cancelOut, "ok")

	statusOut, err := execRoot(t, "status", planID, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, statusOut, string(plan.PlanCanceled))
}

func TestPlanRetryRequiresFailedNode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell assumed")
	}
	dir := initRepo(t)
	configPath := writeConfig(t, dir)
	planPath := writePlanFile(t, dir, plan.PlanSpec{
		Name: "demo",
		Jobs: []plan.JobSpec{{ProducerID: "build", Task: "build", Work: shellWork("echo built > output.txt")}},
	})

	runOut, err := execRoot(t, "run", planPath, "--repo", dir, "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, runOut, string(plan.PlanSucceeded))
	planID := extractPlanID(runOut)
	require.NotEmpty(t, planID)

	// the node already succeeded, so retrying it must be rejected.
	_, err = execRoot(t, "retry", planID, "--node", "build", "--repo", dir, "--config", configPath)
	assert.Error(t, err)
}

func TestPlanLogsRequiresNodeFlag(t *testing.T) {
	dir := initRepo(t)
	configPath := writeConfig(t, dir)
	_, err := execRoot(t, "logs", "some-plan-id", "--repo", dir, "--config", configPath)
	assert.Error(t, err)
}
