package workexec

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/plan"
)

type recordingWriter struct {
	lines []string
}

func (w *recordingWriter) WriteLine(line string) { w.lines = append(w.lines, line) }

func TestExecutorRunShellSucceeds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell variant assumes a posix shell")
	}
	e := NewExecutor()
	out := &recordingWriter{}

	result, err := e.Run(context.Background(), plan.WorkSpec{
		Kind:    plan.WorkShell,
		Command: "echo hello",
		Shell:   plan.ShellSh,
	}, Options{Dir: t.TempDir(), Stdout: out})

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, out.lines, "hello")
}

func TestExecutorRunShellNonZeroExitIsNotAnError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell variant assumes a posix shell")
	}
	e := NewExecutor()

	result, err := e.Run(context.Background(), plan.WorkSpec{
		Kind:    plan.WorkShell,
		Command: "exit 3",
		Shell:   plan.ShellSh,
	}, Options{Dir: t.TempDir()})

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Succeeded())
}

func TestExecutorRunProcessDirect(t *testing.T) {
	e := NewExecutor()

	result, err := e.Run(context.Background(), plan.WorkSpec{
		Kind:       plan.WorkProcess,
		Executable: "go",
		Args:       []string{"version"},
	}, Options{Dir: t.TempDir()})

	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Contains(t, result.Stdout, "go version")
}

func TestExecutorRunStringResolvesToDefaultShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("default shell resolution assumes a posix shell")
	}
	e := NewExecutor()

	result, err := e.Run(context.Background(), plan.WorkSpec{
		Kind:   plan.WorkString,
		String: "printf done",
	}, Options{Dir: t.TempDir()})

	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "done")
}

func TestExecutorRunRejectsUnsupportedKind(t *testing.T) {
	e := NewExecutor()
	_, err := e.Run(context.Background(), plan.WorkSpec{Kind: "bogus"}, Options{Dir: t.TempDir()})
	require.Error(t, err)
}

func TestExecutorRunPropagatesCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell variant assumes a posix shell")
	}
	e := NewExecutor()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Run(ctx, plan.WorkSpec{
		Kind:    plan.WorkShell,
		Command: "sleep 5",
		Shell:   plan.ShellSh,
	}, Options{Dir: t.TempDir()})

	require.Error(t, err)
}
