package logstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAttemptWritesAndReadsBack(t *testing.T) {
	s := New(t.TempDir())

	w, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)

	w.MarkPhase("prechecks")
	w.WriteLine("running checks")
	w.MarkPhase("work")
	w.WriteLine("doing work")
	require.NoError(t, w.Close())

	full, err := s.ReadFull("plan-1", "node-1", 1)
	require.NoError(t, err)
	assert.Contains(t, full, "running checks")
	assert.Contains(t, full, "doing work")
}

func TestOpenAttemptTruncatesPriorCrashedRun(t *testing.T) {
	s := New(t.TempDir())

	w1, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)
	w1.WriteLine("stale output from a crashed run")
	require.NoError(t, w1.Close())

	w2, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)
	w2.WriteLine("fresh output")
	require.NoError(t, w2.Close())

	full, err := s.ReadFull("plan-1", "node-1", 1)
	require.NoError(t, err)
	assert.NotContains(t, full, "stale output")
	assert.Contains(t, full, "fresh output")
}

func TestAttemptWriterTail(t *testing.T) {
	s := New(t.TempDir())
	w, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 5; i++ {
		w.WriteLine("line")
	}

	assert.Len(t, w.Tail(3), 3)
	assert.Len(t, w.Tail(100), 5)
}

func TestPhaseSectionExtractsJustOnePhase(t *testing.T) {
	s := New(t.TempDir())
	w, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)

	w.MarkPhase("prechecks")
	w.WriteLine("checks passed")
	w.MarkPhase("work")
	w.WriteLine("did the work")
	w.MarkPhase("postchecks")
	w.WriteLine("postchecks passed")
	require.NoError(t, w.Close())

	full, err := s.ReadFull("plan-1", "node-1", 1)
	require.NoError(t, err)

	section := PhaseSection(full, "work")
	assert.Contains(t, section, "did the work")
	assert.NotContains(t, section, "checks passed")
	assert.NotContains(t, section, "postchecks passed")
}

func TestScanPhasesListsMarkersInOrder(t *testing.T) {
	s := New(t.TempDir())
	w, err := s.OpenAttempt("plan-1", "node-1", 1)
	require.NoError(t, err)

	w.MarkPhase("prechecks")
	w.WriteLine("a")
	w.MarkPhase("work")
	w.WriteLine("b")
	require.NoError(t, w.Close())

	full, err := s.ReadFull("plan-1", "node-1", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"prechecks", "work"}, ScanPhases(full))
}
