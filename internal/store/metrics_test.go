package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcworks/orc/internal/plan"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerRecordPlanLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	p := &plan.Plan{
		ID:           "plan-1",
		Spec:         plan.PlanSpec{Name: "demo"},
		BaseBranch:   "main",
		TargetBranch: "main",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, l.RecordPlanCreated(ctx, p))
	// a replay on restart should not fail or duplicate the row.
	require.NoError(t, l.RecordPlanCreated(ctx, p))

	require.NoError(t, l.RecordPlanEnded(ctx, p.ID, plan.PlanSucceeded, time.Now()))
}

func TestLedgerRecordAndQueryAttempts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	exitCode := 0
	rec := plan.AttemptRecord{
		AttemptNumber: 1,
		TriggerType:   plan.TriggerInitial,
		Status:        plan.AttemptSucceeded,
		ExitCode:      &exitCode,
		StartedAt:     time.Now().Add(-time.Minute),
		EndedAt:       time.Now(),
		WorkSummary:   &plan.WorkSummary{Added: 2, Modified: 1},
	}
	require.NoError(t, l.RecordAttempt(ctx, "plan-1", "node-1", "setup", rec))

	byNode, err := l.GetAttemptsForNode(ctx, "plan-1", "node-1")
	require.NoError(t, err)
	require.Len(t, byNode, 1)
	assert.Equal(t, "setup", byNode[0].ProducerID)
	require.NotNil(t, byNode[0].ExitCode)
	assert.Equal(t, 0, *byNode[0].ExitCode)
	require.NotNil(t, byNode[0].WorkSummary)
	assert.Equal(t, 2, byNode[0].WorkSummary.Added)

	byProducer, err := l.GetAttemptsByProducer(ctx, "setup")
	require.NoError(t, err)
	require.Len(t, byProducer, 1)

	count, err := l.GetRunCount(ctx, "setup")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLedgerGetRunCountForUnknownProducer(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	count, err := l.GetRunCount(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
