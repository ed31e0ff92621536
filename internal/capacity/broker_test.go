package capacity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireRespectsEffectiveCap(t *testing.T) {
	b, err := Open(t.TempDir(), 4)
	require.NoError(t, err)

	ok, err := b.TryAcquire("node-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire("node-2", 1)
	require.NoError(t, err)
	assert.False(t, ok, "a second slot should be denied once the effective cap of 1 is reached")
}

func TestTryAcquireFallsBackToGlobalCap(t *testing.T) {
	b, err := Open(t.TempDir(), 1)
	require.NoError(t, err)

	ok, err := b.TryAcquire("node-1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire("node-2", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseFreesASlot(t *testing.T) {
	b, err := Open(t.TempDir(), 4)
	require.NoError(t, err)

	ok, err := b.TryAcquire("node-1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Release("node-1"))

	ok, err = b.TryAcquire("node-2", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHeartbeatKeepsRowFresh(t *testing.T) {
	b, err := Open(t.TempDir(), 4)
	require.NoError(t, err)

	ok, err := b.TryAcquire("node-1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Heartbeat())

	doc, err := b.read()
	require.NoError(t, err)
	require.Len(t, doc.Rows, 1)
	assert.False(t, doc.Rows[0].Heartbeat.IsZero())
}

func TestGCDropsStaleRows(t *testing.T) {
	doc := &document{Rows: []row{
		{InstanceID: "stale", NodeIDs: []string{"n1"}, Heartbeat: time.Now().Add(-StaleAfter * 2)},
		{InstanceID: "fresh", NodeIDs: []string{"n2"}, Heartbeat: time.Now()},
	}}

	doc.gc()

	require.Len(t, doc.Rows, 1)
	assert.Equal(t, "fresh", doc.Rows[0].InstanceID)
}
