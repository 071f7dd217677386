package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jimmy477/ripd/internal/protocol"
)

func TestUpsertInstallsAndClearsGarbage(t *testing.T) {
	tb := New(1)
	deadline := time.Now().Add(protocol.DefaultTimeout)

	require.NoError(t, tb.Upsert(2, 1, 2, deadline))
	require.NoError(t, tb.MarkUnreachable(2, time.Now().Add(protocol.DefaultGarbage)))
	require.NoError(t, tb.Upsert(2, 1, 2, deadline))

	e, ok := tb.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint8(1), e.Metric)
	assert.Equal(t, uint16(2), e.NextHop)
	assert.True(t, e.Changed)
	assert.False(t, e.HasGarbageDeadline())
}

func TestUpsertRejectsLocalRouterID(t *testing.T) {
	tb := New(1)
	err := tb.Upsert(1, 1, 1, time.Now())
	require.Error(t, err)
}

func TestUpsertRejectsBadMetric(t *testing.T) {
	tb := New(1)
	err := tb.Upsert(2, 0, 2, time.Now())
	require.Error(t, err)

	err = tb.Upsert(2, protocol.MetricInfinity+1, 2, time.Now())
	require.Error(t, err)
}

func TestMarkUnreachableArmsGarbageAndClearsTimeout(t *testing.T) {
	tb := New(1)
	require.NoError(t, tb.Upsert(2, 1, 2, time.Now().Add(time.Minute)))

	gcDeadline := time.Now().Add(protocol.DefaultGarbage)
	require.NoError(t, tb.MarkUnreachable(2, gcDeadline))

	e, ok := tb.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint8(protocol.MetricInfinity), e.Metric)
	assert.True(t, e.HasGarbageDeadline())
	assert.True(t, e.TimeoutDeadline.IsZero())
}

func TestMarkUnreachableOnMissingEntryFails(t *testing.T) {
	tb := New(1)
	err := tb.MarkUnreachable(99, time.Now())
	require.Error(t, err)
}

func TestRemoveDeletesEntry(t *testing.T) {
	tb := New(1)
	require.NoError(t, tb.Upsert(2, 1, 2, time.Now()))
	tb.Remove(2)

	_, ok := tb.Get(2)
	assert.False(t, ok)
}

func TestSnapshotIsOrderedAndIsolated(t *testing.T) {
	tb := New(1)
	require.NoError(t, tb.Upsert(5, 2, 5, time.Now()))
	require.NoError(t, tb.Upsert(2, 1, 2, time.Now()))

	snap := tb.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint16(2), snap[0].Destination)
	assert.Equal(t, uint16(5), snap[1].Destination)

	// Mutating the live table must not affect a snapshot already taken.
	require.NoError(t, tb.MarkUnreachable(2, time.Now()))
	assert.Equal(t, uint8(1), snap[0].Metric)
}

func TestClearChangedResetsFlag(t *testing.T) {
	tb := New(1)
	require.NoError(t, tb.Upsert(2, 1, 2, time.Now()))
	tb.ClearChanged(2)

	e, ok := tb.Get(2)
	require.True(t, ok)
	assert.False(t, e.Changed)
}
