package countdown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetAndTickDown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)

	c.Reset(3)
	require.True(t, c.Running())
	assert.Equal(t, 3, c.Remaining())

	clock.Advance(time.Second)
	assert.False(t, c.Tick())
	assert.Equal(t, 2, c.Remaining())

	clock.Advance(time.Second)
	assert.False(t, c.Tick())
	clock.Advance(time.Second)
	assert.True(t, c.Tick(), "expiry edge reported on the tick that reaches zero")
	assert.Equal(t, 0, c.Remaining())

	clock.Advance(time.Second)
	assert.False(t, c.Tick(), "expiry reported only once")
}

func TestTickFollowsDeadlineNotTickCount(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Reset(30)

	// A stalled ticker skips several beats; the next tick still lands on the deadline.
	clock.Advance(7*time.Second + 200*time.Millisecond)
	c.Tick()
	assert.Equal(t, 23, c.Remaining())
}

func TestSyncDeadlineReplacesLocalDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Reset(30)

	c.SyncDeadline(clock.Now().Add(12 * time.Second))
	assert.Equal(t, 12, c.Remaining())

	c.SyncDeadline(clock.Now().Add(-time.Second))
	assert.Equal(t, 0, c.Remaining())
	assert.False(t, c.Running())
}

func TestResetWhileRunningStartsOver(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Reset(5)
	clock.Advance(4 * time.Second)
	c.Tick()

	c.Reset(20)
	assert.Equal(t, 20, c.Remaining())
	assert.True(t, c.Running())
}

func TestStopHaltsTicks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(clock)
	c.Reset(10)
	c.Stop()

	clock.Advance(20 * time.Second)
	assert.False(t, c.Tick())
	assert.Equal(t, 0, c.Remaining())
	assert.False(t, c.Running())
}

func TestZeroLimitNeverRuns(t *testing.T) {
	c := New(clockwork.NewFakeClock())
	c.Reset(0)
	assert.False(t, c.Running())
	assert.False(t, c.Tick())
}
