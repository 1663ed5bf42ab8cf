package realtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFiresOnce(t *testing.T) {
	sched := NewScheduler()
	defer sched.Close()

	var fired atomic.Int32
	sched.Schedule("k", 10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, sched.Pending("k"))
}

func TestScheduleReplacesPendingTask(t *testing.T) {
	sched := NewScheduler()
	defer sched.Close()

	var first, second atomic.Int32
	sched.Schedule("k", 20*time.Millisecond, func() { first.Add(1) })
	sched.Schedule("k", 20*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool {
		return second.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestSchedulerCancel(t *testing.T) {
	sched := NewScheduler()
	defer sched.Close()

	var fired atomic.Int32
	sched.Schedule("k", 20*time.Millisecond, func() { fired.Add(1) })
	require.True(t, sched.Pending("k"))
	sched.Cancel("k")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, sched.Pending("k"))
}

func TestSchedulerCancelPrefix(t *testing.T) {
	sched := NewScheduler()
	defer sched.Close()

	var roomFired, otherFired atomic.Int32
	sched.Schedule("typing:r1:stop", 20*time.Millisecond, func() { roomFired.Add(1) })
	sched.Schedule("typing:r1:ttl:bob", 20*time.Millisecond, func() { roomFired.Add(1) })
	sched.Schedule("typing:r2:stop", 20*time.Millisecond, func() { otherFired.Add(1) })

	sched.CancelPrefix("typing:r1:")

	require.Eventually(t, func() bool {
		return otherFired.Load() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), roomFired.Load())
}

func TestSchedulerCloseRejectsNewTasks(t *testing.T) {
	sched := NewScheduler()

	var fired atomic.Int32
	sched.Schedule("k", 10*time.Millisecond, func() { fired.Add(1) })
	sched.Close()
	sched.Schedule("after", time.Millisecond, func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, sched.Pending("after"))
}
