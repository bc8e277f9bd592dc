package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPollFiresDueTimersInDeadlineOrder(t *testing.T) {
	s := New()
	s.Schedule(1, 100)
	s.Schedule(2, 50)
	s.Schedule(3, 50) // ties with 2, should fire after it (insertion order)

	var fired []int64
	n := s.Poll(100, func(cid int64) { fired = append(fired, cid) })

	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{2, 3, 1}, fired)
	assert.Equal(t, 0, s.Len())
}

func TestPollDoesNotFireFutureTimers(t *testing.T) {
	s := New()
	s.Schedule(1, 1000)

	n := s.Poll(500, func(int64) {})
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, s.Len())
}

func TestCancelRemovesTimer(t *testing.T) {
	s := New()
	s.Schedule(1, 1000)

	assert.True(t, s.Cancel(1))
	assert.False(t, s.Cancel(1))

	n := s.Poll(5000, func(int64) {})
	assert.Equal(t, 0, n)
}

func TestScheduleAfterFireIsIdempotent(t *testing.T) {
	s := New()
	s.Schedule(1, 100)

	var fireCount int
	s.Poll(100, func(int64) { fireCount++ })
	assert.Equal(t, 1, fireCount)

	// A re-schedule for a correlation id that already fired should be
	// absorbed rather than install a second live timer.
	s.Schedule(1, 200)
	assert.Equal(t, 0, s.Len())

	n := s.Poll(1000, func(int64) { fireCount++ })
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, fireCount)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	s.Schedule(1, 100)
	s.Schedule(2, 200)

	snap := s.Snapshot()
	assert.Len(t, snap, 2)

	restored := New()
	restored.Restore(snap)
	assert.Equal(t, 2, restored.Len())

	var fired []int64
	restored.Poll(200, func(cid int64) { fired = append(fired, cid) })
	assert.ElementsMatch(t, []int64{1, 2}, fired)
}
