package session

import (
	"testing"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestAllocateSessionIDIsMonotoneAndPositive(t *testing.T) {
	tbl := New()
	a := tbl.AllocateSessionID()
	b := tbl.AllocateSessionID()
	assert.Equal(t, int64(1), a)
	assert.Equal(t, int64(2), b)
}

func TestNextServiceSessionIDIsMonotoneAndNegative(t *testing.T) {
	tbl := New()
	a := tbl.NextServiceSessionID()
	b := tbl.NextServiceSessionID()
	assert.Equal(t, int64(-1), a)
	assert.Equal(t, int64(-2), b)
}

func TestCountOpenAndPending(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionOpen})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 2, State: types.SessionChallenged})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 3, State: types.SessionClosed})

	open, pending := tbl.CountOpenAndPending()
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, pending)
}

func TestMarkOpenTransitionsState(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionAuthenticated})
	tbl.MarkOpen(1, 4096)

	s, ok := tbl.Get(1)
	assert.True(t, ok)
	assert.Equal(t, types.SessionOpen, s.State)
	assert.Equal(t, int64(4096), s.OpenedLogPosition)
}

func TestCloseRoutesRejectedVsClosed(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionConnected})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 2, State: types.SessionOpen})

	tbl.Close(1, types.CloseReasonLimit)
	tbl.Close(2, types.CloseReasonTimeout)

	s1, _ := tbl.Get(1)
	s2, _ := tbl.Get(2)
	assert.Equal(t, types.SessionRejected, s1.State)
	assert.Equal(t, types.SessionClosed, s2.State)
}

func TestExpiredSessionsOnlyOpenPastTimeout(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionOpen, TimeOfLastActivityMS: 0})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 2, State: types.SessionOpen, TimeOfLastActivityMS: 9000})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 3, State: types.SessionConnected, TimeOfLastActivityMS: 0})

	expired := tbl.ExpiredSessions(10000, 5000)
	assert.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].ClusterSessionID)
}

func TestNewLeaderPendingDeliveredOnce(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionOpen})
	tbl.Add(&types.ClusterSession{ClusterSessionID: 2, State: types.SessionConnected})

	tbl.MarkNewLeaderPendingForAll()
	pending := tbl.PendingNewLeaderSessions()
	assert.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].ClusterSessionID)

	tbl.AckNewLeader(1)
	assert.Empty(t, tbl.PendingNewLeaderSessions())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	tbl := New()
	tbl.Add(&types.ClusterSession{ClusterSessionID: 1, State: types.SessionOpen})
	tbl.AllocateSessionID()
	tbl.NextServiceSessionID()

	sessions, nextID, nextServiceID := tbl.Snapshot()

	restored := New()
	restored.Restore(sessions, nextID, nextServiceID)

	s, ok := restored.Get(1)
	assert.True(t, ok)
	assert.Equal(t, types.SessionOpen, s.State)
	assert.Equal(t, int64(2), restored.AllocateSessionID())
}
