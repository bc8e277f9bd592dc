package dynamicjoin

import (
	"testing"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestJoinHappyPath(t *testing.T) {
	j := New([]string{"host0:9001", "host1:9001"})
	j.Begin()
	assert.Equal(t, StateAwaitingPassiveAck, j.State())

	active := []types.ClusterMember{{ID: 0}, {ID: 1}, {ID: 2}}
	j.ReceiveAddPassiveMemberAck(3, active, nil)
	assert.Equal(t, StateQueryingSnapshots, j.State())
	assert.Equal(t, types.MemberID(3), j.AssignedMemberID())
	assert.Len(t, j.ActiveMembers(), 3)

	j.ReceiveSnapshotRecordings([]SnapshotRef{
		{ServiceID: -1, RecordingID: 10, LogPosition: 500},
		{ServiceID: 0, RecordingID: 11, LogPosition: 500},
	})
	assert.Equal(t, StateReplayingSnapshots, j.State())
	assert.False(t, j.ReadyToJoin())

	assert.False(t, j.RecordReplayed(-1, 20))
	assert.True(t, j.RecordReplayed(0, 21))
	assert.True(t, j.ReadyToJoin())

	j.BeginJoinCommit(7)
	assert.Equal(t, StateAwaitingJoinCommit, j.State())

	assert.False(t, j.ObserveMembershipJoin(1))
	assert.False(t, j.Admitted())

	assert.True(t, j.ObserveMembershipJoin(3))
	assert.True(t, j.Admitted())
}

func TestBeginJoinCommitRefusedBeforeReady(t *testing.T) {
	j := New(nil)
	j.Begin()
	j.ReceiveAddPassiveMemberAck(1, nil, nil)
	j.ReceiveSnapshotRecordings([]SnapshotRef{{ServiceID: -1, RecordingID: 1}})

	j.BeginJoinCommit(7)
	assert.Equal(t, StateReplayingSnapshots, j.State())
}

func TestReplayedRecordingIDLookup(t *testing.T) {
	j := New(nil)
	j.Begin()
	j.ReceiveAddPassiveMemberAck(1, nil, nil)
	j.ReceiveSnapshotRecordings([]SnapshotRef{{ServiceID: -1, RecordingID: 1}})
	j.RecordReplayed(-1, 99)

	id, ok := j.ReplayedRecordingID(-1)
	assert.True(t, ok)
	assert.Equal(t, int64(99), id)

	_, ok = j.ReplayedRecordingID(5)
	assert.False(t, ok)
}
