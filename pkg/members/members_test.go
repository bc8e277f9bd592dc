package members

import (
	"testing"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func threeMemberRegistry() *Registry {
	return New(0, []types.ClusterMember{
		{ID: 0}, {ID: 1}, {ID: 2},
	})
}

func TestQuorumOfThree(t *testing.T) {
	r := threeMemberRegistry()
	assert.Equal(t, 2, r.Quorum())
}

func TestNextMemberIDNeverCollides(t *testing.T) {
	r := threeMemberRegistry()
	assert.Equal(t, types.MemberID(2), r.HighMemberID())

	id := r.NextMemberID()
	assert.Equal(t, types.MemberID(3), id)
	assert.Equal(t, types.MemberID(3), r.HighMemberID())
}

func TestSetLeaderIsExclusive(t *testing.T) {
	r := threeMemberRegistry()
	r.SetLeader(1)

	m0, _ := r.Get(0)
	m1, _ := r.Get(1)
	assert.False(t, m0.IsLeader)
	assert.True(t, m1.IsLeader)

	leader, ok := r.Leader()
	assert.True(t, ok)
	assert.Equal(t, types.MemberID(1), leader.ID)
}

func TestQuorumPositionIsQuorumThHighest(t *testing.T) {
	r := threeMemberRegistry()
	m0, _ := r.Get(0)
	m1, _ := r.Get(1)
	m2, _ := r.Get(2)
	m0.AppendedLogPosition = 300
	m1.AppendedLogPosition = 200
	m2.AppendedLogPosition = 100

	// Quorum is 2 of 3; the 2nd highest appended position is 200.
	assert.Equal(t, int64(200), r.QuorumPosition())
}

func TestRemoveDropsMember(t *testing.T) {
	r := threeMemberRegistry()
	r.Remove(2)
	assert.Equal(t, 2, r.Count())
	_, ok := r.Get(2)
	assert.False(t, ok)
}

func TestPassiveMembersExcludedFromQuorum(t *testing.T) {
	r := New(0, []types.ClusterMember{
		{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3, IsPassive: true},
	})

	assert.Equal(t, 4, r.Count())
	assert.Equal(t, 3, r.VotingCount())
	assert.Equal(t, 2, r.Quorum(), "a passive 4th member must not push quorum from 2 to 3")
}

func TestQuorumPositionExcludesPassiveMembers(t *testing.T) {
	r := New(0, []types.ClusterMember{
		{ID: 0}, {ID: 1}, {ID: 2, IsPassive: true},
	})
	m0, _ := r.Get(0)
	m1, _ := r.Get(1)
	m2, _ := r.Get(2)
	m0.AppendedLogPosition = 300
	m1.AppendedLogPosition = 100
	m2.AppendedLogPosition = 1000 // passive, must not count

	// Quorum of the 2 voting members is 2, so both must have appended: the
	// lower of the two voting positions, not the passive member's higher one.
	assert.Equal(t, int64(100), r.QuorumPosition())
}
