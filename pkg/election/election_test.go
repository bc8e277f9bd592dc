package election

import (
	"testing"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominatePrefersHighestLogPosition(t *testing.T) {
	winner := Nominate([]Position{
		{MemberID: 0, LogPosition: 100},
		{MemberID: 1, LogPosition: 300},
		{MemberID: 2, LogPosition: 200},
	})
	assert.Equal(t, types.MemberID(1), winner.MemberID)
}

func TestNominateTieBreaksOnLowerMemberID(t *testing.T) {
	winner := Nominate([]Position{
		{MemberID: 2, LogPosition: 100, LeadershipTermID: 5},
		{MemberID: 0, LogPosition: 100, LeadershipTermID: 5},
		{MemberID: 1, LogPosition: 100, LeadershipTermID: 5},
	})
	assert.Equal(t, types.MemberID(0), winner.MemberID)
}

func TestShouldVoteYesRequiresAtLeastAsFarAdvanced(t *testing.T) {
	assert.True(t, ShouldVoteYes(Position{LogPosition: 100}, Position{LogPosition: 100}))
	assert.True(t, ShouldVoteYes(Position{LogPosition: 100}, Position{LogPosition: 200}))
	assert.False(t, ShouldVoteYes(Position{LogPosition: 200}, Position{LogPosition: 100}))
}

func TestBallotRequiresStrictQuorum(t *testing.T) {
	b := NewBallot(2)
	b.RecordVote(0, true)
	assert.False(t, b.HasQuorum())
	b.RecordVote(1, false)
	assert.False(t, b.HasQuorum())
	b.RecordVote(2, true)
	assert.True(t, b.HasQuorum())
}

func TestElectionCandidateWinsAndBecomesLeader(t *testing.T) {
	e := New(0, 2, 5000)
	e.Begin(0, Position{MemberID: 0, LeadershipTermID: 3, LogPosition: 500})
	e.ReceiveCanvass(Position{MemberID: 1, LeadershipTermID: 3, LogPosition: 300})
	e.ReceiveCanvass(Position{MemberID: 2, LeadershipTermID: 3, LogPosition: 100})

	winner := e.Nominate()
	require.Equal(t, types.MemberID(0), winner.MemberID)
	assert.Equal(t, StateCandidateBallot, e.State())

	e.ReceiveVote(1, true)
	assert.True(t, e.HasWonBallot())

	e.BecomeLeader(3, 500)
	assert.Equal(t, StateLeaderReplay, e.State())

	e.LeaderReplayComplete()
	termID, leaderID, maxPos, ok := e.Result()
	assert.True(t, ok)
	assert.Equal(t, int64(4), termID)
	assert.Equal(t, types.MemberID(0), leaderID)
	assert.Equal(t, int64(500), maxPos)
}

func TestElectionFollowerNeedsCatchupBeforeTransition(t *testing.T) {
	e := New(1, 2, 5000)
	e.Begin(0, Position{MemberID: 1, LeadershipTermID: 3, LogPosition: 100})

	e.BecomeFollower(4, 0, 500, 100)
	assert.Equal(t, StateFollowerCatchupInit, e.State())

	e.BeginCatchup()
	assert.Equal(t, StateFollowerCatchup, e.State())
	assert.Equal(t, int64(500), e.CatchupTarget())

	assert.False(t, e.AdvanceCatchup(300))
	assert.True(t, e.AdvanceCatchup(500))
	assert.Equal(t, StateFollowerTransition, e.State())
}

func TestElectionFollowerAlreadyCaughtUpSkipsCatchup(t *testing.T) {
	e := New(1, 2, 5000)
	e.Begin(0, Position{MemberID: 1, LeadershipTermID: 3, LogPosition: 500})
	e.BecomeFollower(4, 0, 500, 500)
	assert.Equal(t, StateFollowerTransition, e.State())
}

func TestCheckTimeoutRestartsFromCanvass(t *testing.T) {
	e := New(0, 2, 1000)
	e.Begin(0, Position{MemberID: 0, LogPosition: 10})
	e.ReceiveCanvass(Position{MemberID: 1, LogPosition: 10})

	assert.False(t, e.CheckTimeout(500, Position{MemberID: 0, LogPosition: 10}))
	assert.True(t, e.CheckTimeout(2000, Position{MemberID: 0, LogPosition: 10}))
	assert.Equal(t, StateCanvass, e.State())
	assert.Equal(t, 1, e.CanvassCount())
}
