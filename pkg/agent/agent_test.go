package agent

import (
	"testing"
	"time"

	"github.com/cuemby/clustercore/pkg/auth"
	"github.com/cuemby/clustercore/pkg/config"
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/ingress"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSingleTestAgent(t *testing.T) *Agent {
	t.Helper()
	cfg := config.Default()
	cfg.ClusterMemberID = 0
	cfg.ClusterMembers = "0,c0,m0,l0,t0,a0"

	a, err := New(Deps{
		Config: cfg,
		Store:  newMemStore(),
		Auth:   auth.NewSharedSecretAuthenticator(nil),
	})
	require.NoError(t, err)
	_, err = a.Recover()
	require.NoError(t, err)
	return a
}

func TestApplyControlActionSuspendResume(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive

	a.applyControlAction(types.ActionSuspend, 0)
	assert.Equal(t, types.StateSuspended, a.state)

	a.applyControlAction(types.ActionResume, 0)
	assert.Equal(t, types.StateActive, a.state)

	// RESUME only applies from SUSPENDED.
	a.applyControlAction(types.ActionResume, 0)
	assert.Equal(t, types.StateActive, a.state)
}

func TestApplyControlActionSnapshot(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive

	a.applyControlAction(types.ActionSnapshot, 0)
	assert.Equal(t, types.StateSnapshot, a.state)
	require.NotNil(t, a.snapCoord)
	assert.False(t, a.snapCoord.ForShutdown())
}

func TestApplyControlActionShutdownEntersSnapshotForTermination(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive

	a.applyControlAction(types.ActionShutdown, 0)
	assert.Equal(t, types.StateSnapshot, a.state)
	require.NotNil(t, a.snapCoord)
	assert.True(t, a.snapCoord.ForShutdown())
}

func TestApplyControlActionAbortEntersTerminating(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive

	a.applyControlAction(types.ActionAbort, 42)
	assert.Equal(t, types.StateTerminating, a.state)
	require.NotNil(t, a.terminationPosition)
	assert.Equal(t, int64(42), *a.terminationPosition)
}

func TestApplyControlActionAbortIsIdempotentOnceClosed(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateClosed

	a.applyControlAction(types.ActionAbort, 0)
	assert.Equal(t, types.StateClosed, a.state)
	assert.Nil(t, a.terminationPosition)
}

func TestRequestActionAbortAppliesImmediatelyWithoutLeadership(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive

	err := a.RequestAction(types.ActionAbort)
	assert.NoError(t, err)
	assert.Equal(t, types.StateTerminating, a.state)
}

func TestRequestActionRejectedWhenNotLeader(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateActive
	a.role = types.RoleFollower

	err := a.RequestAction(types.ActionSuspend)
	assert.Error(t, err)
}

func TestFinalizeElectionAsLeader(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateInit

	pos := a.selfPosition()
	a.elect.Begin(10, pos)
	a.elect.ReceiveCanvass(pos)
	winner := a.elect.Nominate()
	require.Equal(t, a.members.SelfID(), winner.MemberID)
	require.True(t, a.elect.HasWonBallot())
	a.elect.BecomeLeader(0, 0)
	a.elect.LeaderReplayComplete()

	a.finalizeElection(true)

	assert.Equal(t, types.RoleLeader, a.role)
	assert.Equal(t, types.StateActive, a.state)
	assert.Equal(t, int64(1), a.leadershipTermID)
	assert.Equal(t, a.members.SelfID(), a.leaderID)
}

func TestFinalizeElectionAsFollower(t *testing.T) {
	a := newSingleTestAgent(t)
	a.state = types.StateInit
	a.members.Add(types.ClusterMember{ID: 1})

	a.elect.BecomeFollower(5, types.MemberID(1), 0, 0)
	require.Equal(t, int64(0), a.elect.CatchupTarget())

	a.finalizeElection(false)

	assert.Equal(t, types.RoleFollower, a.role)
	assert.Equal(t, types.StateActive, a.state)
	assert.Equal(t, int64(5), a.leadershipTermID)
	assert.Equal(t, types.MemberID(1), a.leaderID)
}

// testMember bundles one cluster member's agent with the transport handles
// a test drives directly (an independent ingress publication, standing in
// for a client).
type testMember struct {
	id    types.MemberID
	agent *Agent
}

const (
	peersChannel   = "peers"
	logChannel     = "log"
	ingressChannel = "ingress"
)

func newClusterMember(t *testing.T, bus *transport.Bus, id types.MemberID, clusterMembers string) testMember {
	t.Helper()
	tp := transport.NewInProcessTransport(bus)

	peerPub, err := tp.AddPublication(peersChannel, 1)
	require.NoError(t, err)
	peerSub, err := tp.AddSubscription(peersChannel, 1, nil)
	require.NoError(t, err)

	logPub, err := tp.AddPublication(logChannel, 1)
	require.NoError(t, err)
	logSub, err := tp.AddSubscription(logChannel, 1, nil)
	require.NoError(t, err)

	ingressSub, err := tp.AddSubscription(ingressChannel, 1, nil)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.ClusterMemberID = id
	cfg.ClusterMembers = clusterMembers
	cfg.ElectionTimeout = 60 * time.Second
	cfg.MaxConcurrentSessions = 10
	cfg.MessageLimit = 50

	a, err := New(Deps{
		Config:           cfg,
		Store:            newMemStore(),
		Transport:        tp,
		IngressTransport: tp,
		Auth:             auth.NewSharedSecretAuthenticator(nil),
		PeerPub:          peerPub,
		PeerSub:          peerSub,
		LogPub:           logPub,
		LogSub:           logSub,
		IngressSub:       ingressSub,
	})
	require.NoError(t, err)
	_, err = a.Recover()
	require.NoError(t, err)

	return testMember{id: id, agent: a}
}

// TestClusterElectsLeaderAndAdmitsSession drives three members over a
// shared in-process bus through bootstrap election and into steady-state
// client admission, the module's happy path end to end.
func TestClusterElectsLeaderAndAdmitsSession(t *testing.T) {
	bus := transport.NewBus()
	clusterMembers := "0,c0,m0,l0,t0,a0|1,c1,m1,l1,t1,a1|2,c2,m2,l2,t2,a2"

	members := []testMember{
		newClusterMember(t, bus, 0, clusterMembers),
		newClusterMember(t, bus, 1, clusterMembers),
		newClusterMember(t, bus, 2, clusterMembers),
	}

	var nowMS int64
	for i := 0; i < 300; i++ {
		nowMS++
		for _, m := range members {
			m.agent.DoWork(nowMS)
		}
	}

	var leaders []types.MemberID
	var term int64
	for _, m := range members {
		assert.Equal(t, types.StateActive, m.agent.State(), "member %d", m.id)
		if m.agent.Role() == types.RoleLeader {
			leaders = append(leaders, m.id)
		}
		term = m.agent.LeadershipTermID()
	}
	require.Len(t, leaders, 1, "exactly one member must become leader")
	assert.Equal(t, int64(1), term)
	for _, m := range members {
		assert.Equal(t, term, m.agent.LeadershipTermID(), "member %d term mismatch", m.id)
		assert.Equal(t, leaders[0], m.agent.leaderID, "member %d leader mismatch", m.id)
	}

	// Drive a client connect into the elected leader's ingress channel.
	clientTP := transport.NewInProcessTransport(bus)
	clientPub, err := clientTP.AddPublication(ingressChannel, 1)
	require.NoError(t, err)
	responseSub, err := clientTP.AddSubscription("client-response", 1, nil)
	require.NoError(t, err)

	frame := ingress.Frame{
		Kind:             ingress.FrameSessionConnect,
		CorrelationID:    1,
		ResponseChannel:  "client-response",
		ResponseStreamID: 1,
		VersionMajor:     protocolVersionMajor,
	}
	data, err := ingress.Encode(frame)
	require.NoError(t, err)
	_, err = clientPub.Offer(data)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		nowMS++
		for _, m := range members {
			m.agent.DoWork(nowMS)
		}
	}

	var responses []ingress.Event
	responseSub.Poll(func(f transport.Fragment) {
		ev, decodeErr := ingress.DecodeEvent(f.Data)
		require.NoError(t, decodeErr)
		responses = append(responses, ev)
	}, 10)
	require.NotEmpty(t, responses, "leader must send a session-accepted event back to the client")
	assert.True(t, responses[0].Accepted)

	var leaderAgent *Agent
	for _, m := range members {
		if m.id == leaders[0] {
			leaderAgent = m.agent
		}
	}
	require.NotNil(t, leaderAgent)

	sessions := leaderAgent.sessions.All()
	require.Len(t, sessions, 1)
	assert.Equal(t, types.SessionOpen, sessions[0].State)
}

func TestSendEventWithoutIngressTransportIsANoOp(t *testing.T) {
	a := newSingleTestAgent(t)
	assert.NotPanics(t, func() {
		a.sendEvent("unused-channel", 1, ingress.Event{Kind: ingress.EventSessionEvent})
	})
}

func TestCloseStopsEventBrokerWithoutPanicking(t *testing.T) {
	a := newSingleTestAgent(t)
	sub := a.Events().Subscribe()
	defer a.Events().Unsubscribe(sub)

	require.NoError(t, a.Close())
	assert.NotPanics(t, func() { a.events.Publish(&events.Event{Type: events.EventStateChanged}) })
}
