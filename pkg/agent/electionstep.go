package agent

import (
	"github.com/cuemby/clustercore/pkg/dynamicjoin"
	"github.com/cuemby/clustercore/pkg/election"
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/logpub"
	"github.com/cuemby/clustercore/pkg/metrics"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
	"golang.org/x/sync/errgroup"
)

// joinReplayChannel is the channel a joiner's snapshot recordings are
// replayed onto; distinct stream ids (offset by service id) keep one
// service's replay frames from mixing with another's on the same channel.
const joinReplayChannel = "join-replay"

func (a *Agent) selfPosition() election.Position {
	return election.Position{
		MemberID:         a.members.SelfID(),
		LeadershipTermID: a.leadershipTermID,
		LogPosition:      a.appliedPosition,
	}
}

// electionStep advances the election subprotocol by exactly one action.
func (a *Agent) electionStep(nowMS int64) int {
	if a.elect.CheckTimeout(nowMS, a.selfPosition()) {
		a.broadcastCanvass()
		return 1
	}

	switch a.elect.State() {
	case election.StateCanvass:
		if a.elect.CanvassCount() == 1 {
			a.broadcastCanvass()
		}
		if a.elect.CanvassCount() >= a.members.Quorum() {
			winner := a.elect.Nominate()
			if winner.MemberID != a.members.SelfID() {
				yes := election.ShouldVoteYes(a.selfPosition(), winner)
				a.sendPeer(PeerMessage{Kind: PeerVote, FromID: a.members.SelfID(), ToID: winner.MemberID, Vote: yes})
			}
			return 1
		}
		return 0

	case election.StateCandidateBallot:
		if a.elect.HasWonBallot() {
			a.elect.BecomeLeader(a.leadershipTermID, a.appliedPosition)
			return 1
		}
		return 0

	case election.StateFollowerBallot:
		return 0

	case election.StateLeaderReplay:
		term, _, maxPos, ok := a.elect.Result()
		if !ok {
			return 0
		}
		if a.logPub != nil {
			a.logPub.SetLeadershipTermID(term)
			if _, err := a.logPub.Append(logpub.Record{Kind: logpub.RecordNewLeadershipTerm, MaxLogPosition: maxPos}, nowMS); err != nil {
				return 0
			}
		}
		a.sendPeer(PeerMessage{
			Kind: PeerNewLeadershipTerm, FromID: a.members.SelfID(),
			LeadershipTermID: term, MaxLogPosition: maxPos,
		})
		a.elect.LeaderReplayComplete()
		return 1

	case election.StateLeaderTransition:
		a.finalizeElection(true)
		return 1

	case election.StateFollowerCatchupInit:
		a.elect.BeginCatchup()
		a.elect.AdvanceCatchup(a.appliedPosition)
		return 1

	case election.StateFollowerCatchup:
		if a.elect.AdvanceCatchup(a.appliedPosition) {
			return 1
		}
		return 0

	case election.StateFollowerTransition:
		a.finalizeElection(false)
		return 1
	}

	return 0
}

func (a *Agent) finalizeElection(asLeader bool) {
	term, leaderID, maxLogPosition, ok := a.elect.Result()
	if !ok {
		return
	}
	a.leadershipTermID = term
	a.leaderID = leaderID
	a.members.SetLeader(leaderID)
	a.elect.Close()

	// Every member — not just the one that produced the replicated
	// NewLeadershipTerm record — observes this term finalize, so every
	// member's own Recording Log needs a TERM entry: it is the only input
	// DerivePlan reads for last_leadership_term_id/appended_log_position on
	// the next restart, and nothing else ever calls AppendTerm.
	if _, err := a.recLog.AppendTerm(types.TermEntry{
		LeadershipTermID: term,
		TermBaseLogPos:   maxLogPosition,
		LogPosition:      a.appliedPosition,
		TimestampMS:      a.cachedNowMS,
	}); err != nil {
		a.logger.Error().Err(err).Int64("term", term).Msg("append recording log term entry")
	}

	if asLeader {
		a.role = types.RoleLeader
		metrics.IsLeader.Set(1)
	} else {
		a.role = types.RoleFollower
		metrics.IsLeader.Set(0)
	}
	metrics.LeadershipTermID.Set(float64(term))
	a.events.Publish(&events.Event{Type: events.EventRoleChanged, MemberID: a.members.SelfID(), Term: term})
	a.events.Publish(&events.Event{
		Type: events.EventLeaderElected, MemberID: leaderID, Term: term,
		Message: "leadership term finalized",
	})

	if a.state == types.StateInit {
		a.state = types.StateActive
		a.events.Publish(&events.Event{Type: events.EventStateChanged, MemberID: a.members.SelfID(), Message: "ACTIVE"})
	}
	a.sessions.MarkNewLeaderPendingForAll()

	// Reset so the next CheckTimeout/OnHigherTerm call starts a fresh round
	// rather than reusing a closed election's stale canvass set.
	a.elect = election.New(a.members.SelfID(), a.members.Quorum(), a.cfg.ElectionTimeout.Milliseconds())
}

func (a *Agent) broadcastCanvass() {
	a.sendPeer(PeerMessage{Kind: PeerCanvassPosition, FromID: a.members.SelfID(), Position: a.selfPosition()})
}

func (a *Agent) sendPeer(msg PeerMessage) {
	if a.peerPub == nil {
		return
	}
	data, err := EncodePeerMessage(msg)
	if err != nil {
		return
	}
	_, _ = a.peerPub.Offer(data)
}

// pollPeerControl delivers and dispatches peer-status traffic: canvass,
// ballots, new-leadership-term announcements, dynamic-join handshakes, and
// membership-change requests.
func (a *Agent) pollPeerControl(nowMS int64) int {
	if a.peerSub == nil {
		return 0
	}
	work := 0
	a.peerSub.Poll(func(frag transport.Fragment) {
		msg, err := DecodePeerMessage(frag.Data)
		if err != nil {
			return
		}
		a.onPeerMessage(msg, nowMS)
		work++
	}, a.cfg.MessageLimit)
	return work
}

func (a *Agent) onPeerMessage(msg PeerMessage, nowMS int64) {
	if msg.LeadershipTermID > a.leadershipTermID && msg.Kind != PeerNewLeadershipTerm {
		a.elect.OnHigherTerm(nowMS, a.selfPosition())
	}

	switch msg.Kind {
	case PeerCanvassPosition:
		a.elect.ReceiveCanvass(msg.Position)
	case PeerVote:
		if msg.ToID == a.members.SelfID() {
			a.elect.ReceiveVote(msg.FromID, msg.Vote)
		}
	case PeerNewLeadershipTerm:
		if msg.FromID == a.members.SelfID() {
			break
		}
		appended := a.appliedPosition
		a.elect.BecomeFollower(msg.LeadershipTermID, msg.FromID, msg.MaxLogPosition, appended)
	case PeerAppendedPosition:
		if m, ok := a.members.Get(msg.FromID); ok {
			m.AppendedLogPosition = msg.LogPosition
			m.TimeOfLastAppendMS = nowMS
		}
	case PeerCommitPosition:
		if m, ok := a.members.Get(msg.FromID); ok {
			m.CommitPosition = msg.LogPosition
		}
	case PeerAddPassiveMember:
		a.onPeerAddPassiveMember(msg)
	case PeerJoinCluster:
		a.onPeerJoinCluster(msg, nowMS)
	case PeerSnapshotRecordingQuery:
		a.onPeerSnapshotQuery(msg)
	case PeerSnapshotRecordings:
		a.onPeerSnapshotRecordings(msg)
	case PeerTerminationPosition:
		a.onPeerTerminationPosition(msg)
	case PeerTerminationAck:
		a.onPeerTerminationAck(msg)
	case PeerRemoveMember:
		a.onPeerRemoveMember(msg, nowMS)
	}
}

// onPeerAddPassiveMember is the leader's half of the dynamic join
// handshake: assign a fresh id and report back the current member lists.
// Only the leader answers; a follower neither answers nor relays the
// request to the leader.
func (a *Agent) onPeerAddPassiveMember(msg PeerMessage) {
	if a.role != types.RoleLeader {
		return
	}
	assigned := a.members.NextMemberID()
	a.sendPeer(PeerMessage{
		Kind: PeerAddPassiveMember, FromID: a.members.SelfID(), ToID: msg.FromID,
		AssignedID: assigned, Members: cloneMembers(a.members.All()),
	})
}

func (a *Agent) onPeerJoinCluster(msg PeerMessage, nowMS int64) {
	if a.role != types.RoleLeader || a.logPub == nil {
		return
	}
	a.members.Add(types.ClusterMember{ID: msg.FromID, Endpoints: msg.Endpoints})
	full := cloneMembers(a.members.All())
	_, _ = a.logPub.Append(logpub.Record{
		Kind: logpub.RecordMembershipChange, MembershipKind: types.MembershipJoin,
		MemberID: msg.FromID, Members: full,
	}, nowMS)
}

func (a *Agent) onPeerSnapshotQuery(msg PeerMessage) {
	plan := a.recLog.Plan()
	a.sendPeer(PeerMessage{
		Kind: PeerSnapshotRecordings, FromID: a.members.SelfID(), ToID: msg.FromID,
		Snapshots: plan.Snapshots,
	})
}

func (a *Agent) onPeerSnapshotRecordings(msg PeerMessage) {
	if a.join == nil {
		return
	}
	refs := make([]dynamicjoin.SnapshotRef, 0, len(msg.Snapshots))
	for _, s := range msg.Snapshots {
		refs = append(refs, dynamicjoin.SnapshotRef{ServiceID: s.ServiceID, RecordingID: s.RecordingID, LogPosition: s.LogPosition})
	}
	a.join.ReceiveSnapshotRecordings(refs)
}

func cloneMembers(in []*types.ClusterMember) []types.ClusterMember {
	out := make([]types.ClusterMember, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// replaySnapshots fans out one Archive.StartReplay per pending snapshot
// recording concurrently via errgroup, the bounded long-running wait the
// dynamic-join handshake is allowed to block on (it still isn't steady-state
// work): a joiner with a dozen hosted-service snapshots to pull down
// shouldn't pay for them one at a time.
func (a *Agent) replaySnapshots(refs []dynamicjoin.SnapshotRef) {
	if len(refs) == 0 {
		return
	}
	if a.archive == nil {
		for _, ref := range refs {
			a.join.RecordReplayed(ref.ServiceID, 0)
		}
		return
	}

	var g errgroup.Group
	results := make([]int64, len(refs))
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			streamID := int32(1000) + ref.ServiceID
			sessionID, err := a.archive.StartReplay(ref.RecordingID, 0, -1, joinReplayChannel, streamID)
			if err != nil {
				a.logger.Error().Err(err).Int32("service_id", ref.ServiceID).Msg("snapshot replay failed")
				return err
			}
			results[i] = sessionID
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.joinReplaying = false
		return
	}
	for i, ref := range refs {
		a.join.RecordReplayed(ref.ServiceID, results[i])
	}
}

// joinStep drives this member's dynamic-join Joiner forward, a best-effort
// step per tick rather than a blocking handshake.
func (a *Agent) joinStep(nowMS int64) int {
	switch a.join.State() {
	case dynamicjoin.StateIdle:
		a.join.Begin()
		endpoints := types.MemberEndpoints{}
		a.sendPeer(PeerMessage{Kind: PeerAddPassiveMember, FromID: a.members.SelfID(), Endpoints: endpoints})
		return 1
	case dynamicjoin.StateQueryingSnapshots:
		a.sendPeer(PeerMessage{Kind: PeerSnapshotRecordingQuery, FromID: a.join.AssignedMemberID()})
		return 1
	case dynamicjoin.StateReplayingSnapshots:
		if !a.join.ReadyToJoin() && !a.joinReplaying {
			a.joinReplaying = true
			a.replaySnapshots(a.join.PendingSnapshots())
		}
		if a.join.ReadyToJoin() {
			a.join.BeginJoinCommit(a.leadershipTermID)
			a.sendPeer(PeerMessage{
				Kind: PeerJoinCluster, FromID: a.join.AssignedMemberID(),
				LeadershipTermID: a.leadershipTermID,
			})
			return 1
		}
		return 0
	case dynamicjoin.StateAwaitingJoinCommit:
		return 0
	}
	return 0
}
