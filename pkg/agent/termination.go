package agent

import (
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/logpub"
	"github.com/cuemby/clustercore/pkg/serviceproxy"
	"github.com/cuemby/clustercore/pkg/types"
)

// beginTermination enters TERMINATING directly (ABORT, or the tail end of a
// SHUTDOWN snapshot): it fixes termination_position, tells the hosted
// service to halt there, and starts collecting TerminationAck from peers.
func (a *Agent) beginTermination(atPosition int64) {
	a.state = types.StateTerminating
	pos := atPosition
	a.terminationPosition = &pos
	a.terminationStartedMS = a.cachedNowMS
	a.terminationAcks = make(map[types.MemberID]bool)

	_ = a.proxy.Broadcast(serviceproxy.ModuleMessage{Kind: serviceproxy.ModuleTerminationPosition, LogPosition: pos})
	a.sendPeer(PeerMessage{Kind: PeerTerminationPosition, FromID: a.members.SelfID(), LogPosition: pos})
	a.events.Publish(&events.Event{Type: events.EventTerminationSet, MemberID: a.members.SelfID()})
}

// terminationTick advances LEAVING/TERMINATING toward CLOSED: a plain
// leaving member closes as soon as its own removal has committed. Once a
// terminating member's applied position reaches termination_position, a
// follower sends TerminationAck to its peers and closes, and the leader
// closes once every member has acked or termination_timeout elapses.
func (a *Agent) terminationTick(nowMS int64) int {
	switch a.state {
	case types.StateLeaving:
		a.state = types.StateClosed
		return 1

	case types.StateTerminating:
		if a.terminationPosition == nil {
			return 0
		}
		if a.appliedPosition < *a.terminationPosition {
			return 0
		}
		a.terminationAcks[a.members.SelfID()] = true

		if a.role != types.RoleLeader {
			a.sendPeer(PeerMessage{Kind: PeerTerminationAck, FromID: a.members.SelfID(), LogPosition: *a.terminationPosition})
			a.state = types.StateClosed
			return 1
		}

		allAcked := true
		for _, m := range a.members.All() {
			if !a.terminationAcks[m.ID] {
				allAcked = false
				break
			}
		}
		timedOut := nowMS-a.terminationStartedMS > a.cfg.TerminationTimeout.Milliseconds()
		if allAcked || timedOut {
			a.state = types.StateClosed
			return 1
		}
		return 0
	}
	return 0
}

func (a *Agent) onPeerTerminationPosition(msg PeerMessage) {
	if a.state == types.StateActive || a.state == types.StateSuspended || a.state == types.StateSnapshot {
		a.beginTermination(msg.LogPosition)
	}
}

func (a *Agent) onPeerTerminationAck(msg PeerMessage) {
	if a.terminationAcks == nil {
		a.terminationAcks = make(map[types.MemberID]bool)
	}
	a.terminationAcks[msg.FromID] = true
}

// onPeerRemoveMember is the leader-side half of RemoveMember: append a QUIT
// membership change and record the member's removal_position so the
// registry drops it once commit catches up.
func (a *Agent) onPeerRemoveMember(msg PeerMessage, nowMS int64) {
	if a.role != types.RoleLeader || a.logPub == nil {
		return
	}
	m, ok := a.members.Get(msg.FromID)
	if !ok {
		return
	}
	removalPos := a.appliedPosition
	m.RemovalPosition = &removalPos
	m.HasRequestedRemove = true

	full := cloneMembers(a.members.All())
	a.appendMembershipQuit(msg.FromID, full, nowMS)
}

// RemoveMember is the leader-only operation behind RemoveMember(memberId,
// is_passive): it appends a QUIT membership change and records the
// member's removal_position as the current log position. isPassive is the
// caller's belief about whether memberID is a standby; a mismatch against
// the registry's own record is logged but does not block the removal,
// since the registry's record is what actually governs quorum math.
func (a *Agent) RemoveMember(memberID types.MemberID, isPassive bool) {
	if a.role != types.RoleLeader || a.logPub == nil {
		return
	}
	m, ok := a.members.Get(memberID)
	if !ok {
		return
	}
	if isPassive != m.IsPassive {
		a.logger.Warn().
			Int32("member_id", int32(memberID)).
			Bool("requested_is_passive", isPassive).
			Bool("actual_is_passive", m.IsPassive).
			Msg("RemoveMember: is_passive does not match registry record")
	}
	removalPos := a.appliedPosition
	m.RemovalPosition = &removalPos
	m.HasRequestedRemove = true

	full := cloneMembers(a.members.All())
	a.appendMembershipQuit(memberID, full, a.cachedNowMS)
}

func (a *Agent) appendMembershipQuit(memberID types.MemberID, members []types.ClusterMember, nowMS int64) {
	_, _ = a.logPub.Append(logpub.Record{
		Kind: logpub.RecordMembershipChange, MembershipKind: types.MembershipQuit,
		MemberID: memberID, Members: members,
	}, nowMS)
}
