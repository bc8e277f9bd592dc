package agent

import (
	"fmt"

	"github.com/cuemby/clustercore/pkg/auth"
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/ingress"
	"github.com/cuemby/clustercore/pkg/logpub"
	"github.com/cuemby/clustercore/pkg/metrics"
	"github.com/cuemby/clustercore/pkg/serviceproxy"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
)

// protocolVersionMajor is the only client wire version this member accepts.
const protocolVersionMajor = int32(1)

// consensusStep runs steady-state work: leader-only ingress admission and
// message append, the pending service-message ring drain, local timer
// expiry, and replaying whatever the log adapter has delivered. It never
// blocks.
func (a *Agent) consensusStep(nowMS int64) int {
	work := 0

	if a.adapter != nil {
		work += a.adapter.Poll(a.cfg.MessageLimit)
		if err := a.adapter.Err(); err != nil {
			a.logger.Error().Err(err).Msg("log adapter decode error")
			a.noteError(true)
		}
	}

	if a.state == types.StateSnapshot {
		work += a.snapshotTick(nowMS)
		return work
	}

	if a.role != types.RoleLeader || a.state != types.StateActive {
		return work
	}

	if a.decoder != nil {
		work += a.decoder.Poll(a.cfg.MessageLimit)
	}

	work += a.retryAuthenticatedSessions(nowMS)

	drained, err := a.ring.Drain(a.cfg.MessageLimit, a.sessions.NextServiceSessionID, func(id int64, payload []byte) error {
		_, err := a.logPub.Append(logpub.Record{Kind: logpub.RecordIngressMessage, ClusterSessionID: id, Payload: payload}, nowMS)
		return err
	})
	work += drained
	if err != nil && err != transport.ErrBackPressured {
		a.noteError(false)
	}

	fired := a.timers.Poll(nowMS, func(correlationID int64) {
		if _, err := a.logPub.Append(logpub.Record{Kind: logpub.RecordTimerEvent, CorrelationID: correlationID}, nowMS); err != nil && err != transport.ErrBackPressured {
			a.noteError(false)
		}
	})
	work += fired

	work += a.broadcastPositions()

	return work
}

// onClientFrame handles one decoded ingress frame. Only the leader admits
// or accepts client traffic; a non-leader redirects SessionConnect and
// silently drops everything else, matching an agent whose role just
// changed underneath an in-flight client.
func (a *Agent) onClientFrame(f ingress.Frame) {
	if a.role != types.RoleLeader || a.state != types.StateActive {
		if f.Kind == ingress.FrameSessionConnect {
			a.sendRedirect(f)
		}
		return
	}

	switch f.Kind {
	case ingress.FrameSessionConnect:
		a.handleConnect(f)
	case ingress.FrameSessionClose:
		a.handleSessionClose(f)
	case ingress.FrameIngressMessage:
		a.handleIngressMessage(f)
	case ingress.FrameSessionKeepAlive:
		if s, ok := a.sessions.Get(f.ClusterSessionID); ok {
			s.TimeOfLastActivityMS = a.cachedNowMS
		}
	case ingress.FrameChallengeResponse:
		a.handleChallengeResponse(f)
	}
}

func (a *Agent) sendRedirect(f ingress.Frame) {
	a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
		Kind:          ingress.EventSessionEvent,
		CorrelationID: f.CorrelationID,
		Accepted:      false,
		CloseReason:   types.CloseReasonRedirect,
		LeaderID:      a.leaderID,
	})
}

func (a *Agent) sendEvent(channel string, streamID int32, ev ingress.Event) {
	data, err := ingress.EncodeEvent(ev)
	if err != nil {
		a.logger.Error().Err(err).Msg("encode client event")
		return
	}

	pub, err := a.responsePublication(channel, streamID)
	if err != nil {
		a.logger.Warn().Err(err).Str("channel", channel).Msg("open response publication")
		return
	}
	if _, err := pub.Offer(data); err != nil && err != transport.ErrBackPressured {
		a.logger.Warn().Err(err).Str("channel", channel).Msg("send client event")
	}
}

// responsePublication returns the cached outbound Publication for
// (channel, streamID), opening one lazily on first use. Callers never see
// a session's response channel until that session connects, so these
// cannot be pre-wired the way PeerPub/LogPub are at startup.
func (a *Agent) responsePublication(channel string, streamID int32) (transport.Publication, error) {
	if a.ingressTport == nil {
		return nil, fmt.Errorf("agent: no ingress transport configured")
	}
	key := fmt.Sprintf("%s#%d", channel, streamID)
	if pub, ok := a.responsePubs[key]; ok {
		return pub, nil
	}
	pub, err := a.ingressTport.AddPublication(channel, streamID)
	if err != nil {
		return nil, err
	}
	a.responsePubs[key] = pub
	return pub, nil
}

func (a *Agent) handleConnect(f ingress.Frame) {
	if f.VersionMajor != protocolVersionMajor {
		a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
			Kind: ingress.EventSessionEvent, CorrelationID: f.CorrelationID,
			CloseReason: types.CloseReasonInvalidVersion,
		})
		return
	}

	open, pending := a.sessions.CountOpenAndPending()
	if open+pending >= a.cfg.MaxConcurrentSessions {
		a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
			Kind: ingress.EventSessionEvent, CorrelationID: f.CorrelationID,
			CloseReason: types.CloseReasonLimit,
		})
		return
	}

	id := a.sessions.AllocateSessionID()
	s := &types.ClusterSession{
		ClusterSessionID:     id,
		ResponseChannel:      f.ResponseChannel,
		ResponseStreamID:     f.ResponseStreamID,
		State:                types.SessionConnected,
		LastCorrelationID:    f.CorrelationID,
		TimeOfLastActivityMS: a.cachedNowMS,
		Credentials:          f.Credentials,
	}
	a.sessions.Add(s)

	decision, challenge := a.authn.OnConnectRequest(f.Credentials)
	switch decision {
	case auth.DecisionAuthenticate:
		s.State = types.SessionAuthenticated
		a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
			Kind: ingress.EventSessionEvent, ClusterSessionID: id,
			CorrelationID: f.CorrelationID, Accepted: true,
			LeadershipTermID: a.leadershipTermID, LeaderID: a.leaderID,
		})
	case auth.DecisionChallenge:
		s.State = types.SessionChallenged
		s.Credentials = challenge
		a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
			Kind: ingress.EventChallenge, ClusterSessionID: id,
			CorrelationID: f.CorrelationID, Challenge: challenge,
		})
	default:
		a.sessions.Close(id, types.CloseReasonAuthFailed)
		a.sendEvent(f.ResponseChannel, f.ResponseStreamID, ingress.Event{
			Kind: ingress.EventSessionEvent, ClusterSessionID: id,
			CorrelationID: f.CorrelationID, CloseReason: types.CloseReasonAuthFailed,
		})
	}
}

func (a *Agent) handleChallengeResponse(f ingress.Frame) {
	s, ok := a.sessions.Get(f.ClusterSessionID)
	if !ok || s.State != types.SessionChallenged {
		return
	}
	decision := a.authn.OnChallengeResponse(s.Credentials, f.ChallengeResponse)
	if decision == auth.DecisionAuthenticate {
		s.State = types.SessionAuthenticated
		return
	}
	a.sessions.Close(f.ClusterSessionID, types.CloseReasonAuthFailed)
	a.sendEvent(s.ResponseChannel, s.ResponseStreamID, ingress.Event{
		Kind: ingress.EventSessionEvent, ClusterSessionID: f.ClusterSessionID,
		CloseReason: types.CloseReasonAuthFailed,
	})
}

func (a *Agent) handleSessionClose(f ingress.Frame) {
	s, ok := a.sessions.Get(f.ClusterSessionID)
	if !ok || s.State != types.SessionOpen || f.LeadershipTermID != a.leadershipTermID {
		return
	}
	if _, err := a.logPub.Append(logpub.Record{
		Kind: logpub.RecordSessionClose, ClusterSessionID: f.ClusterSessionID,
		CloseReason: types.CloseReasonClientAction,
	}, a.cachedNowMS); err != nil && err != transport.ErrBackPressured {
		a.noteError(false)
	}
}

func (a *Agent) handleIngressMessage(f ingress.Frame) {
	s, ok := a.sessions.Get(f.ClusterSessionID)
	if !ok || s.State != types.SessionOpen || f.LeadershipTermID != a.leadershipTermID {
		return
	}
	if _, err := a.logPub.Append(logpub.Record{
		Kind: logpub.RecordIngressMessage, ClusterSessionID: f.ClusterSessionID, Payload: f.Payload,
	}, a.cachedNowMS); err != nil && err != transport.ErrBackPressured {
		a.noteError(false)
	}
}

// retryAuthenticatedSessions appends SessionOpen for every session whose
// authenticator decision is in, retrying on a later tick if back-pressured
// rather than reordering.
func (a *Agent) retryAuthenticatedSessions(nowMS int64) int {
	work := 0
	for _, s := range a.sessions.All() {
		if s.State != types.SessionAuthenticated {
			continue
		}
		if _, err := a.logPub.Append(logpub.Record{Kind: logpub.RecordSessionOpen, ClusterSessionID: s.ClusterSessionID}, nowMS); err != nil {
			if err != transport.ErrBackPressured {
				a.noteError(false)
			}
			continue
		}
		work++
	}
	return work
}

// expireSessions closes every OPEN session past its liveness deadline.
func (a *Agent) expireSessions(nowMS int64) int {
	work := 0
	for _, s := range a.sessions.ExpiredSessions(nowMS, a.cfg.SessionTimeout.Milliseconds()) {
		if _, err := a.logPub.Append(logpub.Record{
			Kind: logpub.RecordSessionClose, ClusterSessionID: s.ClusterSessionID,
			CloseReason: types.CloseReasonTimeout,
		}, nowMS); err == nil {
			metrics.SessionTimeoutsTotal.Inc()
			work++
		}
	}
	return work
}

// deliverPendingNewLeader sends a NewLeader event to every session still
// owed one after a leadership change, acking delivery locally (a real
// ingress transport would ack only once the client's response channel
// confirms receipt; this in-process slice treats Offer success as enough).
func (a *Agent) deliverPendingNewLeader() int {
	work := 0
	for _, s := range a.sessions.PendingNewLeaderSessions() {
		a.sendEvent(s.ResponseChannel, s.ResponseStreamID, ingress.Event{
			Kind: ingress.EventNewLeader, ClusterSessionID: s.ClusterSessionID,
			LeadershipTermID: a.leadershipTermID, LeaderID: a.leaderID,
		})
		a.sessions.AckNewLeader(s.ClusterSessionID)
		work++
	}
	return work
}

// broadcastPositions sends this member's applied position to its peers as a
// PeerAppendedPosition message. Only the leader calls it, from
// consensusStep; receivers record it in their member registry, and no
// liveness check reads it.
func (a *Agent) broadcastPositions() int {
	if a.peerPub == nil {
		return 0
	}
	msg := PeerMessage{
		Kind: PeerAppendedPosition, FromID: a.members.SelfID(),
		LogPosition: a.appliedPosition,
	}
	data, err := EncodePeerMessage(msg)
	if err != nil {
		return 0
	}
	if _, err := a.peerPub.Offer(data); err != nil {
		return 0
	}
	return 1
}

// onReplayRecord applies one record delivered by the log adapter, the one
// path (shared by leader and follower alike) through which table/registry
// state actually changes — appending only originates a record; applying it
// happens uniformly here once it comes back around the subscription.
func (a *Agent) onReplayRecord(r logpub.Record) error {
	a.appliedPosition++
	if r.LeadershipTermID > a.leadershipTermID {
		a.leadershipTermID = r.LeadershipTermID
	}

	switch r.Kind {
	case logpub.RecordSessionOpen:
		a.sessions.MarkOpen(r.ClusterSessionID, a.appliedPosition)
		metrics.SessionsTotal.WithLabelValues(types.SessionOpen.String()).Inc()

	case logpub.RecordSessionClose:
		a.sessions.Close(r.ClusterSessionID, r.CloseReason)

	case logpub.RecordIngressMessage:
		if s, ok := a.sessions.Get(r.ClusterSessionID); ok {
			s.TimeOfLastActivityMS = r.TimestampMS
		} else if r.ClusterSessionID < 0 {
			a.ring.Sweep(r.ClusterSessionID)
		}

	case logpub.RecordTimerEvent:
		// Every member's hosted service can Schedule/Cancel against its own
		// local timer.Service (onServiceMessage is unconditional on role), so
		// a follower can be holding a still-active entry for a correlation id
		// that already fired on the leader. Cancel it here, on every member,
		// so a later leader never re-fires an id that already fired once.
		a.timers.Cancel(r.CorrelationID)

	case logpub.RecordClusterAction:
		a.applyControlAction(r.Action, a.appliedPosition)

	case logpub.RecordNewLeadershipTerm:
		metrics.LeadershipTermID.Set(float64(r.LeadershipTermID))

	case logpub.RecordMembershipChange:
		a.applyMembershipChange(r)
	}

	return nil
}

func (a *Agent) applyMembershipChange(r logpub.Record) {
	switch r.MembershipKind {
	case types.MembershipJoin:
		for _, m := range r.Members {
			a.members.Add(m)
			a.events.Publish(&events.Event{Type: events.EventMemberJoined, MemberID: m.ID})
		}
		if a.join != nil {
			a.join.ObserveMembershipJoin(r.MemberID)
		}
	case types.MembershipQuit:
		if r.MemberID == a.members.SelfID() {
			a.state = types.StateLeaving
			a.events.Publish(&events.Event{Type: events.EventStateChanged, MemberID: a.members.SelfID(), Message: "LEAVING"})
			return
		}
		a.members.Remove(r.MemberID)
		a.events.Publish(&events.Event{Type: events.EventMemberLeft, MemberID: r.MemberID})
	}
}

// pollServiceControl polls every attached hosted service's control link,
// dispatching service-originated messages into the right subsystem.
func (a *Agent) pollServiceControl(nowMS int64) int {
	work := 0
	for _, sid := range a.proxy.ServiceIDs() {
		work += a.proxy.Poll(sid, nowMS, func(msg serviceproxy.ServiceMessage) {
			a.onServiceMessage(sid, msg, nowMS)
		}, a.cfg.MessageLimit)
	}
	return work
}

func (a *Agent) onServiceMessage(serviceID int32, msg serviceproxy.ServiceMessage, nowMS int64) {
	switch msg.Kind {
	case serviceproxy.ServiceAck:
		if a.snapCoord != nil {
			a.snapCoord.RecordAck(serviceID, msg.LogPosition, msg.AckID)
		}
	case serviceproxy.ServiceMessageProduced:
		a.ring.Enqueue(msg.Payload)
	case serviceproxy.ServiceCloseSession:
		if s, ok := a.sessions.Get(msg.ClusterSessionID); ok && s.State == types.SessionOpen && a.role == types.RoleLeader {
			if _, err := a.logPub.Append(logpub.Record{
				Kind: logpub.RecordSessionClose, ClusterSessionID: msg.ClusterSessionID,
				CloseReason: types.CloseReasonServiceAction,
			}, nowMS); err != nil && err != transport.ErrBackPressured {
				a.noteError(false)
			}
		}
	case serviceproxy.ServiceScheduleTimer:
		a.timers.Schedule(msg.CorrelationID, msg.DeadlineMS)
	case serviceproxy.ServiceCancelTimer:
		a.timers.Cancel(msg.CorrelationID)
	case serviceproxy.ServiceClusterMembersQuery:
		members := make([]types.ClusterMember, 0, a.members.Count())
		for _, m := range a.members.All() {
			members = append(members, *m)
		}
		_ = a.proxy.SendTo(serviceID, serviceproxy.ModuleMessage{
			Kind: serviceproxy.ModuleClusterMembersResponse, Members: members,
		})
	}
}
