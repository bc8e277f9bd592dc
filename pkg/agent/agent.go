package agent

import (
	"fmt"

	"github.com/cuemby/clustercore/pkg/auth"
	"github.com/cuemby/clustercore/pkg/config"
	"github.com/cuemby/clustercore/pkg/dynamicjoin"
	"github.com/cuemby/clustercore/pkg/election"
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/ingress"
	"github.com/cuemby/clustercore/pkg/log"
	"github.com/cuemby/clustercore/pkg/logpub"
	"github.com/cuemby/clustercore/pkg/members"
	"github.com/cuemby/clustercore/pkg/metrics"
	"github.com/cuemby/clustercore/pkg/recordinglog"
	"github.com/cuemby/clustercore/pkg/servicering"
	"github.com/cuemby/clustercore/pkg/serviceproxy"
	"github.com/cuemby/clustercore/pkg/session"
	"github.com/cuemby/clustercore/pkg/storage"
	"github.com/cuemby/clustercore/pkg/timer"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
	"github.com/rs/zerolog"
)

// Deps bundles every collaborator the Agent composes. Tests construct this
// directly against an in-process transport; production wiring constructs it
// from the parsed Config and a storage.Store opened on a real file.
type Deps struct {
	Config    config.Config
	Store     storage.Store
	Transport transport.Transport
	Archive   transport.Archive
	Auth      auth.Authenticator

	PeerPub  transport.Publication
	PeerSub  transport.Subscription
	LogPub   transport.Publication
	LogSub   transport.Subscription
	IngressSub transport.Subscription

	// IngressTransport opens per-session response publications back to a
	// connected client's ResponseChannel/ResponseStreamID. It may be nil in
	// tests that never exercise the response path; sendEvent then becomes a
	// no-op beyond encoding.
	IngressTransport transport.Transport
}

// Agent is the Agent Loop & State Orchestrator: the single-threaded
// do_work(now_ms) entry point composing every sub-protocol into one
// cooperative consensus member.
type Agent struct {
	cfg         config.Config
	store       storage.Store
	tport       transport.Transport
	ingressTport transport.Transport
	archive     transport.Archive
	authn       auth.Authenticator
	logger      zerolog.Logger

	// responsePubs caches one outbound Publication per (channel, streamID)
	// a client response has been sent to, so repeated events to the same
	// session reuse the connection instead of redialling every time.
	responsePubs map[string]transport.Publication

	// joinReplaying tracks whether this tick's batch of Archive replays for
	// the dynamic-join snapshot set has already been kicked off, so joinStep
	// starts it exactly once rather than re-firing every tick while it waits
	// for RecordReplayed results.
	joinReplaying bool

	members   *members.Registry
	sessions  *session.Table
	timers    *timer.Service
	ring      *servicering.Ring
	recLog    *recordinglog.Log
	proxy     *serviceproxy.Proxy

	peerPub transport.Publication
	peerSub transport.Subscription

	logPub  *logpub.Publisher
	adapter *logpub.Adapter

	decoder *ingress.Decoder

	elect *election.Election
	join  *dynamicjoin.Joiner

	state            types.AgentState
	role             types.Role
	leadershipTermID int64
	leaderID         types.MemberID

	cachedNowMS int64

	// appliedPosition counts records this member has applied from the log
	// stream, serving as this implementation's notion of log_position: a
	// transport publication's byte offset is leader-local and not portable
	// between members, so every member instead counts records uniformly as
	// its own adapter delivers them.
	appliedPosition int64

	terminationPosition  *int64
	terminationStartedMS int64
	terminationAcks      map[types.MemberID]bool

	snapCoord *recordinglog.Coordinator

	errorCount int

	// events carries local state-transition notifications to anything
	// observing this member (logging, metrics, a CLI --watch); it is never
	// part of the replicated protocol itself.
	events *events.Broker
}

// New builds an Agent from deps. It does not run recovery; call Recover
// once before the first DoWork.
func New(deps Deps) (*Agent, error) {
	recLog, err := recordinglog.Open(deps.Store)
	if err != nil {
		return nil, fmt.Errorf("agent: open recording log: %w", err)
	}

	selfID := deps.Config.ClusterMemberID
	initial, err := config.ParseClusterMembers(deps.Config.ClusterMembers)
	if err != nil {
		return nil, fmt.Errorf("agent: parse cluster_members: %w", err)
	}

	a := &Agent{
		cfg:          deps.Config,
		store:        deps.Store,
		tport:        deps.Transport,
		ingressTport: deps.IngressTransport,
		archive:      deps.Archive,
		authn:        deps.Auth,
		logger:       log.WithComponent("agent").With().Int32("member_id", int32(selfID)).Logger(),
		members:      members.New(selfID, initial),
		sessions:     session.New(),
		timers:       timer.New(),
		ring:         servicering.New(),
		recLog:       recLog,
		proxy:        serviceproxy.New(),

		peerPub: deps.PeerPub,
		peerSub: deps.PeerSub,

		state:    types.StateInit,
		role:     types.RoleFollower,
		leaderID: types.NoLeader,

		terminationAcks: make(map[types.MemberID]bool),
		responsePubs:    make(map[string]transport.Publication),
		events:          events.NewBroker(),
	}

	if deps.LogPub != nil {
		a.logPub = logpub.NewPublisher(deps.LogPub, 0)
	}
	if deps.LogSub != nil {
		a.adapter = logpub.NewAdapter(deps.LogSub, a.onReplayRecord)
	}
	if deps.IngressSub != nil {
		a.decoder = ingress.NewDecoder(deps.IngressSub, a.onClientFrame)
	}

	statusEndpoints := config.ParseStatusEndpoints(deps.Config.ClusterMembersStatusEndpoints)
	if len(initial) == 0 && len(statusEndpoints) > 0 {
		a.join = dynamicjoin.New(statusEndpoints)
	}

	a.elect = election.New(selfID, a.members.Quorum(), a.cfg.ElectionTimeout.Milliseconds())

	return a, nil
}

// State returns the module's current top-level state.
func (a *Agent) State() types.AgentState { return a.state }

// Role reports whether this member currently believes it is leader.
func (a *Agent) Role() types.Role { return a.role }

// LeadershipTermID returns the term this member last observed.
func (a *Agent) LeadershipTermID() int64 { return a.leadershipTermID }

// Events returns the broker of local state-transition notifications.
// Subscribe on it for logging, metrics, or a CLI --watch; nothing
// published here is replicated to other members.
func (a *Agent) Events() *events.Broker { return a.events }

// Close releases resources the Agent owns outside the conductor loop, the
// event broker included. DoWork must not be called again afterward.
func (a *Agent) Close() error {
	a.events.Stop()
	return a.store.Close()
}

// AttachService wires a hosted service's control Link into the proxy, so it
// participates in heartbeat liveness and message exchange.
func (a *Agent) AttachService(serviceID int32, link serviceproxy.Link) {
	a.proxy.Attach(serviceID, link)
}

// DoWork runs one tick of the agent's cooperative schedule and returns the
// number of work units it performed, per the conductor contract: callers
// back off their idle strategy when this returns zero repeatedly.
func (a *Agent) DoWork(nowMS int64) int {
	work := 0

	if a.tport != nil {
		a.tport.AgentInvoker()
	}

	if nowMS != a.cachedNowMS {
		a.cachedNowMS = nowMS
		work += a.slowTick(nowMS)
	}

	if a.join == nil && a.elect.State() == election.StateInit && a.leaderID == types.NoLeader && a.state != types.StateClosed {
		a.beginElection(nowMS)
	}

	switch {
	case a.join != nil && !a.join.Admitted():
		work += a.joinStep(nowMS)
	case a.elect.State() != election.StateClose && a.elect.State() != election.StateInit:
		work += a.electionStep(nowMS)
	default:
		work += a.consensusStep(nowMS)
	}

	work += a.pollPeerControl(nowMS)
	work += a.pollServiceControl(nowMS)

	metrics.WorkCount.Observe(float64(work))
	return work
}

// slowTick runs once per distinct now_ms value: service-heartbeat liveness
// (a lost hosted service starts termination), leader-only session liveness
// and NewLeader redelivery, and LEAVING/TERMINATING progress. It performs no
// quorum heartbeat check: peers' last append times are never compared
// against a timeout here. It never blocks.
func (a *Agent) slowTick(nowMS int64) int {
	work := 0

	for _, sid := range a.proxy.ServiceIDs() {
		if a.proxy.HeartbeatLost(sid, nowMS, a.cfg.ServiceHeartbeatTimeout.Milliseconds()) {
			a.logger.Warn().Int32("service_id", sid).Msg("hosted service heartbeat lost")
			a.noteError(false)
			if a.state != types.StateTerminating && a.state != types.StateClosed {
				a.beginTermination(a.appliedPosition)
			}
		}
	}

	if a.role == types.RoleLeader {
		work += a.expireSessions(nowMS)
		work += a.deliverPendingNewLeader()
	}

	if a.state == types.StateLeaving || a.state == types.StateTerminating {
		work += a.terminationTick(nowMS)
	}

	return work
}

// noteError routes a tick error through the counted error handler. A fatal
// error forces the member back into election immediately, matching the
// slow-tick error-handling rule: any uncaught append or transport error may
// trigger immediate re-election.
func (a *Agent) noteError(fatal bool) {
	a.errorCount++
	severity := "transient"
	if fatal {
		severity = "fatal"
	}
	metrics.ErrorsTotal.WithLabelValues(severity).Inc()
	if fatal {
		a.beginElection(a.cachedNowMS)
	}
}

func (a *Agent) beginElection(nowMS int64) {
	pos := election.Position{
		MemberID:         a.members.SelfID(),
		LeadershipTermID: a.leadershipTermID,
		LogPosition:      a.appendedLogPosition(),
	}
	a.elect.Begin(nowMS, pos)
	a.role = types.RoleFollower
	a.leaderID = types.NoLeader
}

func (a *Agent) appendedLogPosition() int64 {
	return a.appliedPosition
}

// RequestAction is the external control toggle: SUSPEND, RESUME, SNAPSHOT,
// SHUTDOWN, or ABORT. Only the leader can append it; ABORT additionally
// takes effect immediately rather than waiting for the record to replay
// back, since an aborting leader must not depend on its own log pipeline.
func (a *Agent) RequestAction(action types.ClusterAction) error {
	if action == types.ActionAbort {
		a.applyControlAction(action, a.appliedPosition)
		return nil
	}
	if a.role != types.RoleLeader || a.logPub == nil {
		return fmt.Errorf("agent: only the leader accepts control actions")
	}
	_, err := a.logPub.Append(logpub.Record{Kind: logpub.RecordClusterAction, Action: action}, a.cachedNowMS)
	return err
}

// applyControlAction advances the module state machine for a committed
// ClusterAction record, per the INIT/ACTIVE/SUSPENDED/SNAPSHOT/TERMINATING
// transition table.
func (a *Agent) applyControlAction(action types.ClusterAction, atPosition int64) {
	switch action {
	case types.ActionSuspend:
		if a.state == types.StateActive || a.state == types.StateInit {
			a.state = types.StateSuspended
		}
	case types.ActionResume:
		if a.state == types.StateSuspended {
			a.state = types.StateActive
		}
	case types.ActionSnapshot:
		if a.state == types.StateActive {
			a.beginSnapshot(false)
		}
	case types.ActionShutdown:
		if a.state == types.StateActive || a.state == types.StateSuspended {
			a.beginSnapshot(true)
		}
	case types.ActionAbort:
		if a.state != types.StateClosed {
			a.beginTermination(atPosition)
		}
	}
}
