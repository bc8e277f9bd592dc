package types

import "time"

// MemberID identifies a cluster member. Ids are stable small integers;
// HighMemberID on the registry tracks the largest ever admitted so a
// dynamic joiner gets a fresh one.
type MemberID int32

// NoLeader is used where a MemberID field means "nobody" (no leader yet,
// unassigned removal, etc).
const NoLeader MemberID = -1

// MemberEndpoints is the set of addressable endpoints a cluster member
// publishes, one per concern (client-facing ingress, member-to-member
// control, log replication, snapshot/catch-up transfer, archive control).
type MemberEndpoints struct {
	ClientFacing string
	MemberFacing string
	Log          string
	Transfer     string
	Archive      string
}

// ClusterMember is one row of the Cluster Member Registry.
type ClusterMember struct {
	ID        MemberID
	Endpoints MemberEndpoints

	// PublicationOpen is true once this member's outbound member-facing
	// publication has been established.
	PublicationOpen bool

	AppendedLogPosition  int64
	CommitPosition       int64
	TimeOfLastAppendMS   int64
	CatchupReplayID      *int64
	IsLeader             bool
	HasRequestedJoin     bool
	HasRequestedRemove   bool
	HasSentTerminationAck bool
	RemovalPosition      *int64
	CorrelationID        *int64

	// IsPassive marks a standby member: it replicates the log and can be
	// promoted later, but never counts toward quorum or election ballots.
	IsPassive bool
}

// Clone returns a deep-enough copy for safe mutation by callers that must
// not alias the registry's own record.
func (m ClusterMember) Clone() ClusterMember {
	out := m
	if m.CatchupReplayID != nil {
		v := *m.CatchupReplayID
		out.CatchupReplayID = &v
	}
	if m.RemovalPosition != nil {
		v := *m.RemovalPosition
		out.RemovalPosition = &v
	}
	if m.CorrelationID != nil {
		v := *m.CorrelationID
		out.CorrelationID = &v
	}
	return out
}

// TermEntry is one entry of the Recording Log tagged with kind TERM.
type TermEntry struct {
	LeadershipTermID  int64
	TermBaseLogPos    int64
	LogPosition       int64
	TimestampMS       int64
	RecordingID       int64
}

// SnapshotEntry is one entry of the Recording Log tagged with kind SNAPSHOT.
type SnapshotEntry struct {
	LeadershipTermID int64
	TermBaseLogPos   int64
	LogPosition      int64
	TimestampMS      int64
	ServiceID        int32 // -1 for the consensus module's own snapshot
	RecordingID      int64
}

// RecordingLogEntryKind discriminates RecordingLogEntry.
type RecordingLogEntryKind uint8

const (
	RecordingLogEntryTerm RecordingLogEntryKind = iota
	RecordingLogEntrySnapshot
)

// RecordingLogEntry is the tagged union persisted by the Recording Log.
// Exactly one of Term/Snapshot is populated, selected by Kind.
type RecordingLogEntry struct {
	Kind     RecordingLogEntryKind
	Term     TermEntry
	Snapshot SnapshotEntry
}

// LogPosition returns the entry's log_position regardless of kind.
func (e RecordingLogEntry) LogPosition() int64 {
	if e.Kind == RecordingLogEntryTerm {
		return e.Term.LogPosition
	}
	return e.Snapshot.LogPosition
}

// LeadershipTermID returns the entry's leadership_term_id regardless of kind.
func (e RecordingLogEntry) LeadershipTermID() int64 {
	if e.Kind == RecordingLogEntryTerm {
		return e.Term.LeadershipTermID
	}
	return e.Snapshot.LeadershipTermID
}

// RecoveryPlan is the derived view built on startup.
type RecoveryPlan struct {
	LastLeadershipTermID int64
	AppendedLogPosition  int64
	Snapshots            []SnapshotEntry // latest per service id, plus -1 for the module
	Logs                 []TermEntry     // tail to replay, in order
}

// HasReplay reports whether the tail log's [start,stop) range is non-empty.
func (p RecoveryPlan) HasReplay() bool {
	if len(p.Logs) == 0 {
		return false
	}
	last := p.Logs[len(p.Logs)-1]
	return last.LogPosition > p.AppendedLogPosition
}

// LatestSnapshot returns the newest snapshot entry across all recorded
// snapshots, or the zero value and false if none exist.
func (p RecoveryPlan) LatestSnapshot() (SnapshotEntry, bool) {
	var best SnapshotEntry
	found := false
	for _, s := range p.Snapshots {
		if !found || s.LogPosition > best.LogPosition {
			best = s
			found = true
		}
	}
	return best, found
}

// SessionState is the lifecycle state of a ClusterSession.
type SessionState uint8

const (
	SessionInit SessionState = iota
	SessionConnected
	SessionChallenged
	SessionAuthenticated
	SessionOpen
	SessionClosed
	SessionRejected
)

func (s SessionState) String() string {
	switch s {
	case SessionInit:
		return "INIT"
	case SessionConnected:
		return "CONNECTED"
	case SessionChallenged:
		return "CHALLENGED"
	case SessionAuthenticated:
		return "AUTHENTICATED"
	case SessionOpen:
		return "OPEN"
	case SessionClosed:
		return "CLOSED"
	case SessionRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// CloseReason explains why a session transitioned to CLOSED/REJECTED.
type CloseReason string

const (
	CloseReasonClientAction  CloseReason = "CLIENT_ACTION"
	CloseReasonTimeout       CloseReason = "TIMEOUT"
	CloseReasonServiceAction CloseReason = "SERVICE_ACTION"
	CloseReasonInvalidVersion CloseReason = "INVALID_VERSION"
	CloseReasonLimit         CloseReason = "LIMIT"
	CloseReasonAuthFailed    CloseReason = "AUTHENTICATION_REJECTED"
	CloseReasonRedirect      CloseReason = "REDIRECT"
)

// ClusterSession is one row of the Session Table.
type ClusterSession struct {
	ClusterSessionID   int64
	ResponseChannel    string
	ResponseStreamID   int32
	State              SessionState
	OpenedLogPosition  int64
	LastCorrelationID  int64
	TimeOfLastActivityMS int64
	CloseReason        CloseReason
	PendingNewLeaderEvent bool

	// Credentials carries the client's Connect-time authentication
	// payload through to the Authenticator; empty once consumed.
	Credentials []byte
}

// AgentState is the top-level module state machine.
type AgentState uint8

const (
	StateInit AgentState = iota
	StateActive
	StateSuspended
	StateSnapshot
	StateLeaving
	StateTerminating
	StateClosed
)

func (s AgentState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateActive:
		return "ACTIVE"
	case StateSuspended:
		return "SUSPENDED"
	case StateSnapshot:
		return "SNAPSHOT"
	case StateLeaving:
		return "LEAVING"
	case StateTerminating:
		return "TERMINATING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role is which side of an election a member currently occupies.
type Role uint8

const (
	RoleFollower Role = iota
	RoleLeader
)

func (r Role) String() string {
	if r == RoleLeader {
		return "LEADER"
	}
	return "FOLLOWER"
}

// ClusterAction is the value carried by a ClusterActionEvent log record
// and by the external control toggle.
type ClusterAction int32

const (
	ActionNeutral ClusterAction = iota
	ActionSuspend
	ActionResume
	ActionSnapshot
	ActionShutdown
	ActionAbort
)

// MembershipChangeKind discriminates MembershipChangeEvent log records.
type MembershipChangeKind uint8

const (
	MembershipJoin MembershipChangeKind = iota
	MembershipQuit
)

// Now returns the current wall-clock time in epoch milliseconds. It is the
// one place production code is allowed to read the clock directly; the
// agent and its sub-protocols otherwise take now_ms as an explicit
// parameter so tests can drive time deterministically.
func Now() int64 {
	return time.Now().UnixMilli()
}
