package dynamicjoin

import "github.com/cuemby/clustercore/pkg/types"

// State is one step of the dynamic join subprotocol.
type State uint8

const (
	StateIdle State = iota
	StateAwaitingPassiveAck
	StateQueryingSnapshots
	StateReplayingSnapshots
	StateAwaitingJoinCommit
	StateAdmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingPassiveAck:
		return "AWAITING_PASSIVE_ACK"
	case StateQueryingSnapshots:
		return "QUERYING_SNAPSHOTS"
	case StateReplayingSnapshots:
		return "REPLAYING_SNAPSHOTS"
	case StateAwaitingJoinCommit:
		return "AWAITING_JOIN_COMMIT"
	case StateAdmitted:
		return "ADMITTED"
	default:
		return "UNKNOWN"
	}
}

// SnapshotRef is one recording the joiner must replay locally before it
// can restore the module and hosted-service state those recordings hold.
type SnapshotRef struct {
	ServiceID   int32 // -1 for the consensus module's own snapshot
	RecordingID int64
	LogPosition int64
}

// Joiner drives one member's view of joining a cluster it was not
// statically configured into. It is fed responses observed on the
// member's peer-control subscription and polled for readiness; it never
// blocks.
type Joiner struct {
	statusEndpoints []string
	state           State

	assignedID     types.MemberID
	activeMembers  []types.ClusterMember
	passiveMembers []types.ClusterMember

	pendingSnapshots  []SnapshotRef
	replayedRecording map[int32]int64

	leadershipTermID int64
}

// New returns a Joiner that will contact any of statusEndpoints.
func New(statusEndpoints []string) *Joiner {
	return &Joiner{
		statusEndpoints:   statusEndpoints,
		replayedRecording: make(map[int32]int64),
	}
}

// State returns the current step.
func (j *Joiner) State() State {
	return j.state
}

// Begin starts the protocol: the caller sends AddPassiveMember to one of
// statusEndpoints and the Joiner awaits the reply.
func (j *Joiner) Begin() {
	j.state = StateAwaitingPassiveAck
}

// StatusEndpoints returns the configured endpoints to try contacting.
func (j *Joiner) StatusEndpoints() []string {
	return j.statusEndpoints
}

// ReceiveAddPassiveMemberAck records the leader's reply: the fresh member id assigned to this joiner and the current
// active/passive member lists, and advances to querying snapshots.
func (j *Joiner) ReceiveAddPassiveMemberAck(assignedID types.MemberID, active, passive []types.ClusterMember) {
	if j.state != StateAwaitingPassiveAck {
		return
	}
	j.assignedID = assignedID
	j.activeMembers = active
	j.passiveMembers = passive
	j.state = StateQueryingSnapshots
}

// AssignedMemberID returns the id assigned by ReceiveAddPassiveMemberAck.
func (j *Joiner) AssignedMemberID() types.MemberID {
	return j.assignedID
}

// ActiveMembers returns the active member list observed at admission time.
func (j *Joiner) ActiveMembers() []types.ClusterMember {
	return j.activeMembers
}

// ReceiveSnapshotRecordings records the set of recordings the joiner must
// replay locally before it holds a consistent starting state, and
// advances to replaying them.
func (j *Joiner) ReceiveSnapshotRecordings(refs []SnapshotRef) {
	if j.state != StateQueryingSnapshots {
		return
	}
	j.pendingSnapshots = refs
	j.state = StateReplayingSnapshots
}

// PendingSnapshots returns the recordings still awaiting a RecordReplayed
// call, the work-list the caller fans out to the Archive.
func (j *Joiner) PendingSnapshots() []SnapshotRef {
	return j.pendingSnapshots
}

// RecordReplayed marks serviceID's snapshot as replayed into a fresh local
// recording id. Returns true once every pending snapshot has been
// replayed, meaning the joiner is ready to send JoinCluster.
func (j *Joiner) RecordReplayed(serviceID int32, localRecordingID int64) bool {
	if j.state != StateReplayingSnapshots {
		return false
	}
	j.replayedRecording[serviceID] = localRecordingID
	return j.ReadyToJoin()
}

// ReadyToJoin reports whether every pending snapshot has been replayed.
func (j *Joiner) ReadyToJoin() bool {
	if j.state != StateReplayingSnapshots {
		return false
	}
	for _, ref := range j.pendingSnapshots {
		if _, ok := j.replayedRecording[ref.ServiceID]; !ok {
			return false
		}
	}
	return true
}

// ReplayedRecordingID returns the local recording id serviceID's snapshot
// was replayed into, if RecordReplayed has been called for it.
func (j *Joiner) ReplayedRecordingID(serviceID int32) (int64, bool) {
	id, ok := j.replayedRecording[serviceID]
	return id, ok
}

// BeginJoinCommit records the term the caller is about to send
// JoinCluster(leadershipTermID, assignedID) under, and advances to
// awaiting the leader's MembershipChangeEvent(JOIN).
func (j *Joiner) BeginJoinCommit(leadershipTermID int64) {
	if !j.ReadyToJoin() {
		return
	}
	j.leadershipTermID = leadershipTermID
	j.state = StateAwaitingJoinCommit
}

// ObserveMembershipJoin is called for every MembershipChangeEvent(JOIN)
// the joiner replays off the log. It admits the joiner, transitioning to
// ADMITTED, only once the joined member id matches its own assigned id;
// any other member's JOIN is a no-op here.
func (j *Joiner) ObserveMembershipJoin(memberID types.MemberID) bool {
	if j.state != StateAwaitingJoinCommit || memberID != j.assignedID {
		return false
	}
	j.state = StateAdmitted
	return true
}

// Admitted reports whether the join has completed.
func (j *Joiner) Admitted() bool {
	return j.state == StateAdmitted
}
