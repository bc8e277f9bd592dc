package election

import "github.com/cuemby/clustercore/pkg/types"

// State is one step of the election subprotocol.
type State uint8

const (
	StateInit State = iota
	StateCanvass
	StateNominate
	StateCandidateBallot
	StateFollowerBallot
	StateLeaderReplay
	StateLeaderTransition
	StateFollowerCatchupInit
	StateFollowerCatchup
	StateFollowerTransition
	StateClose
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCanvass:
		return "CANVASS"
	case StateNominate:
		return "NOMINATE"
	case StateCandidateBallot:
		return "CANDIDATE_BALLOT"
	case StateFollowerBallot:
		return "FOLLOWER_BALLOT"
	case StateLeaderReplay:
		return "LEADER_REPLAY"
	case StateLeaderTransition:
		return "LEADER_TRANSITION"
	case StateFollowerCatchupInit:
		return "FOLLOWER_CATCHUP_INIT"
	case StateFollowerCatchup:
		return "FOLLOWER_CATCHUP"
	case StateFollowerTransition:
		return "FOLLOWER_TRANSITION"
	case StateClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Position is one member's canvassed standing: the term it last
// participated in and how far its log has advanced.
type Position struct {
	MemberID         types.MemberID
	LeadershipTermID int64
	LogPosition      int64
}

// outranks reports whether a is the stronger candidate than b: higher log
// position wins, ties broken by higher term, final tie broken by lower
// member id (so every member computes the same winner deterministically).
func outranks(a, b Position) bool {
	if a.LogPosition != b.LogPosition {
		return a.LogPosition > b.LogPosition
	}
	if a.LeadershipTermID != b.LeadershipTermID {
		return a.LeadershipTermID > b.LeadershipTermID
	}
	return a.MemberID < b.MemberID
}

// Nominate returns the strongest candidate among positions. Panics on an
// empty slice; callers must canvass at least themselves first.
func Nominate(positions []Position) Position {
	best := positions[0]
	for _, p := range positions[1:] {
		if outranks(p, best) {
			best = p
		}
	}
	return best
}

// ShouldVoteYes reports whether voterPos should vote for candidatePos: the
// candidate's log must be at least as far advanced as the voter's own.
func ShouldVoteYes(voterPos, candidatePos Position) bool {
	return candidatePos.LogPosition >= voterPos.LogPosition
}

// Ballot tallies yes votes toward a strict quorum.
type Ballot struct {
	quorum int
	yes    map[types.MemberID]bool
}

// NewBallot returns an empty ballot requiring quorum yes votes to pass.
func NewBallot(quorum int) *Ballot {
	return &Ballot{quorum: quorum, yes: make(map[types.MemberID]bool)}
}

// RecordVote registers memberID's vote. Only yes votes are tallied; a no
// vote is simply not counted toward quorum.
func (b *Ballot) RecordVote(memberID types.MemberID, yes bool) {
	if yes {
		b.yes[memberID] = true
	}
}

// YesCount returns how many distinct members have voted yes.
func (b *Ballot) YesCount() int {
	return len(b.yes)
}

// HasQuorum reports whether enough yes votes have been collected.
func (b *Ballot) HasQuorum() bool {
	return len(b.yes) >= b.quorum
}

// Election drives one member's view of the election subprotocol. It is
// not safe for concurrent use, matching the agent's single-threaded
// scheduling model; the agent feeds it canvass/vote messages observed on
// its peer-control subscription and polls CheckTimeout once per tick.
type Election struct {
	selfID    types.MemberID
	quorum    int
	timeoutMS int64

	state       State
	startedAtMS int64

	canvassed map[types.MemberID]Position
	candidate *Position
	ballot    *Ballot

	resultTermID         int64
	resultLeaderID        types.MemberID
	resultMaxLogPosition int64
	catchupTarget        int64
}

// New returns an Election for selfID in a cluster whose quorum size is
// quorum, with an overall timeout of timeoutMS before CANVASS restarts.
func New(selfID types.MemberID, quorum int, timeoutMS int64) *Election {
	return &Election{selfID: selfID, quorum: quorum, timeoutMS: timeoutMS, state: StateInit}
}

// State returns the current step.
func (e *Election) State() State {
	return e.state
}

// Begin (re)starts the election from CANVASS at nowMS, canvassing selfPos
// as this member's own standing.
func (e *Election) Begin(nowMS int64, selfPos Position) {
	e.state = StateCanvass
	e.startedAtMS = nowMS
	e.canvassed = map[types.MemberID]Position{selfPos.MemberID: selfPos}
	e.candidate = nil
	e.ballot = nil
}

// ReceiveCanvass records a peer's canvassed position.
func (e *Election) ReceiveCanvass(pos Position) {
	if e.state != StateCanvass {
		return
	}
	e.canvassed[pos.MemberID] = pos
}

// CanvassCount reports how many members' positions have been observed so
// far this round, including this member's own.
func (e *Election) CanvassCount() int {
	return len(e.canvassed)
}

// Nominate runs once enough canvass responses are in (by convention,
// quorum of them): it picks the strongest candidate and moves to
// CANDIDATE_BALLOT (if this member is the candidate) or FOLLOWER_BALLOT
// otherwise. Returns the chosen candidate.
func (e *Election) Nominate() Position {
	positions := make([]Position, 0, len(e.canvassed))
	for _, p := range e.canvassed {
		positions = append(positions, p)
	}
	winner := Nominate(positions)
	e.candidate = &winner

	if winner.MemberID == e.selfID {
		e.state = StateCandidateBallot
		e.ballot = NewBallot(e.quorum)
		e.ballot.RecordVote(e.selfID, true)
	} else {
		e.state = StateFollowerBallot
	}
	return winner
}

// Candidate returns the nominated candidate, if Nominate has run.
func (e *Election) Candidate() (Position, bool) {
	if e.candidate == nil {
		return Position{}, false
	}
	return *e.candidate, true
}

// ReceiveVote records a peer's ballot response while this member is the
// candidate. Becoming leader is signalled by HasWonBallot once quorum
// yes votes are in.
func (e *Election) ReceiveVote(memberID types.MemberID, yes bool) {
	if e.state != StateCandidateBallot || e.ballot == nil {
		return
	}
	e.ballot.RecordVote(memberID, yes)
}

// HasWonBallot reports whether this candidate has collected a strict
// quorum of yes votes.
func (e *Election) HasWonBallot() bool {
	return e.state == StateCandidateBallot && e.ballot != nil && e.ballot.HasQuorum()
}

// BecomeLeader transitions a winning candidate into LEADER_REPLAY,
// assigning newLeadershipTermID (the prior term plus one) and the
// maxLogPosition to broadcast in NewLeadershipTerm.
func (e *Election) BecomeLeader(priorLeadershipTermID, maxLogPosition int64) {
	e.state = StateLeaderReplay
	e.resultTermID = priorLeadershipTermID + 1
	e.resultLeaderID = e.selfID
	e.resultMaxLogPosition = maxLogPosition
}

// LeaderReplayComplete moves a leader from LEADER_REPLAY (writing its own
// fresh term entry and broadcasting NewLeadershipTerm) into
// LEADER_TRANSITION.
func (e *Election) LeaderReplayComplete() {
	if e.state == StateLeaderReplay {
		e.state = StateLeaderTransition
	}
}

// BecomeFollower transitions a follower that has lost the ballot (or
// never contested it) once it observes NewLeadershipTerm from the winner.
// If this follower's appendedLogPosition is already at least
// termBaseLogPosition it goes straight to FOLLOWER_TRANSITION; otherwise
// it must catch up first.
func (e *Election) BecomeFollower(leadershipTermID int64, leaderID types.MemberID, termBaseLogPosition, appendedLogPosition int64) {
	e.resultTermID = leadershipTermID
	e.resultLeaderID = leaderID
	e.catchupTarget = termBaseLogPosition

	if appendedLogPosition >= termBaseLogPosition {
		e.state = StateFollowerTransition
		return
	}
	e.state = StateFollowerCatchupInit
}

// BeginCatchup moves FOLLOWER_CATCHUP_INIT to FOLLOWER_CATCHUP once the
// replay-then-live subscription switch has been set up by the caller.
func (e *Election) BeginCatchup() {
	if e.state == StateFollowerCatchupInit {
		e.state = StateFollowerCatchup
	}
}

// CatchupTarget returns the log position this follower must reach before
// catch-up is complete.
func (e *Election) CatchupTarget() int64 {
	return e.catchupTarget
}

// AdvanceCatchup reports whether appendedLogPosition has reached the
// catch-up target, and if so transitions to FOLLOWER_TRANSITION.
func (e *Election) AdvanceCatchup(appendedLogPosition int64) bool {
	if e.state != StateFollowerCatchup {
		return false
	}
	if appendedLogPosition < e.catchupTarget {
		return false
	}
	e.state = StateFollowerTransition
	return true
}

// Close finalises a successful election; Result becomes valid.
func (e *Election) Close() {
	e.state = StateClose
}

// Result returns the agreed (leadership_term_id, leader_id,
// max_log_position) from the moment a winner is decided (BecomeLeader or
// BecomeFollower) onward, so callers mid-transition (LEADER_REPLAY,
// FOLLOWER_CATCHUP_INIT, FOLLOWER_CATCHUP) can already act on it, not just
// once the election has fully closed.
func (e *Election) Result() (leadershipTermID int64, leaderID types.MemberID, maxLogPosition int64, ok bool) {
	switch e.state {
	case StateLeaderReplay, StateLeaderTransition,
		StateFollowerCatchupInit, StateFollowerCatchup, StateFollowerTransition,
		StateClose:
		return e.resultTermID, e.resultLeaderID, e.resultMaxLogPosition, true
	default:
		return 0, 0, 0, false
	}
}

// CheckTimeout restarts the election from CANVASS if it has run longer
// than timeoutMS without closing, returning true if it did so.
func (e *Election) CheckTimeout(nowMS int64, selfPos Position) bool {
	if e.state == StateClose || e.state == StateInit {
		return false
	}
	if nowMS-e.startedAtMS < e.timeoutMS {
		return false
	}
	e.Begin(nowMS, selfPos)
	return true
}

// OnHigherTerm forces an immediate restart from CANVASS: any message
// carrying a leadership_term_id greater than what this member knows about
// must never be argued with, only caught up to.
func (e *Election) OnHigherTerm(nowMS int64, selfPos Position) {
	e.Begin(nowMS, selfPos)
}
