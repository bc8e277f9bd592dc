package session

import "github.com/cuemby/clustercore/pkg/types"

// IsPending reports whether a session state is one of the admission states
// prior to OPEN.
func IsPending(s types.SessionState) bool {
	switch s {
	case types.SessionConnected, types.SessionChallenged, types.SessionAuthenticated:
		return true
	default:
		return false
	}
}

// Table is the Session Table: every client session this
// leader (or former leader) knows about, plus the monotone counters used
// to allocate client session ids and service-originated pseudo-session
// ids from disjoint ranges.
type Table struct {
	sessions map[int64]*types.ClusterSession

	nextSessionID        int64 // positive, leader-allocated client session ids
	nextServiceSessionID int64 // negative, service-originated pseudo sessions
}

// New returns an empty Session Table.
func New() *Table {
	return &Table{sessions: make(map[int64]*types.ClusterSession)}
}

// AllocateSessionID returns the next positive client session id.
func (t *Table) AllocateSessionID() int64 {
	t.nextSessionID++
	return t.nextSessionID
}

// NextServiceSessionID returns the next negative service-originated pseudo
// session id.
func (t *Table) NextServiceSessionID() int64 {
	t.nextServiceSessionID--
	return t.nextServiceSessionID
}

// RestoreCounters sets both counters, used when loading a recovery
// snapshot so freshly allocated ids never collide with previously
// allocated ones.
func (t *Table) RestoreCounters(nextSessionID, nextServiceSessionID int64) {
	t.nextSessionID = nextSessionID
	t.nextServiceSessionID = nextServiceSessionID
}

// Add inserts or replaces a session record.
func (t *Table) Add(s *types.ClusterSession) {
	t.sessions[s.ClusterSessionID] = s
}

// Get returns the session with the given id, if present.
func (t *Table) Get(id int64) (*types.ClusterSession, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

// Remove deletes a session record outright, used once a CLOSED/REJECTED
// session has finished being delivered to the client.
func (t *Table) Remove(id int64) {
	delete(t.sessions, id)
}

// All returns every tracked session in no particular order.
func (t *Table) All() []*types.ClusterSession {
	out := make([]*types.ClusterSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// CountOpenAndPending returns the counts used by the admission limit check.
func (t *Table) CountOpenAndPending() (open, pending int) {
	for _, s := range t.sessions {
		switch {
		case s.State == types.SessionOpen:
			open++
		case IsPending(s.State):
			pending++
		}
	}
	return open, pending
}

// MarkOpen transitions a session to OPEN at the position its SessionOpen
// record was appended at.
func (t *Table) MarkOpen(id int64, openedLogPosition int64) {
	if s, ok := t.sessions[id]; ok {
		s.State = types.SessionOpen
		s.OpenedLogPosition = openedLogPosition
	}
}

// Close transitions a session to CLOSED/REJECTED with the given reason.
func (t *Table) Close(id int64, reason types.CloseReason) {
	if s, ok := t.sessions[id]; ok {
		if reason == types.CloseReasonInvalidVersion || reason == types.CloseReasonLimit || reason == types.CloseReasonAuthFailed {
			s.State = types.SessionRejected
		} else {
			s.State = types.SessionClosed
		}
		s.CloseReason = reason
	}
}

// ExpiredSessions returns every OPEN session whose last activity predates
// nowMS - timeoutMS.
func (t *Table) ExpiredSessions(nowMS, timeoutMS int64) []*types.ClusterSession {
	var out []*types.ClusterSession
	for _, s := range t.sessions {
		if s.State == types.SessionOpen && nowMS-s.TimeOfLastActivityMS > timeoutMS {
			out = append(out, s)
		}
	}
	return out
}

// MarkNewLeaderPendingForAll flags every OPEN session as owed a NewLeader
// event exactly once.
func (t *Table) MarkNewLeaderPendingForAll() {
	for _, s := range t.sessions {
		if s.State == types.SessionOpen {
			s.PendingNewLeaderEvent = true
		}
	}
}

// PendingNewLeaderSessions returns every OPEN session still owed a
// NewLeader event.
func (t *Table) PendingNewLeaderSessions() []*types.ClusterSession {
	var out []*types.ClusterSession
	for _, s := range t.sessions {
		if s.State == types.SessionOpen && s.PendingNewLeaderEvent {
			out = append(out, s)
		}
	}
	return out
}

// AckNewLeader clears the pending-NewLeader flag once delivery succeeded.
func (t *Table) AckNewLeader(id int64) {
	if s, ok := t.sessions[id]; ok {
		s.PendingNewLeaderEvent = false
	}
}

// Snapshot returns a deep-enough copy of every tracked session, the form
// persisted by the Recovery & Snapshot Driver alongside the
// two id counters.
func (t *Table) Snapshot() ([]types.ClusterSession, int64, int64) {
	out := make([]types.ClusterSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out, t.nextSessionID, t.nextServiceSessionID
}

// Restore replaces the table's contents with a previously taken snapshot.
func (t *Table) Restore(sessions []types.ClusterSession, nextSessionID, nextServiceSessionID int64) {
	t.sessions = make(map[int64]*types.ClusterSession, len(sessions))
	for i := range sessions {
		s := sessions[i]
		t.sessions[s.ClusterSessionID] = &s
	}
	t.RestoreCounters(nextSessionID, nextServiceSessionID)
}
