// Package servicering implements the Pending Service-Message Ring: the
// queue a hosted service's outbound messages sit in until the leader can
// append them to the log in order. Every member — leader or follower —
// keeps one of these, because only the current leader may append and
// members change role.
package servicering

// Ring holds service-originated messages awaiting durable append, in the
// order the hosted service produced them.
type Ring struct {
	pending [][]byte

	// loggedThrough is the most negative service_session_id this member
	// has observed appended to the log; valid once hasLogged is true.
	loggedThrough int64
	hasLogged     bool
}

// New returns an empty ring.
func New() *Ring {
	return &Ring{}
}

// Enqueue appends a message produced by the hosted service to the back of
// the ring, speculatively — it has not yet been assigned a
// service_session_id or appended anywhere.
func (r *Ring) Enqueue(payload []byte) {
	r.pending = append(r.pending, payload)
}

// Len reports how many messages are still waiting to be appended.
func (r *Ring) Len() int {
	return len(r.pending)
}

// Drain runs on the leader: it pulls up to limit messages off the front of
// the ring, assigns each the id allocateID returns (expected to be the
// next negative service session id, most-recent-call-most-negative), and
// hands it to appendFn to place in the log. A message is removed from the
// ring only once appendFn succeeds for it; the first failure stops the
// drain and is returned with the count of messages appended so far.
func (r *Ring) Drain(limit int, allocateID func() int64, appendFn func(serviceSessionID int64, payload []byte) error) (int, error) {
	appended := 0
	for appended < limit && len(r.pending) > 0 {
		payload := r.pending[0]
		id := allocateID()
		if err := appendFn(id, payload); err != nil {
			return appended, err
		}
		r.pending = r.pending[1:]
		r.markLogged(id)
		appended++
	}
	return appended, nil
}

// Sweep runs on every member when the replay/commit path delivers a
// record carrying service_session_id id: it drops the corresponding
// speculative entry from the front of this member's own ring. It is a
// no-op, returning false, if id has already been swept past (duplicate or
// stale delivery, safe to ignore).
func (r *Ring) Sweep(id int64) bool {
	if r.hasLogged && id >= r.loggedThrough {
		return false
	}
	dropped := false
	if len(r.pending) > 0 {
		r.pending = r.pending[1:]
		dropped = true
	}
	r.markLogged(id)
	return dropped
}

// FastForward records that every service message up to and including
// logServiceSessionID is already durably appended, without touching the
// ring's contents. Called once on taking over a role so a subsequent
// Sweep for an id already covered by a prior term is recognised as stale.
func (r *Ring) FastForward(logServiceSessionID int64) {
	r.markLogged(logServiceSessionID)
}

func (r *Ring) markLogged(id int64) {
	if !r.hasLogged || id < r.loggedThrough {
		r.loggedThrough = id
		r.hasLogged = true
	}
}

// Snapshot returns the ring's state for persistence: the still-pending
// payloads in order, plus the most-negative id already known logged.
func (r *Ring) Snapshot() (pending [][]byte, loggedThrough int64, hasLogged bool) {
	out := make([][]byte, len(r.pending))
	copy(out, r.pending)
	return out, r.loggedThrough, r.hasLogged
}

// Restore replaces the ring's contents with a previously taken snapshot.
func (r *Ring) Restore(pending [][]byte, loggedThrough int64, hasLogged bool) {
	r.pending = append([][]byte(nil), pending...)
	r.loggedThrough = loggedThrough
	r.hasLogged = hasLogged
}
