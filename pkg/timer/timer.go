package timer

import "container/heap"

// Service is the Timer Service: a deadline-ordered wheel of
// correlation_id -> fire-time, polled against the cluster's own notion of
// time rather than the wall clock. It is not safe for concurrent use,
// matching the agent's single-threaded cooperative scheduling model.
type Service struct {
	entries map[int64]*entry
	byDeadline timerHeap
	seq     int64

	// pendingFires tracks, per correlation id, how many times a timer has
	// fired since it was last (re)scheduled. Schedule consumes one credit
	// instead of installing a new timer when a credit is outstanding, so a
	// schedule() that races a fire already delivered to the caller is a
	// no-op rather than a duplicate timer.
	pendingFires map[int64]int
}

// New returns an empty Timer Service.
func New() *Service {
	return &Service{
		entries:      make(map[int64]*entry),
		pendingFires: make(map[int64]int),
	}
}

type entry struct {
	correlationID int64
	deadlineMS    int64
	seq           int64
	index         int
	active        bool
}

// Schedule installs a timer for correlationID to fire at or after
// deadlineMS, replacing any existing timer for the same id — unless a
// fire credit is outstanding for correlationID, in which case the credit
// is consumed and no timer is installed (idempotent re-schedule-after-fire).
func (s *Service) Schedule(correlationID, deadlineMS int64) {
	if credits := s.pendingFires[correlationID]; credits > 0 {
		if credits == 1 {
			delete(s.pendingFires, correlationID)
		} else {
			s.pendingFires[correlationID] = credits - 1
		}
		return
	}

	if old, ok := s.entries[correlationID]; ok {
		old.active = false
	}

	s.seq++
	e := &entry{correlationID: correlationID, deadlineMS: deadlineMS, seq: s.seq, active: true}
	s.entries[correlationID] = e
	heap.Push(&s.byDeadline, e)
}

// Cancel removes the timer for correlationID, reporting whether one existed.
func (s *Service) Cancel(correlationID int64) bool {
	e, ok := s.entries[correlationID]
	if !ok {
		return false
	}
	e.active = false
	delete(s.entries, correlationID)
	return true
}

// Poll fires every timer whose deadline is <= nowMS, in deadline order with
// ties broken by schedule order, invoking onFire for each. It returns the
// number of timers fired.
func (s *Service) Poll(nowMS int64, onFire func(correlationID int64)) int {
	fired := 0
	for s.byDeadline.Len() > 0 {
		top := s.byDeadline[0]
		if !top.active {
			heap.Pop(&s.byDeadline)
			continue
		}
		if top.deadlineMS > nowMS {
			break
		}
		heap.Pop(&s.byDeadline)
		if cur, ok := s.entries[top.correlationID]; ok && cur == top {
			delete(s.entries, top.correlationID)
		}
		s.pendingFires[top.correlationID]++
		onFire(top.correlationID)
		fired++
	}
	return fired
}

// Len returns the number of live (not-yet-fired, not-cancelled) timers.
func (s *Service) Len() int {
	return len(s.entries)
}

// Snapshot returns every live timer's (correlationID, deadlineMS) pair, the
// form persisted by the Recovery & Snapshot Driver.
func (s *Service) Snapshot() []SnapshotEntry {
	out := make([]SnapshotEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, SnapshotEntry{CorrelationID: e.correlationID, DeadlineMS: e.deadlineMS})
	}
	return out
}

// SnapshotEntry is one (correlation_id, deadline_ms) pair, as dumped by
// Snapshot and reloaded by Restore.
type SnapshotEntry struct {
	CorrelationID int64
	DeadlineMS    int64
}

// Restore replaces the service's contents with the given snapshot entries,
// used while replaying a recovery plan's snapshot stream.
func (s *Service) Restore(entries []SnapshotEntry) {
	s.entries = make(map[int64]*entry, len(entries))
	s.byDeadline = s.byDeadline[:0]
	s.pendingFires = make(map[int64]int)
	s.seq = 0
	for _, se := range entries {
		s.Schedule(se.CorrelationID, se.DeadlineMS)
	}
}

// timerHeap is a container/heap.Interface ordering entries by
// (deadlineMS, seq) so equal deadlines fire in insertion order.
type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadlineMS != h[j].deadlineMS {
		return h[i].deadlineMS < h[j].deadlineMS
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
