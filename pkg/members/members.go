package members

import (
	"sort"

	"github.com/cuemby/clustercore/pkg/types"
)

// Registry is the Cluster Member Registry: the set of
// active members, their endpoints, and their per-peer replication state
// (appended/commit position, catch-up progress, pending join/remove
// requests). It also tracks high_member_id so a dynamic joiner always
// receives an id no prior member ever held.
type Registry struct {
	selfID  types.MemberID
	members map[types.MemberID]*types.ClusterMember
	highID  types.MemberID
}

// New builds a Registry from an initial static member list plus which of them is
// this process.
func New(selfID types.MemberID, initial []types.ClusterMember) *Registry {
	r := &Registry{
		selfID:  selfID,
		members: make(map[types.MemberID]*types.ClusterMember, len(initial)),
	}
	for _, m := range initial {
		mm := m
		r.members[m.ID] = &mm
		if m.ID > r.highID {
			r.highID = m.ID
		}
	}
	return r
}

// SelfID returns this process's own member id.
func (r *Registry) SelfID() types.MemberID { return r.selfID }

// Self returns this process's own record.
func (r *Registry) Self() (*types.ClusterMember, bool) {
	return r.Get(r.selfID)
}

// Get returns the member with the given id, if present.
func (r *Registry) Get(id types.MemberID) (*types.ClusterMember, bool) {
	m, ok := r.members[id]
	return m, ok
}

// All returns every member, ordered by id for deterministic iteration.
func (r *Registry) All() []*types.ClusterMember {
	out := make([]*types.ClusterMember, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of members, passive ones included.
func (r *Registry) Count() int { return len(r.members) }

// VotingCount returns the number of members that count toward quorum:
// every member except those marked passive.
func (r *Registry) VotingCount() int {
	n := 0
	for _, m := range r.members {
		if !m.IsPassive {
			n++
		}
	}
	return n
}

// Quorum returns floor(N/2)+1 over the voting (non-passive) member count.
// A passive member replicates the log but never counts toward it.
func (r *Registry) Quorum() int {
	n := r.VotingCount()
	return n/2 + 1
}

// HighMemberID returns the largest member id ever admitted.
func (r *Registry) HighMemberID() types.MemberID { return r.highID }

// NextMemberID allocates a fresh id for a dynamic joiner.
func (r *Registry) NextMemberID() types.MemberID {
	r.highID++
	return r.highID
}

// Add admits a member (static parse, or a JOIN membership-change event).
// It also advances HighMemberID so a later joiner never collides.
func (r *Registry) Add(m types.ClusterMember) {
	mm := m
	r.members[m.ID] = &mm
	if m.ID > r.highID {
		r.highID = m.ID
	}
}

// Remove drops a member (QUIT membership-change event reaching commit, or
// removal of a member this process observed leaving).
func (r *Registry) Remove(id types.MemberID) {
	delete(r.members, id)
}

// Leader returns the member currently marked as leader, if any.
func (r *Registry) Leader() (*types.ClusterMember, bool) {
	for _, m := range r.members {
		if m.IsLeader {
			return m, true
		}
	}
	return nil, false
}

// SetLeader marks id as leader and clears the flag on every other member.
func (r *Registry) SetLeader(id types.MemberID) {
	for mid, m := range r.members {
		m.IsLeader = mid == id
	}
}

// QuorumPosition returns the highest position such that at least Quorum()
// voting members have an AppendedLogPosition >= it: the commit_position
// ceiling. Passive members replicate but are excluded from the count, the
// same way they are excluded from Quorum itself.
func (r *Registry) QuorumPosition() int64 {
	positions := make([]int64, 0, len(r.members))
	for _, m := range r.members {
		if m.IsPassive {
			continue
		}
		positions = append(positions, m.AppendedLogPosition)
	}
	if len(positions) == 0 {
		return 0
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] > positions[j] })
	idx := r.Quorum() - 1
	if idx >= len(positions) {
		idx = len(positions) - 1
	}
	return positions[idx]
}
