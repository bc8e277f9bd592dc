package agent

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/clustercore/pkg/election"
	"github.com/cuemby/clustercore/pkg/types"
)

// PeerMessageKind discriminates member-status traffic.
type PeerMessageKind uint8

const (
	PeerCanvassPosition PeerMessageKind = iota
	PeerRequestVote
	PeerVote
	PeerNewLeadershipTerm
	PeerAppendedPosition
	PeerCommitPosition
	PeerCatchupPosition
	PeerStopCatchup
	PeerAddPassiveMember
	PeerClusterMembersChange
	PeerSnapshotRecordingQuery
	PeerSnapshotRecordings
	PeerJoinCluster
	PeerTerminationPosition
	PeerTerminationAck
	PeerRemoveMember
)

// PeerMessage is the tagged union of every message exchanged among
// members outside of the replicated log itself.
type PeerMessage struct {
	Kind     PeerMessageKind
	FromID   types.MemberID
	ToID     types.MemberID // addressee of a vote or reply; only PeerVote handling checks it, and 0 addresses member 0
	Position election.Position

	Vote bool // PeerVote

	LeadershipTermID int64 // PeerNewLeadershipTerm, PeerJoinCluster
	MaxLogPosition   int64 // PeerNewLeadershipTerm
	LogPosition      int64 // PeerAppendedPosition/CommitPosition/CatchupPosition/TerminationPosition/TerminationAck

	Endpoints types.MemberEndpoints // PeerAddPassiveMember
	AssignedID types.MemberID        // reply to PeerAddPassiveMember
	Members   []types.ClusterMember // PeerClusterMembersChange, reply to PeerAddPassiveMember

	Snapshots []types.SnapshotEntry // PeerSnapshotRecordings

	IsPassive bool // PeerRemoveMember
}

// EncodePeerMessage serialises a PeerMessage to its wire form.
func EncodePeerMessage(m PeerMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("agent: encode peer message: %w", err)
	}
	return b, nil
}

// DecodePeerMessage parses a PeerMessage previously produced by
// EncodePeerMessage.
func DecodePeerMessage(data []byte) (PeerMessage, error) {
	var m PeerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return PeerMessage{}, fmt.Errorf("agent: decode peer message: %w", err)
	}
	return m, nil
}
