// Package logpub implements the leader-side Log Publisher and the
// follower-side Log Adapter: the framing, encoding, and decoding of every
// record kind the replicated log carries, stamped with leadership_term_id
// and a timestamp so a follower can treat timestamp as the authoritative
// cluster time.
package logpub

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/clustercore/pkg/types"
)

// RecordKind discriminates the record kinds the log carries.
type RecordKind uint8

const (
	RecordSessionOpen RecordKind = iota
	RecordSessionClose
	RecordIngressMessage
	RecordTimerEvent
	RecordClusterAction
	RecordNewLeadershipTerm
	RecordMembershipChange
)

func (k RecordKind) String() string {
	switch k {
	case RecordSessionOpen:
		return "SessionOpen"
	case RecordSessionClose:
		return "SessionClose"
	case RecordIngressMessage:
		return "IngressMessage"
	case RecordTimerEvent:
		return "TimerEvent"
	case RecordClusterAction:
		return "ClusterAction"
	case RecordNewLeadershipTerm:
		return "NewLeadershipTermEvent"
	case RecordMembershipChange:
		return "MembershipChangeEvent"
	default:
		return "Unknown"
	}
}

// Record is the tagged union of everything the log carries. Exactly the
// fields relevant to Kind are populated; the rest are zero.
type Record struct {
	Kind             RecordKind
	LeadershipTermID int64
	TimestampMS      int64

	ClusterSessionID int64             // SessionOpen, SessionClose, IngressMessage
	CloseReason      types.CloseReason // SessionClose
	Payload          []byte            // IngressMessage

	CorrelationID int64 // TimerEvent

	Action types.ClusterAction // ClusterAction

	MaxLogPosition int64 // NewLeadershipTerm

	MembershipKind types.MembershipChangeKind // MembershipChange
	MemberID       types.MemberID             // MembershipChange
	Members        []types.ClusterMember      // MembershipChange, snapshot of the list after the change
}

// Encode serialises a Record to its wire form.
func Encode(r Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("logpub: encode: %w", err)
	}
	return b, nil
}

// Decode parses a Record previously produced by Encode.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("logpub: decode: %w", err)
	}
	return r, nil
}
