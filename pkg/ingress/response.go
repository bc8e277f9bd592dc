package ingress

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/clustercore/pkg/types"
)

// EventKind discriminates the events the leader sends back to a client on
// its response channel.
type EventKind uint8

const (
	// EventSessionEvent reports an admission outcome: OK, a
	// types.CloseReason on rejection, or a redirect.
	EventSessionEvent EventKind = iota
	EventChallenge
	EventNewLeader
)

// Event is the tagged union of every leader-to-client message.
type Event struct {
	Kind EventKind

	ClusterSessionID int64
	LeadershipTermID int64
	CorrelationID    int64

	// EventSessionEvent
	Accepted    bool
	CloseReason types.CloseReason
	LeaderID    types.MemberID // set on redirect/NewLeader

	// EventChallenge
	Challenge []byte
}

// EncodeEvent serialises an Event to its wire form.
func EncodeEvent(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ingress: encode event: %w", err)
	}
	return b, nil
}

// DecodeEvent parses an Event previously produced by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("ingress: decode event: %w", err)
	}
	return e, nil
}
