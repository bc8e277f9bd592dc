package ingress

import (
	"encoding/json"
	"fmt"
)

// FrameKind discriminates the frame kinds a client sends the leader.
type FrameKind uint8

const (
	FrameSessionConnect FrameKind = iota
	FrameSessionClose
	FrameIngressMessage
	FrameSessionKeepAlive
	FrameChallengeResponse
)

// Frame is the tagged union of every client-to-leader message.
type Frame struct {
	Kind FrameKind

	// FrameSessionConnect
	CorrelationID    int64
	ResponseChannel  string
	ResponseStreamID int32
	VersionMajor     int32
	VersionMinor     int32
	Credentials      []byte

	// FrameSessionClose, FrameIngressMessage, FrameSessionKeepAlive,
	// FrameChallengeResponse
	ClusterSessionID int64
	LeadershipTermID int64

	// FrameIngressMessage
	Payload []byte

	// FrameChallengeResponse
	ChallengeResponse []byte
}

// Encode serialises a Frame to its wire form.
func Encode(f Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("ingress: encode: %w", err)
	}
	return b, nil
}

// Decode parses a Frame previously produced by Encode.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("ingress: decode: %w", err)
	}
	return f, nil
}
