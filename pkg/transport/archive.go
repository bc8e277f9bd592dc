package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RecordingExtent describes the durable span of a recording.
type RecordingExtent struct {
	RecordingID    int64
	InitialTermID  int32
	StartPosition  int64
	StopPosition   int64 // -1 while still recording
}

// Archive is the log-recording archive service consumed by the module
//. It records a live stream to durable storage and can later
// replay a span of it to a fresh subscription, independent of whether the
// original publisher is still alive.
type Archive interface {
	StartRecording(channel string, streamID int32, source string) (recordingID int64, err error)
	ExtendRecording(recordingID int64, channel string, streamID int32) error
	StopRecording(recordingID int64) error

	// StartReplay begins replaying length bytes starting at position from
	// recordingID onto channel/streamID, returning a replay session id the
	// caller correlates against image-available/unavailable callbacks.
	StartReplay(recordingID int64, position, length int64, channel string, streamID int32) (sessionID int64, err error)

	TruncateRecording(recordingID int64, position int64) error
	GetStopPosition(recordingID int64) (int64, error)
	ListRecording(recordingID int64) (RecordingExtent, error)
}

// MemoryArchive is an in-process Archive: each recording is an append-only
// byte buffer plus the frame boundaries appended to it, enough to back the
// in-process transport for tests and single-box deployments. A durable,
// disk-backed archive is an external collaborator and is not reimplemented
// here.
type MemoryArchive struct {
	mu         sync.Mutex
	nextID     int64
	recordings map[int64]*memoryRecording
	bus        *Bus
}

type memoryRecording struct {
	extent RecordingExtent
	frames [][]byte
	tag    string
}

// NewMemoryArchive creates an empty archive that replays onto bus.
func NewMemoryArchive(bus *Bus) *MemoryArchive {
	return &MemoryArchive{
		recordings: make(map[int64]*memoryRecording),
		bus:        bus,
	}
}

func (a *MemoryArchive) StartRecording(channel string, streamID int32, source string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.recordings[id] = &memoryRecording{
		extent: RecordingExtent{RecordingID: id, StopPosition: -1},
		tag:    uuid.NewString(),
	}
	return id, nil
}

func (a *MemoryArchive) ExtendRecording(recordingID int64, channel string, streamID int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.recordings[recordingID]; !ok {
		return fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	return nil
}

// Append records one frame at the current stop position, advancing it by
// the frame's aligned length. The agent's leader-side append path calls
// this as a side effect of offering onto the log publication so the
// archive's view of a recording stays consistent with the transport's.
func (a *MemoryArchive) Append(recordingID int64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.recordings[recordingID]
	if !ok {
		return fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	rec.frames = append(rec.frames, append([]byte(nil), data...))
	rec.extent.StopPosition += alignedLen(len(data))
	return nil
}

func (a *MemoryArchive) StopRecording(recordingID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.recordings[recordingID]; !ok {
		return fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	return nil
}

func (a *MemoryArchive) StartReplay(recordingID int64, position, length int64, channel string, streamID int32) (int64, error) {
	a.mu.Lock()
	rec, ok := a.recordings[recordingID]
	a.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("archive: unknown recording %d", recordingID)
	}

	pub, err := NewInProcessTransport(a.bus).AddPublication(channel, streamID)
	if err != nil {
		return 0, fmt.Errorf("archive: failed to open replay publication: %w", err)
	}

	var replayed int64
	skip := position
	for _, f := range rec.frames {
		fl := alignedLen(len(f))
		if skip > 0 {
			skip -= fl
			continue
		}
		if length >= 0 && replayed >= length {
			break
		}
		if _, err := pub.Offer(f); err != nil {
			return 0, fmt.Errorf("archive: replay offer failed: %w", err)
		}
		replayed += fl
	}

	a.mu.Lock()
	a.nextID++
	sessionID := a.nextID
	a.mu.Unlock()
	return sessionID, nil
}

func (a *MemoryArchive) TruncateRecording(recordingID int64, position int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.recordings[recordingID]
	if !ok {
		return fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	rec.extent.StopPosition = position
	return nil
}

func (a *MemoryArchive) GetStopPosition(recordingID int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.recordings[recordingID]
	if !ok {
		return 0, fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	return rec.extent.StopPosition, nil
}

func (a *MemoryArchive) ListRecording(recordingID int64) (RecordingExtent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.recordings[recordingID]
	if !ok {
		return RecordingExtent{}, fmt.Errorf("archive: unknown recording %d", recordingID)
	}
	return rec.extent, nil
}
