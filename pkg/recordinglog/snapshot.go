package recordinglog

import "github.com/cuemby/clustercore/pkg/types"

// SnapshotPhase is where a Coordinator is in the snapshot sequence.
type SnapshotPhase int

const (
	// SnapshotOpeningRecording covers opening the exclusive snapshot
	// publication, starting archival recording, and writing the module's
	// own state as the snapshot header.
	SnapshotOpeningRecording SnapshotPhase = iota
	// SnapshotAwaitingServiceAcks is entered once every hosted service has
	// been asked to snapshot in parallel; the coordinator waits for each
	// to ack with its own recording id.
	SnapshotAwaitingServiceAcks
	// SnapshotReady means every ack matched expectedAckPosition and the
	// module is ready to append recording log entries.
	SnapshotReady
	// SnapshotComplete means the entries have been appended and the
	// recovery plan rebuilt.
	SnapshotComplete
)

// Coordinator drives one full-cluster snapshot through to completion: the
// module's own recording, then a rendezvous with every hosted service's
// ack, then recording log entries for all of them plus a rebuilt
// RecoveryPlan.
type Coordinator struct {
	phase SnapshotPhase

	leadershipTermID    int64
	termBaseLogPos      int64
	expectedAckPosition int64
	forShutdown         bool

	moduleRecordingID int64
	moduleReady       bool

	serviceCount int
	serviceAcks  map[int32]int64
}

// NewCoordinator starts a coordinator for a snapshot at expectedAckPosition
// (the log position every participant must have applied through before
// its ack counts), covering serviceCount hosted services. forShutdown
// marks this as the snapshot half of a SHUTDOWN rather than a standalone
// control-toggle snapshot.
func NewCoordinator(leadershipTermID, termBaseLogPos, expectedAckPosition int64, serviceCount int, forShutdown bool) *Coordinator {
	return &Coordinator{
		leadershipTermID:    leadershipTermID,
		termBaseLogPos:      termBaseLogPos,
		expectedAckPosition: expectedAckPosition,
		forShutdown:         forShutdown,
		serviceCount:        serviceCount,
		serviceAcks:         make(map[int32]int64),
	}
}

// Phase reports the coordinator's current step.
func (c *Coordinator) Phase() SnapshotPhase {
	return c.phase
}

// ForShutdown reports whether this snapshot is the prelude to a SHUTDOWN.
func (c *Coordinator) ForShutdown() bool {
	return c.forShutdown
}

// SetModuleRecording records the module's own snapshot recording id, the
// one tagged with service id -1, and advances to awaiting service acks, or
// straight to ready when there are no service acks to wait for.
func (c *Coordinator) SetModuleRecording(recordingID int64) {
	c.moduleRecordingID = recordingID
	c.moduleReady = true
	c.phase = SnapshotAwaitingServiceAcks
	if c.allAcksIn() {
		c.phase = SnapshotReady
	}
}

// RecordAck registers a hosted service's snapshot ack. ackPosition must
// equal expectedAckPosition or the ack is rejected as stale/premature.
func (c *Coordinator) RecordAck(serviceID int32, ackPosition, recordingID int64) bool {
	if ackPosition != c.expectedAckPosition {
		return false
	}
	c.serviceAcks[serviceID] = recordingID
	if c.allAcksIn() {
		c.phase = SnapshotReady
	}
	return true
}

func (c *Coordinator) allAcksIn() bool {
	return c.moduleReady && len(c.serviceAcks) >= c.serviceCount
}

// Ready reports whether every ack is in and entries can be appended.
func (c *Coordinator) Ready() bool {
	return c.phase == SnapshotReady
}

// BuildEntries returns the SnapshotEntry for the module plus one per
// hosted service, all stamped with timestampMS, ready to append to the
// recording log. Call only once Ready reports true.
func (c *Coordinator) BuildEntries(timestampMS int64) []types.SnapshotEntry {
	entries := make([]types.SnapshotEntry, 0, c.serviceCount+1)
	entries = append(entries, types.SnapshotEntry{
		LeadershipTermID: c.leadershipTermID,
		TermBaseLogPos:   c.termBaseLogPos,
		LogPosition:      c.expectedAckPosition,
		TimestampMS:      timestampMS,
		ServiceID:        -1,
		RecordingID:      c.moduleRecordingID,
	})
	for serviceID, recordingID := range c.serviceAcks {
		entries = append(entries, types.SnapshotEntry{
			LeadershipTermID: c.leadershipTermID,
			TermBaseLogPos:   c.termBaseLogPos,
			LogPosition:      c.expectedAckPosition,
			TimestampMS:      timestampMS,
			ServiceID:        serviceID,
			RecordingID:      recordingID,
		})
	}
	return entries
}

// Finish marks the coordinator done once its entries have been appended.
func (c *Coordinator) Finish() {
	c.phase = SnapshotComplete
}
