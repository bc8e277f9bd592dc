package agent

import (
	"github.com/cuemby/clustercore/pkg/events"
	"github.com/cuemby/clustercore/pkg/metrics"
	"github.com/cuemby/clustercore/pkg/recordinglog"
	"github.com/cuemby/clustercore/pkg/serviceproxy"
	"github.com/cuemby/clustercore/pkg/types"
)

// beginSnapshot enters the SNAPSHOT state on every member, leader or
// follower: it saves the module's own snapshot blob at the current applied
// position, registers it with a fresh Coordinator, and sends every hosted
// service a join-log message for that position. It does not wait for acks;
// snapshotTick completes the snapshot once they are all in.
func (a *Agent) beginSnapshot(forShutdown bool) {
	a.state = types.StateSnapshot
	expectedAck := a.appliedPosition

	a.snapCoord = recordinglog.NewCoordinator(a.leadershipTermID, a.leadershipTermID, expectedAck, len(a.proxy.ServiceIDs()), forShutdown)

	moduleRecordingID := a.appliedPosition
	if blob, err := a.buildSnapshotBlob(); err == nil {
		_ = a.store.SaveModuleSnapshot(-1, a.leadershipTermID, expectedAck, blob)
	}
	a.snapCoord.SetModuleRecording(moduleRecordingID)

	_ = a.proxy.Broadcast(serviceproxy.ModuleMessage{
		Kind: serviceproxy.ModuleJoinLog, LogPosition: expectedAck,
	})
}

// snapshotTick advances a running snapshot: once every ack is in, it
// transitions the member onward. Every member — leader and follower alike —
// collects its own attached services' acks (onServiceMessage's ServiceAck
// handling is unconditional on role) and must be able to leave SNAPSHOT on
// its own; only the recording-log entry itself, the durable trail a
// recovery plan is derived from, is the leader's to write.
func (a *Agent) snapshotTick(nowMS int64) int {
	if a.snapCoord == nil {
		return 0
	}
	if !a.snapCoord.Ready() {
		return 0
	}

	if a.role == types.RoleLeader {
		entries := a.snapCoord.BuildEntries(nowMS)
		for _, e := range entries {
			if err := a.recLog.AppendSnapshot(e); err != nil {
				a.noteError(false)
				return 0
			}
		}
	}
	a.snapCoord.Finish()
	metrics.SnapshotsTotal.Inc()
	a.events.Publish(&events.Event{
		Type: events.EventSnapshotTaken, MemberID: a.members.SelfID(), Term: a.leadershipTermID,
		Message: "module snapshot taken",
	})

	forShutdown := a.snapCoord.ForShutdown()
	a.snapCoord = nil

	if forShutdown {
		a.beginTermination(a.appliedPosition)
	} else {
		a.state = types.StateActive
	}
	return 1
}
