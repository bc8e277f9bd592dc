package agent

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/clustercore/pkg/servicering"
	"github.com/cuemby/clustercore/pkg/session"
	"github.com/cuemby/clustercore/pkg/timer"
	"github.com/cuemby/clustercore/pkg/types"
)

// moduleSnapshotBlob is the consensus module's own restorable state,
// persisted as the snapshot blob tagged with service id -1.
type moduleSnapshotBlob struct {
	Sessions             []types.ClusterSession
	NextSessionID        int64
	NextServiceSessionID int64
	Timers               []timer.SnapshotEntry
	RingPending          [][]byte
	RingLoggedThrough    int64
	RingHasLogged        bool
	Members              []types.ClusterMember
}

// Recover runs the startup recovery sequence: derive the RecoveryPlan from
// the recording log, restore the module's own state from its latest
// snapshot (if any), and report whether a replay tail still needs to be
// consumed via election's LEADER_REPLAY/FOLLOWER_CATCHUP path.
func (a *Agent) Recover() (needsReplay bool, err error) {
	plan := a.recLog.Plan()
	a.leadershipTermID = plan.LastLeadershipTermID
	a.appliedPosition = plan.AppendedLogPosition

	if snap, ok := moduleSnapshotOf(plan.Snapshots); ok {
		blob, found, err := a.store.LoadModuleSnapshot(-1, snap.LogPosition)
		if err != nil {
			return false, fmt.Errorf("agent: load module snapshot: %w", err)
		}
		if found {
			if err := a.restoreFromSnapshot(blob); err != nil {
				return false, fmt.Errorf("agent: restore module snapshot: %w", err)
			}
		}

		if a.cfg.ClusterMembersIgnoreSnapshot {
			// Operator override: keep the statically configured member
			// list instead of whatever the snapshot restored.
		}

		// Any ClusterAction committed after this snapshot's log_position
		// (a SUSPEND the process never got to apply before crashing, say)
		// is still in the tail the election subprotocol's LEADER_REPLAY or
		// FOLLOWER_CATCHUP step replays through onReplayRecord once this
		// member rejoins; applyControlAction needs no separate call here.
		// A SUSPEND applied before the snapshot was taken is already
		// reflected in it: beginSnapshot only runs ActionSnapshot from
		// StateActive, so a restored snapshot is never itself "suspended".
	}

	if a.state == types.StateInit {
		// No prior control toggle to honor; entry into ACTIVE happens once
		// the election subprotocol (run by the caller's first DoWork ticks)
		// closes successfully.
	}

	return plan.HasReplay(), nil
}

// moduleSnapshotOf returns the consensus module's own snapshot entry
// (service id -1) from a RecoveryPlan's snapshot set, if present.
func moduleSnapshotOf(snapshots []types.SnapshotEntry) (types.SnapshotEntry, bool) {
	for _, s := range snapshots {
		if s.ServiceID == -1 {
			return s, true
		}
	}
	return types.SnapshotEntry{}, false
}

func (a *Agent) restoreFromSnapshot(blob []byte) error {
	var snap moduleSnapshotBlob
	if err := json.Unmarshal(blob, &snap); err != nil {
		return err
	}

	a.sessions = session.New()
	a.sessions.Restore(snap.Sessions, snap.NextSessionID, snap.NextServiceSessionID)

	a.timers = timer.New()
	a.timers.Restore(snap.Timers)

	a.ring = servicering.New()
	a.ring.Restore(snap.RingPending, snap.RingLoggedThrough, snap.RingHasLogged)

	if !a.cfg.ClusterMembersIgnoreSnapshot && len(snap.Members) > 0 {
		for _, m := range snap.Members {
			a.members.Add(m)
		}
	}
	return nil
}

// buildSnapshotBlob serialises the module's current restorable state, the
// counterpart to restoreFromSnapshot, persisted under the module's own
// service id (-1) by the snapshot coordinator.
func (a *Agent) buildSnapshotBlob() ([]byte, error) {
	sessions, nextSessionID, nextServiceSessionID := a.sessions.Snapshot()
	pending, loggedThrough, hasLogged := a.ring.Snapshot()

	memberPtrs := a.members.All()
	membersOut := make([]types.ClusterMember, len(memberPtrs))
	for i, m := range memberPtrs {
		membersOut[i] = m.Clone()
	}

	blob := moduleSnapshotBlob{
		Sessions:             sessions,
		NextSessionID:        nextSessionID,
		NextServiceSessionID: nextServiceSessionID,
		Timers:               a.timers.Snapshot(),
		RingPending:          pending,
		RingLoggedThrough:    loggedThrough,
		RingHasLogged:        hasLogged,
		Members:              membersOut,
	}
	return json.Marshal(blob)
}
