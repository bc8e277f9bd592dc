package recordinglog

import "github.com/cuemby/clustercore/pkg/types"

// DerivePlan scans recording log entries in append order and builds the
// RecoveryPlan a member uses to decide what to restore and what tail, if
// any, to replay:
//
//   - lastLeadershipTermID / appendedLogPosition come from the last TERM
//     entry seen.
//   - snapshots holds the most recent SNAPSHOT entry per service id (-1
//     for the module itself).
//   - logs holds every TERM entry strictly after the newest snapshot's
//     log_position — the tail a fresh member must replay after restoring
//     from that snapshot.
func DerivePlan(entries []types.RecordingLogEntry) types.RecoveryPlan {
	var plan types.RecoveryPlan
	latestByService := make(map[int32]types.SnapshotEntry)

	for _, e := range entries {
		switch e.Kind {
		case types.RecordingLogEntryTerm:
			plan.LastLeadershipTermID = e.Term.LeadershipTermID
			plan.AppendedLogPosition = e.Term.LogPosition
		case types.RecordingLogEntrySnapshot:
			cur, ok := latestByService[e.Snapshot.ServiceID]
			if !ok || e.Snapshot.LogPosition > cur.LogPosition {
				latestByService[e.Snapshot.ServiceID] = e.Snapshot
			}
		}
	}

	for _, s := range latestByService {
		plan.Snapshots = append(plan.Snapshots, s)
	}

	newestSnapshotPos := int64(-1)
	if newest, ok := plan.LatestSnapshot(); ok {
		newestSnapshotPos = newest.LogPosition
	}

	for _, e := range entries {
		if e.Kind != types.RecordingLogEntryTerm {
			continue
		}
		if e.Term.LogPosition > newestSnapshotPos {
			plan.Logs = append(plan.Logs, e.Term)
		}
	}

	return plan
}
