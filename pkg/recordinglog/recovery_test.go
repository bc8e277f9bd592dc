package recordinglog

import (
	"testing"

	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func termEntry(termID, base, pos int64) types.RecordingLogEntry {
	return types.RecordingLogEntry{Kind: types.RecordingLogEntryTerm, Term: types.TermEntry{
		LeadershipTermID: termID, TermBaseLogPos: base, LogPosition: pos,
	}}
}

func snapshotEntry(serviceID int32, base, pos int64) types.RecordingLogEntry {
	return types.RecordingLogEntry{Kind: types.RecordingLogEntrySnapshot, Snapshot: types.SnapshotEntry{
		TermBaseLogPos: base, LogPosition: pos, ServiceID: serviceID,
	}}
}

func TestDerivePlanEmptyLog(t *testing.T) {
	plan := DerivePlan(nil)
	assert.Equal(t, int64(0), plan.LastLeadershipTermID)
	assert.Empty(t, plan.Snapshots)
	assert.Empty(t, plan.Logs)
}

func TestDerivePlanTracksLatestTerm(t *testing.T) {
	entries := []types.RecordingLogEntry{
		termEntry(1, 0, 100),
		termEntry(2, 100, 250),
	}
	plan := DerivePlan(entries)
	assert.Equal(t, int64(2), plan.LastLeadershipTermID)
	assert.Equal(t, int64(250), plan.AppendedLogPosition)
}

func TestDerivePlanKeepsLatestSnapshotPerService(t *testing.T) {
	entries := []types.RecordingLogEntry{
		snapshotEntry(-1, 0, 100),
		snapshotEntry(0, 0, 100),
		snapshotEntry(-1, 200, 300),
		snapshotEntry(0, 200, 300),
	}
	plan := DerivePlan(entries)
	assert.Len(t, plan.Snapshots, 2)
	best, ok := plan.LatestSnapshot()
	assert.True(t, ok)
	assert.Equal(t, int64(300), best.LogPosition)
}

func TestDerivePlanTailOnlyCoversPostSnapshotTerms(t *testing.T) {
	entries := []types.RecordingLogEntry{
		termEntry(1, 0, 100),
		snapshotEntry(-1, 0, 100),
		termEntry(2, 100, 250),
		termEntry(3, 250, 400),
	}
	plan := DerivePlan(entries)
	assert.Len(t, plan.Logs, 2)
	assert.True(t, plan.HasReplay())
}
