package recordinglog

import (
	"fmt"

	"github.com/cuemby/clustercore/pkg/storage"
	"github.com/cuemby/clustercore/pkg/types"
)

// Log is the in-memory, persisted-on-append view of the recording log. It
// keeps every entry cached so deriving a RecoveryPlan or answering
// "what's my latest snapshot" never needs to hit storage.
type Log struct {
	store   storage.Store
	entries []types.RecordingLogEntry
}

// Open loads every existing entry from store into memory.
func Open(store storage.Store) (*Log, error) {
	entries, err := store.LoadRecordingLog()
	if err != nil {
		return nil, fmt.Errorf("recordinglog: load: %w", err)
	}
	return &Log{store: store, entries: entries}, nil
}

// AppendTerm appends a TERM entry and returns that entry as appended.
func (l *Log) AppendTerm(e types.TermEntry) (types.TermEntry, error) {
	entry := types.RecordingLogEntry{Kind: types.RecordingLogEntryTerm, Term: e}
	if _, err := l.store.AppendRecordingLogEntry(entry); err != nil {
		return types.TermEntry{}, fmt.Errorf("recordinglog: append term: %w", err)
	}
	l.entries = append(l.entries, entry)
	return e, nil
}

// AppendSnapshot appends a SNAPSHOT entry.
func (l *Log) AppendSnapshot(e types.SnapshotEntry) error {
	entry := types.RecordingLogEntry{Kind: types.RecordingLogEntrySnapshot, Snapshot: e}
	if _, err := l.store.AppendRecordingLogEntry(entry); err != nil {
		return fmt.Errorf("recordinglog: append snapshot: %w", err)
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Entries returns every entry in append order. Callers must not mutate the
// returned slice.
func (l *Log) Entries() []types.RecordingLogEntry {
	return l.entries
}

// TruncateFrom drops every entry from index seq onward, in memory and in
// storage, used when a new leader's term entry invalidates a divergent
// tail a prior leader wrote but never committed.
func (l *Log) TruncateFrom(seq uint64) error {
	if err := l.store.TruncateRecordingLogFrom(seq); err != nil {
		return fmt.Errorf("recordinglog: truncate: %w", err)
	}
	if int(seq) < len(l.entries) {
		l.entries = l.entries[:seq]
	}
	return nil
}

// Plan derives the current RecoveryPlan from the cached entries.
func (l *Log) Plan() types.RecoveryPlan {
	return DerivePlan(l.entries)
}
