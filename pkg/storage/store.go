package storage

import "github.com/cuemby/clustercore/pkg/types"

// Store persists the pieces of agent state that must survive a restart:
// the recording log itself, and the consensus-module's own snapshot blobs
// (member registry, session table, timer wheel, pending service-message
// ring) taken at a (term, position) the recording log also references.
//
// The concrete implementation uses one bucket per entity with
// JSON-encoded values, backed by BoltDB.
type Store interface {
	// AppendRecordingLogEntry appends one entry and returns its sequence
	// number (0-based, monotonically increasing).
	AppendRecordingLogEntry(e types.RecordingLogEntry) (uint64, error)

	// LoadRecordingLog returns every entry in append order.
	LoadRecordingLog() ([]types.RecordingLogEntry, error)

	// TruncateRecordingLogFrom drops every entry with sequence number >= seq,
	// used when a term is abandoned before it could commit anything.
	TruncateRecordingLogFrom(seq uint64) error

	// SaveModuleSnapshot persists an opaque snapshot blob for the given
	// service id (-1 for the consensus module itself) at (term, position).
	SaveModuleSnapshot(serviceID int32, term, position int64, blob []byte) error

	// LoadModuleSnapshot loads the blob saved by SaveModuleSnapshot for the
	// given service id at the given position, or (nil, false) if absent.
	LoadModuleSnapshot(serviceID int32, position int64) ([]byte, bool, error)

	// Close releases the underlying database handle.
	Close() error
}
