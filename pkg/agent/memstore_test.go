package agent

import "github.com/cuemby/clustercore/pkg/types"

// memStore is a bare in-memory storage.Store, standing in for BoltDB so
// agent tests never touch a file.
type memStore struct {
	entries   []types.RecordingLogEntry
	snapshots map[int32]map[int64][]byte
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[int32]map[int64][]byte)}
}

func (s *memStore) AppendRecordingLogEntry(e types.RecordingLogEntry) (uint64, error) {
	s.entries = append(s.entries, e)
	return uint64(len(s.entries) - 1), nil
}

func (s *memStore) LoadRecordingLog() ([]types.RecordingLogEntry, error) {
	return append([]types.RecordingLogEntry(nil), s.entries...), nil
}

func (s *memStore) TruncateRecordingLogFrom(seq uint64) error {
	if int(seq) < len(s.entries) {
		s.entries = s.entries[:seq]
	}
	return nil
}

func (s *memStore) SaveModuleSnapshot(serviceID int32, term, position int64, blob []byte) error {
	byPos, ok := s.snapshots[serviceID]
	if !ok {
		byPos = make(map[int64][]byte)
		s.snapshots[serviceID] = byPos
	}
	byPos[position] = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) LoadModuleSnapshot(serviceID int32, position int64) ([]byte, bool, error) {
	byPos, ok := s.snapshots[serviceID]
	if !ok {
		return nil, false, nil
	}
	blob, ok := byPos[position]
	return blob, ok, nil
}

func (s *memStore) Close() error { return nil }
