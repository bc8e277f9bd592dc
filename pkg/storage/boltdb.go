package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/clustercore/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecordingLog    = []byte("recording_log")
	bucketModuleSnapshots = []byte("module_snapshots")
)

// BoltStore implements Store using BoltDB, a single-file embedded
// database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the recording-log database
// under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "recording-log.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording log database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRecordingLog, bucketModuleSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func (s *BoltStore) AppendRecordingLogEntry(e types.RecordingLogEntry) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecordingLog)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = next - 1 // NextSequence is 1-based; we want 0-based entry numbers

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal recording log entry: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	return seq, err
}

func (s *BoltStore) LoadRecordingLog() ([]types.RecordingLogEntry, error) {
	var entries []types.RecordingLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecordingLog)
		return b.ForEach(func(k, v []byte) error {
			var e types.RecordingLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("failed to unmarshal recording log entry %x: %w", k, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) TruncateRecordingLogFrom(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecordingLog)
		c := b.Cursor()
		for k, _ := c.Seek(seqKey(seq)); k != nil; k, _ = c.Next() {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func moduleSnapshotKey(serviceID int32, position int64) []byte {
	return []byte(fmt.Sprintf("%d:%020d", serviceID, position))
}

func (s *BoltStore) SaveModuleSnapshot(serviceID int32, term, position int64, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModuleSnapshots)
		return b.Put(moduleSnapshotKey(serviceID, position), blob)
	})
}

func (s *BoltStore) LoadModuleSnapshot(serviceID int32, position int64) ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModuleSnapshots)
		v := b.Get(moduleSnapshotKey(serviceID, position))
		if v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	return blob, blob != nil, err
}
