package main

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/clustercore/pkg/agent"
	"github.com/cuemby/clustercore/pkg/auth"
	"github.com/cuemby/clustercore/pkg/config"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeMemberConfig() []types.ClusterMember {
	s := "0,127.0.0.1:9000,127.0.0.1:9001,127.0.0.1:9002,127.0.0.1:9003,127.0.0.1:9004|" +
		"1,127.0.0.1:9010,127.0.0.1:9011,127.0.0.1:9012,127.0.0.1:9013,127.0.0.1:9014|" +
		"2,127.0.0.1:9020,127.0.0.1:9021,127.0.0.1:9022,127.0.0.1:9023,127.0.0.1:9024"
	members, err := config.ParseClusterMembers(s)
	if err != nil {
		panic(err)
	}
	return members
}

func TestFindMember(t *testing.T) {
	members := threeMemberConfig()

	m, ok := findMember(members, types.MemberID(1))
	require.True(t, ok)
	assert.Equal(t, types.MemberID(1), m.ID)

	_, ok = findMember(members, types.MemberID(99))
	assert.False(t, ok)
}

// memStore is a minimal in-memory storage.Store fake so this package's
// tests don't need a real BoltDB file on disk, mirroring pkg/agent's own
// test fake.
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

// freeAddr reserves an ephemeral loopback port and releases it immediately,
// so a member's configured endpoints can be known before buildTransportDeps
// binds its own listeners to them.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestBuildTransportDepsSingleMemberLoopsBackItsOwnAppend(t *testing.T) {
	self := types.ClusterMember{
		ID: 0,
		Endpoints: types.MemberEndpoints{
			ClientFacing: freeAddr(t),
			MemberFacing: freeAddr(t),
			Log:          freeAddr(t),
		},
	}
	deps, closeFn, err := buildTransportDeps(self, []types.ClusterMember{self})
	require.NoError(t, err)
	defer closeFn()

	require.NotNil(t, deps.LogPub)
	_, err = deps.LogPub.Offer([]byte("record"))
	require.NoError(t, err)

	var got [][]byte
	deps.LogSub.Poll(func(f transport.Fragment) { got = append(got, f.Data) }, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "record", string(got[0]))
}

// TestClusterConvergesOverRealTCP wires two agents over real loopback TCP
// connections (the same construction cmd/clustercore's start command uses)
// and drives them through bootstrap election, the end-to-end counterpart to
// pkg/agent's in-process cluster test.
func TestClusterConvergesOverRealTCP(t *testing.T) {
	members := []types.ClusterMember{
		{ID: 0, Endpoints: types.MemberEndpoints{ClientFacing: freeAddr(t), MemberFacing: freeAddr(t), Log: freeAddr(t)}},
		{ID: 1, Endpoints: types.MemberEndpoints{ClientFacing: freeAddr(t), MemberFacing: freeAddr(t), Log: freeAddr(t)}},
	}

	var agents []*agent.Agent
	for _, m := range members {
		deps, closeFn, err := buildTransportDeps(m, members)
		require.NoError(t, err)
		t.Cleanup(closeFn)

		cfg := config.Default()
		cfg.ClusterMemberID = m.ID
		cfg.ElectionTimeout = 60 * time.Second
		deps.Config = cfg
		deps.Store = newMemStore()
		deps.Auth = auth.NewSharedSecretAuthenticator(nil)

		a, err := agent.New(deps)
		require.NoError(t, err)
		_, err = a.Recover()
		require.NoError(t, err)
		agents = append(agents, a)
	}

	var nowMS int64
	for i := 0; i < 2000; i++ {
		nowMS++
		for _, a := range agents {
			a.DoWork(nowMS)
		}
		time.Sleep(time.Millisecond)
	}

	var leaders int
	for _, a := range agents {
		assert.Equal(t, types.StateActive, a.State())
		if a.Role() == types.RoleLeader {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders, "exactly one member must become leader over real TCP")
}
