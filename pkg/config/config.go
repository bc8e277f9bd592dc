package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/clustercore/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config holds the cluster's recognised configuration options.
type Config struct {
	SessionTimeout         time.Duration `yaml:"session_timeout_ns"`
	LeaderHeartbeatInterval time.Duration `yaml:"leader_heartbeat_interval_ns"`
	LeaderHeartbeatTimeout time.Duration `yaml:"leader_heartbeat_timeout_ns"`
	ServiceHeartbeatTimeout time.Duration `yaml:"service_heartbeat_timeout_ns"`
	TerminationTimeout     time.Duration `yaml:"termination_timeout_ns"`
	MaxConcurrentSessions  int           `yaml:"max_concurrent_sessions"`
	ServiceCount           int           `yaml:"service_count"`
	ClusterMemberID        types.MemberID `yaml:"cluster_member_id"`
	AppointedLeaderID      types.MemberID `yaml:"appointed_leader_id"`
	ClusterMembers         string        `yaml:"cluster_members"`
	ClusterMembersStatusEndpoints string `yaml:"cluster_members_status_endpoints"`
	ClusterMembersIgnoreSnapshot  bool   `yaml:"cluster_members_ignore_snapshot"`

	// ElectionTimeout bounds the overall election subprotocol.
	ElectionTimeout time.Duration `yaml:"election_timeout_ns"`

	// MessageLimit bounds per-tick emission of appends/heartbeats.
	MessageLimit int `yaml:"message_limit"`
}

// Default returns conservative timeouts tuned for a LAN deployment.
func Default() Config {
	return Config{
		SessionTimeout:          10 * time.Second,
		LeaderHeartbeatInterval: 200 * time.Millisecond,
		LeaderHeartbeatTimeout:  2 * time.Second,
		ServiceHeartbeatTimeout: 2 * time.Second,
		TerminationTimeout:      10 * time.Second,
		MaxConcurrentSessions:   10,
		ServiceCount:            1,
		AppointedLeaderID:       types.NoLeader,
		ElectionTimeout:         5 * time.Second,
		MessageLimit:            20,
	}
}

// LoadFile reads filename as YAML and merges it onto Default(): a field left
// unset (or absent) in the file keeps its default rather than zeroing out.
func LoadFile(filename string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", filename, err)
	}
	if cfg.ClusterMembers != "" {
		if _, err := ParseClusterMembers(cfg.ClusterMembers); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", filename, err)
		}
	}
	return cfg, nil
}

// ParseClusterMembers parses the "|"-separated cluster member string format:
//
//	id,clientFacing,memberFacing,log,transfer,archive|id,...
func ParseClusterMembers(s string) ([]types.ClusterMember, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, "|")
	members := make([]types.ClusterMember, 0, len(parts))
	for _, part := range parts {
		m, err := parseOneMember(part)
		if err != nil {
			return nil, fmt.Errorf("invalid cluster member %q: %w", part, err)
		}
		members = append(members, m)
	}
	return members, nil
}

func parseOneMember(s string) (types.ClusterMember, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 6 {
		return types.ClusterMember{}, fmt.Errorf("expected 6 comma-separated fields, got %d", len(fields))
	}

	id, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return types.ClusterMember{}, fmt.Errorf("invalid member id: %w", err)
	}

	return types.ClusterMember{
		ID: types.MemberID(id),
		Endpoints: types.MemberEndpoints{
			ClientFacing: fields[1],
			MemberFacing: fields[2],
			Log:          fields[3],
			Transfer:     fields[4],
			Archive:      fields[5],
		},
	}, nil
}

// EncodeClusterMembers is the inverse of ParseClusterMembers, used when a
// member advertises its current configuration to a dynamic joiner.
func EncodeClusterMembers(members []types.ClusterMember) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		parts = append(parts, fmt.Sprintf("%d,%s,%s,%s,%s,%s",
			m.ID, m.Endpoints.ClientFacing, m.Endpoints.MemberFacing,
			m.Endpoints.Log, m.Endpoints.Transfer, m.Endpoints.Archive))
	}
	return strings.Join(parts, "|")
}

// ParseStatusEndpoints parses cluster_members_status_endpoints, a simpler
// "|"-separated list of bare member-facing addresses used only to bootstrap
// a dynamic join: the joiner does not yet know member
// ids or the other four endpoints of each listed member.
func ParseStatusEndpoints(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}
