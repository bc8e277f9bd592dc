package main

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/clustercore/pkg/config"
	"github.com/cuemby/clustercore/pkg/types"
	"github.com/spf13/cobra"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect a cluster configuration file",
}

var clusterMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "List the members configured in a configuration file",
	RunE:  runClusterMembers,
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe TCP reachability of every configured member",
	RunE:  runClusterStatus,
}

func init() {
	clusterMembersCmd.Flags().String("config", "", "path to a YAML configuration file (required)")
	clusterStatusCmd.Flags().String("config", "", "path to a YAML configuration file (required)")
	clusterStatusCmd.Flags().Duration("timeout", 2*time.Second, "per-member dial timeout")

	clusterCmd.AddCommand(clusterMembersCmd)
	clusterCmd.AddCommand(clusterStatusCmd)
}

func loadMembersFromFlag(cmd *cobra.Command) (config.Config, []types.ClusterMember, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Config{}, nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	members, err := config.ParseClusterMembers(cfg.ClusterMembers)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, members, nil
}

func runClusterMembers(cmd *cobra.Command, _ []string) error {
	cfg, members, err := loadMembersFromFlag(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-24s %-24s %-24s\n", "ID", "CLIENT-FACING", "MEMBER-FACING", "LOG")
	for _, m := range members {
		note := ""
		if m.ID == cfg.AppointedLeaderID {
			note = "  (appointed leader)"
		}
		fmt.Printf("%-6d %-24s %-24s %-24s%s\n",
			m.ID, m.Endpoints.ClientFacing, m.Endpoints.MemberFacing, m.Endpoints.Log, note)
	}
	return nil
}

func runClusterStatus(cmd *cobra.Command, _ []string) error {
	_, members, err := loadMembersFromFlag(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	for _, m := range members {
		status := "unreachable"
		conn, dialErr := net.DialTimeout("tcp", m.Endpoints.MemberFacing, timeout)
		if dialErr == nil {
			status = "reachable"
			_ = conn.Close()
		}
		fmt.Printf("member %-4d %-24s %s\n", m.ID, m.Endpoints.MemberFacing, status)
	}
	return nil
}
