package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cuemby/clustercore/pkg/agent"
	"github.com/cuemby/clustercore/pkg/auth"
	"github.com/cuemby/clustercore/pkg/config"
	"github.com/cuemby/clustercore/pkg/log"
	"github.com/cuemby/clustercore/pkg/metrics"
	"github.com/cuemby/clustercore/pkg/storage"
	"github.com/cuemby/clustercore/pkg/transport"
	"github.com/cuemby/clustercore/pkg/types"
	"github.com/spf13/cobra"
)

const (
	peerStreamID    int32 = 1
	logStreamID     int32 = 1
	ingressStreamID int32 = 1
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start this member's consensus agent",
	Long: `Start opens this member's recording log, dials a TCP connection to
every peer it is configured with, listens for client sessions on its
client-facing endpoint, and drives do_work(now) until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("config", "", "path to a YAML configuration file (required)")
	startCmd.Flags().String("data-dir", "./data", "directory for the recording log database")
	startCmd.Flags().String("cluster-id", "clustercore", "cluster identifier the shared session secret is derived from")
	startCmd.Flags().String("metrics-addr", "", "address to serve Prometheus /metrics on (empty disables)")
}

func runStart(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return fmt.Errorf("start: --config is required")
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	clusterID, _ := cmd.Flags().GetString("cluster-id")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	members, err := config.ParseClusterMembers(cfg.ClusterMembers)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	self, ok := findMember(members, cfg.ClusterMemberID)
	if !ok {
		return fmt.Errorf("start: cluster_member_id %d not present in cluster_members", cfg.ClusterMemberID)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	deps, closeTransports, err := buildTransportDeps(self, members)
	if err != nil {
		return err
	}
	defer closeTransports()

	deps.Config = cfg
	deps.Store = store
	deps.Auth = auth.NewSharedSecretAuthenticator(auth.DeriveClusterSecret(clusterID))

	a, err := agent.New(deps)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := a.Recover(); err != nil {
		return fmt.Errorf("start: recover: %w", err)
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			_ = http.ListenAndServe(metricsAddr, mux)
		}()
	}

	logger := log.WithComponent("clustercore").With().Int32("member_id", int32(self.ID)).Logger()

	sub := a.Events().Subscribe()
	go func() {
		for ev := range sub {
			logger.Info().Str("event", string(ev.Type)).Int64("term", ev.Term).Msg(ev.Message)
		}
	}()
	defer a.Events().Unsubscribe(sub)

	logger.Info().
		Str("client_facing", self.Endpoints.ClientFacing).
		Str("member_facing", self.Endpoints.MemberFacing).
		Msg("agent starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	runLoop(ctx, a)

	if err := a.Close(); err != nil {
		logger.Warn().Err(err).Msg("close agent")
	}
	logger.Info().Msg("agent stopped")
	return nil
}

// buildTransportDeps wires three independent TCPTransports (member-facing
// peer traffic, replicated-log traffic, and client ingress), each bound to
// one of self's endpoints, and a FanOutPublication per outbound stream so
// the agent's single Publication handle still reaches every peer the way
// it would via the in-process Bus's implicit multicast.
func buildTransportDeps(self types.ClusterMember, members []types.ClusterMember) (agent.Deps, func(), error) {
	peerTP, err := transport.NewTCPTransport(self.Endpoints.MemberFacing)
	if err != nil {
		return agent.Deps{}, nil, fmt.Errorf("start: peer transport: %w", err)
	}
	logTP, err := transport.NewTCPTransport(self.Endpoints.Log)
	if err != nil {
		return agent.Deps{}, nil, fmt.Errorf("start: log transport: %w", err)
	}
	ingressTP, err := transport.NewTCPTransport(self.Endpoints.ClientFacing)
	if err != nil {
		return agent.Deps{}, nil, fmt.Errorf("start: ingress transport: %w", err)
	}
	closeAll := func() {
		_ = peerTP.Close()
		_ = logTP.Close()
		_ = ingressTP.Close()
	}

	peerSub, err := peerTP.AddSubscription(self.Endpoints.MemberFacing, peerStreamID, nil)
	if err != nil {
		closeAll()
		return agent.Deps{}, nil, err
	}
	logSub, err := logTP.AddSubscription(self.Endpoints.Log, logStreamID, nil)
	if err != nil {
		closeAll()
		return agent.Deps{}, nil, err
	}
	ingressSub, err := ingressTP.AddSubscription(self.Endpoints.ClientFacing, ingressStreamID, nil)
	if err != nil {
		closeAll()
		return agent.Deps{}, nil, err
	}

	// The log topic needs the leader's own append looped back into its own
	// adapter: see TCPTransport.Loopback.
	logPubs := []transport.Publication{logTP.Loopback(logStreamID)}
	var peerPubs []transport.Publication
	for _, m := range members {
		if m.ID == self.ID {
			continue
		}
		pp, err := peerTP.AddPublication(m.Endpoints.MemberFacing, peerStreamID)
		if err != nil {
			closeAll()
			return agent.Deps{}, nil, err
		}
		peerPubs = append(peerPubs, pp)

		lp, err := logTP.AddPublication(m.Endpoints.Log, logStreamID)
		if err != nil {
			closeAll()
			return agent.Deps{}, nil, err
		}
		logPubs = append(logPubs, lp)
	}

	deps := agent.Deps{
		Transport:        peerTP,
		IngressTransport: ingressTP,
		PeerPub:          transport.NewFanOutPublication(peerPubs...),
		PeerSub:          peerSub,
		LogPub:           transport.NewFanOutPublication(logPubs...),
		LogSub:           logSub,
		IngressSub:       ingressSub,
	}
	return deps, closeAll, nil
}

func findMember(members []types.ClusterMember, id types.MemberID) (types.ClusterMember, bool) {
	for _, m := range members {
		if m.ID == id {
			return m, true
		}
	}
	return types.ClusterMember{}, false
}

// runLoop drives do_work(now) once per cooperative tick, backing off
// through three stages when nothing was done: a brief scheduler yield,
// then short sleeps, then longer ones, rather than either busy-spinning a
// core or sleeping a fixed interval regardless of load.
func runLoop(ctx context.Context, a *agent.Agent) {
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		work := a.DoWork(time.Now().UnixMilli())
		if work > 0 {
			idle = 0
			continue
		}

		idle++
		switch {
		case idle < 100:
			runtime.Gosched()
		case idle < 1000:
			time.Sleep(time.Millisecond)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
