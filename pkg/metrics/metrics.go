package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LeadershipTermID is the current leadership_term_id known to this member.
	LeadershipTermID = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_leadership_term_id",
		Help: "Current leadership term id known to this member",
	})

	// IsLeader is 1 when this member believes it is the leader of the
	// current term, 0 otherwise.
	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_is_leader",
		Help: "Whether this member is the leader of the current term (1) or a follower (0)",
	})

	// CommitPosition is the highest log position known committed on a quorum.
	CommitPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_commit_position",
		Help: "Highest log position committed across a quorum of members",
	})

	// AppendedPosition is the highest log position appended locally.
	AppendedPosition = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_appended_position",
		Help: "Highest log position appended by this member",
	})

	// ElectionsTotal counts elections entered, by outcome.
	ElectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consensus_elections_total",
		Help: "Total number of elections entered, by terminal outcome",
	}, []string{"outcome"})

	// SessionsTotal tracks open client sessions by state.
	SessionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consensus_sessions_total",
		Help: "Number of client sessions tracked by this member, by state",
	}, []string{"state"})

	// SessionTimeoutsTotal counts sessions closed due to inactivity.
	SessionTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consensus_session_timeouts_total",
		Help: "Total number of client sessions closed due to session_timeout",
	})

	// TimersPending tracks the current size of the timer wheel.
	TimersPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_timers_pending",
		Help: "Number of scheduled timers awaiting a deadline",
	})

	// ServiceMessageRingDepth tracks the pending service-message ring occupancy.
	ServiceMessageRingDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consensus_service_message_ring_depth",
		Help: "Number of service-originated messages awaiting leader append",
	})

	// SnapshotsTotal counts completed snapshot cycles.
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consensus_snapshots_total",
		Help: "Total number of snapshots completed by this member",
	})

	// ErrorsTotal counts errors routed through the counted error handler, by severity.
	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consensus_errors_total",
		Help: "Total number of errors handled, by severity (transient/fatal)",
	}, []string{"severity"})

	// WorkCount is a histogram of do_work(now) return values, used the way
	// the conductor's idle strategy would: low values mean back off.
	WorkCount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "consensus_do_work_count",
		Help:    "Distribution of work units processed per do_work(now) invocation",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
	})
)

func init() {
	prometheus.MustRegister(
		LeadershipTermID,
		IsLeader,
		CommitPosition,
		AppendedPosition,
		ElectionsTotal,
		SessionsTotal,
		SessionTimeoutsTotal,
		TimersPending,
		ServiceMessageRingDepth,
		SnapshotsTotal,
		ErrorsTotal,
		WorkCount,
	)
}

// Handler returns the Prometheus scrape handler, for mounting on an
// operator-facing HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
