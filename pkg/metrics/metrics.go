// Package metrics exposes lockring's Prometheus metrics catalog and a
// Timer helper for recording operation latency into histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lock metrics
	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockring_locks_held",
			Help: "Number of locks currently held",
		},
	)

	LockOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockring_lock_operations_total",
			Help: "Total number of lock operations by op and status",
		},
		[]string{"op", "status"},
	)

	LockOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockring_lock_operation_duration_seconds",
			Help:    "Time taken to complete a lock operation, including Raft commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	LockExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockring_lock_expirations_total",
			Help: "Total number of locks that were lazily reclaimed after expiry",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockring_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockring_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockring_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lockring_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockring_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockring_raft_commit_duration_seconds",
			Help:    "Time taken to commit a Raft log entry in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LeadershipChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lockring_leadership_changes_total",
			Help: "Total number of times this node observed a leadership change",
		},
	)

	// Cross-region quorum metrics
	QuorumProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockring_quorum_proposals_total",
			Help: "Total number of cross-region quorum proposals by outcome",
		},
		[]string{"outcome"},
	)

	QuorumProposalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lockring_quorum_proposal_duration_seconds",
			Help:    "Time taken to collect a cross-region quorum",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockring_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lockring_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(LocksHeld)
	prometheus.MustRegister(LockOperationsTotal)
	prometheus.MustRegister(LockOperationDuration)
	prometheus.MustRegister(LockExpirationsTotal)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)
	prometheus.MustRegister(LeadershipChangesTotal)

	prometheus.MustRegister(QuorumProposalsTotal)
	prometheus.MustRegister(QuorumProposalDuration)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
