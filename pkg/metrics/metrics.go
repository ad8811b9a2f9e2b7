package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tablet registry metrics
	TabletsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nameserver_tablets_total",
			Help: "Total number of registered tablets by state",
		},
		[]string{"state"},
	)

	TabletOfflineEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nameserver_tablet_offline_events_total",
			Help: "Total number of tablet offline transitions observed",
		},
	)

	// Catalog metrics
	TablesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nameserver_tables_total",
			Help: "Total number of tables across all databases",
		},
	)

	DatabasesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nameserver_databases_total",
			Help: "Total number of databases",
		},
	)

	// Raft / MetaStore metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nameserver_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	MetaStoreApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nameserver_metastore_apply_duration_seconds",
			Help:    "Time taken to apply a MetaStore command through Raft",
			Buckets: prometheus.DefBuckets,
		},
	)

	SessionResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nameserver_session_resets_total",
			Help: "Total number of MetaStore session term resets (leadership changes)",
		},
	)

	// OP Engine metrics
	OpQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nameserver_op_queue_depth",
			Help: "Number of OPs waiting in each OP Engine queue",
		},
		[]string{"queue"},
	)

	OpsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nameserver_ops_in_flight",
			Help: "Total number of OPs currently tracked by the OP Engine",
		},
	)

	OpsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nameserver_ops_completed_total",
			Help: "Total number of OPs that reached a terminal status",
		},
		[]string{"op_type", "status"},
	)

	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nameserver_op_duration_seconds",
			Help:    "Time from OP creation to terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op_type"},
	)

	// Task Primitives metrics
	TaskRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nameserver_task_rpc_duration_seconds",
			Help:    "Time taken for a single-tablet task RPC to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"primitive"},
	)

	TaskRPCFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nameserver_task_rpc_failures_total",
			Help: "Total number of task RPCs rejected at the transport layer",
		},
		[]string{"primitive"},
	)

	// Failover metrics
	FailoverOPsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nameserver_failover_ops_total",
			Help: "Total number of OPs enqueued by the Failover Controller",
		},
		[]string{"op_type"},
	)

	// Admin RPC metrics
	AdminRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nameserver_admin_requests_total",
			Help: "Total number of admin RPC requests by command and error code",
		},
		[]string{"command", "error_code"},
	)

	AdminRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nameserver_admin_request_duration_seconds",
			Help:    "Admin RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Remote cluster metrics
	ReplicaClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nameserver_replica_clusters_total",
			Help: "Total number of linked replica clusters",
		},
	)

	ReplicaDriftDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nameserver_replica_drift_detected_total",
			Help: "Total number of times a drift check found a peer cluster diverging",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TabletsTotal,
		TabletOfflineEventsTotal,
		TablesTotal,
		DatabasesTotal,
		RaftLeader,
		MetaStoreApplyDuration,
		SessionResetsTotal,
		OpQueueDepth,
		OpsInFlight,
		OpsCompletedTotal,
		OpDuration,
		TaskRPCDuration,
		TaskRPCFailuresTotal,
		FailoverOPsTotal,
		AdminRequestsTotal,
		AdminRequestDuration,
		ReplicaClustersTotal,
		ReplicaDriftDetectedTotal,
	)
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
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
