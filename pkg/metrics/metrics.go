package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Step and task gauges
	StepsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskd_steps_active",
			Help: "Number of steps currently running on this node",
		},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskd_tasks_total",
			Help: "Total number of local tasks by state",
		},
		[]string{"state"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskd_containers_total",
			Help: "Total number of task containers by state",
		},
		[]string{"state"},
	)

	// Dispatcher (RPC) metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_rpc_requests_total",
			Help: "Total number of dispatcher RPC requests by message type and status",
		},
		[]string{"message_type", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskd_rpc_request_duration_seconds",
			Help:    "Dispatcher RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"message_type"},
	)

	// Launch metrics
	LaunchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_launch_latency_seconds",
			Help:    "Time from launch_tasks acceptance to first task fork",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksLaunched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskd_tasks_launched_total",
			Help: "Total number of tasks successfully forked",
		},
	)

	TasksLaunchFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskd_tasks_launch_failed_total",
			Help: "Total number of tasks that failed to launch (credential, container, or exec failure)",
		},
	)

	// Container operation metrics
	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_container_create_duration_seconds",
			Help:    "Time taken to create a task container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_container_start_duration_seconds",
			Help:    "Time taken to start a task container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_container_stop_duration_seconds",
			Help:    "Time taken to stop a task container in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Credential metrics
	CredentialsVerified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_credentials_verified_total",
			Help: "Total number of credential verifications by result",
		},
		[]string{"result"}, // valid, expired, revoked, signature_invalid
	)

	CredentialRevocationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskd_credential_revocations_total",
			Help: "Total number of credential revocations applied",
		},
	)

	// Prolog/epilog metrics
	PrologDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskd_prolog_duration_seconds",
			Help:    "Time taken to run a prolog or epilog script in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // prolog, epilog, task_prolog, task_epilog
	)

	PrologFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_prolog_failures_total",
			Help: "Total number of prolog/epilog scripts that failed or timed out",
		},
		[]string{"kind"},
	)

	// Aggregation (reverse-tree) metrics
	StepCompleteAggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_step_complete_aggregation_duration_seconds",
			Help:    "Time taken to collect step_complete acks from a node's subtree",
			Buckets: prometheus.DefBuckets,
		},
	)

	StepCompleteRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taskd_step_complete_retries_total",
			Help: "Total number of step_complete retries sent up the reverse tree",
		},
	)
)

func init() {
	prometheus.MustRegister(StepsActive)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(LaunchLatency)
	prometheus.MustRegister(TasksLaunched)
	prometheus.MustRegister(TasksLaunchFailed)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(CredentialsVerified)
	prometheus.MustRegister(CredentialRevocationsTotal)
	prometheus.MustRegister(PrologDuration)
	prometheus.MustRegister(PrologFailuresTotal)
	prometheus.MustRegister(StepCompleteAggregationDuration)
	prometheus.MustRegister(StepCompleteRetriesTotal)
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
