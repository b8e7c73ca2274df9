/*
Package metrics provides Prometheus metrics collection and exposition for
taskd's node-agent and step-agent.

The package defines and registers every metric using the Prometheus client
library, giving observability into step/task lifecycle, container
operations, dispatcher RPC traffic, credential verification, and prolog/
epilog execution. Metrics are exposed via an HTTP endpoint for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Steps/Tasks: active steps, task states     │          │
	│  │  Containers: state gauge, op durations      │          │
	│  │  Dispatcher: RPC counts, durations          │          │
	│  │  Launch: latency, launched/failed counts    │          │
	│  │  Credentials: verify results, revocations   │          │
	│  │  Prolog/Epilog: duration, failures          │          │
	│  │  Aggregation: step_complete tree timing     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint               │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Collector

Collector periodically samples a StateSource (implemented by
pkg/stepagent's Agent) on a 15-second tick, setting StepsActive and
TasksTotal from the agent's live step/task set. The interface is defined
in this package rather than imported from pkg/stepagent, keeping metrics
a leaf package with no dependency on what it observes.

# Usage

	import "github.com/cuemby/taskd/pkg/metrics"

	metrics.StepsActive.Set(3)
	metrics.TasksTotal.WithLabelValues("running").Set(12)
	metrics.TasksLaunched.Inc()

	timer := metrics.NewTimer()
	containerID, err := rt.CreateContainer(ctx, spec, devices)
	timer.ObserveDuration(metrics.ContainerCreateDuration)

	metrics.CredentialsVerified.WithLabelValues("valid").Inc()

	http.Handle("/metrics", metrics.Handler())
	http.ListenAndServe(":9090", nil)

# Integration Points

  - cmd/taskd: drives the Collector and serves Handler
  - pkg/stepagent: Agent implements StateSource
  - pkg/dispatcher: RPC request count and duration

No other package records into the remaining collectors defined here
(container, credential, prolog/epilog and aggregation metrics).

# Design Patterns

All metrics are registered in init() via MustRegister, which panics on a
duplicate name — a fail-fast check that catches a typo'd metric name at
process start rather than silently dropping it. Labels stay
low-cardinality (state, result, kind, message_type); task and step IDs
never become label values.

# See Also

  - Prometheus client library: https://github.com/prometheus/client_golang
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
