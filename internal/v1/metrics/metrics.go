// Package metrics declares the Prometheus instruments the arena node
// runtime exports, following the teacher's convention of one package
// holding every promauto instrument close to the business logic it
// measures rather than scattering registration across callers.
//
// Naming convention: namespace_subsystem_name
//   - namespace: arena_node (application-level grouping)
//   - subsystem: role, transport, circuit_breaker, rate_limit (feature-level grouping)
//   - name: specific metric (role_active, operations_total, etc.)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RoleState tracks which RoleState a node currently occupies, set to
	// 1 for the active role and 0 for the other three, labeled by role.
	RoleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena_node",
		Subsystem: "role",
		Name:      "active",
		Help:      "1 if this node currently occupies the labeled role, else 0",
	}, []string{"role"})

	// RoleTransitions counts every RoleState transition the node makes.
	RoleTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "role",
		Name:      "transitions_total",
		Help:      "Total RoleState transitions",
	}, []string{"from", "to"})

	// HostClients tracks the current size of a Host's client set.
	HostClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena_node",
		Subsystem: "host",
		Name:      "clients_active",
		Help:      "Current number of clients attached to this node while it is Host",
	})

	// HostConnectionAttempts counts connection requests a Host has
	// accepted or rejected, and why.
	HostConnectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "host",
		Name:      "connection_attempts_total",
		Help:      "Total connection requests handled by this node while it is Host",
	}, []string{"outcome"})

	// SearchTimeouts counts the number of times a Searching node's
	// discovery query has timed out without finding a Host.
	SearchTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "search",
		Name:      "timeouts_total",
		Help:      "Total discovery query timeouts while Searching",
	})

	// StepDuration tracks wall-clock time spent in a single step() call.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "arena_node",
		Subsystem: "step",
		Name:      "duration_seconds",
		Help:      "Time spent in a single step() call",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"role"})

	// TransportOperations counts publish/query round trips on the
	// Redis-backed transport, by kind and outcome.
	TransportOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "transport",
		Name:      "operations_total",
		Help:      "Total transport operations",
	}, []string{"operation", "status"})

	// TransportCircuitBreakerState mirrors the bus circuit breaker's
	// state (0 closed, 1 open, 2 half-open), labeled by breaker name.
	TransportCircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena_node",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the transport circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// TransportCircuitBreakerFailures counts operations rejected because
	// the circuit breaker was open, labeled by the operation that was
	// attempted.
	TransportCircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total transport operations rejected by the circuit breaker",
	}, []string{"operation"})

	// RateLimitExceeded counts requests throttled by the discovery/connect
	// rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests counts every request checked against the rate
	// limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena_node",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"endpoint"})

	// EngineQueueDepth tracks the current depth of the Engine's inbound
	// action queue, a proxy for whether the Engine thread is keeping up.
	EngineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "arena_node",
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Current depth of the engine's inbound action queue",
	})

	// ThroughputSample mirrors a Node's cumulative stats counters,
	// refreshed on a schedule rather than on every step so a quiet node
	// doesn't look stale between samples.
	ThroughputSample = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "arena_node",
		Subsystem: "throughput",
		Name:      "sample_total",
		Help:      "Cumulative step outcome counters, last sampled value",
	}, []string{"kind"})
)

// SetRole sets the role gauge to reflect active being the only role
// with value 1, and records the transition.
func SetRole(from, active string) {
	for _, r := range []string{"searching", "client", "host", "stopped"} {
		if r == active {
			RoleState.WithLabelValues(r).Set(1)
		} else {
			RoleState.WithLabelValues(r).Set(0)
		}
	}
	if from != "" {
		RoleTransitions.WithLabelValues(from, active).Inc()
	}
}
