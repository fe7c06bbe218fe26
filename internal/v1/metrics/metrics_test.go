package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTransportOperations(t *testing.T) {
	TransportOperations.WithLabelValues("publish", "ok").Inc()
	val := testutil.ToFloat64(TransportOperations.WithLabelValues("publish", "ok"))
	assert.GreaterOrEqual(t, val, float64(1))
}

func TestStepDurationNoPanic(t *testing.T) {
	StepDuration.WithLabelValues("host").Observe(0.01)
}

func TestSetRoleTogglesGaugesAndCountsTransition(t *testing.T) {
	SetRole("searching", "client")

	assert.Equal(t, float64(1), testutil.ToFloat64(RoleState.WithLabelValues("client")))
	assert.Equal(t, float64(0), testutil.ToFloat64(RoleState.WithLabelValues("host")))
	assert.Equal(t, float64(0), testutil.ToFloat64(RoleState.WithLabelValues("searching")))
	assert.Equal(t, float64(0), testutil.ToFloat64(RoleState.WithLabelValues("stopped")))

	got := testutil.ToFloat64(RoleTransitions.WithLabelValues("searching", "client"))
	assert.GreaterOrEqual(t, got, float64(1))
}

func TestCircuitBreakerGauge(t *testing.T) {
	TransportCircuitBreakerState.WithLabelValues("arena-redis-transport").Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(TransportCircuitBreakerState.WithLabelValues("arena-redis-transport")))
}
