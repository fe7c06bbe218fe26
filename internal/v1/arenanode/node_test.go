package arenanode

import (
	"context"
	"testing"
	"time"

	"github.com/arenamesh/zarena/internal/v1/engine/counter"
	"github.com/arenamesh/zarena/internal/v1/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCounterNode(t *testing.T, broker *transporttest.Broker, name string, forceHost bool) *Node[counter.Action, counter.State] {
	t.Helper()
	ctx := context.Background()
	builder := NewBuilder[counter.Action, counter.State](broker.Session(), counter.Factory()).
		Prefix("zenoh/arena").
		Name(name).
		ForceHost(forceHost).
		SearchTimeoutMs(300).
		SearchJitterMs(0)
	node, err := builder.Build(ctx)
	require.NoError(t, err)
	return node
}

// stepUntil drives Step until pred(outcome) is true or attempts are
// exhausted, returning the first outcome pred accepted.
func stepUntil(t *testing.T, node *Node[counter.Action, counter.State], attempts int, pred func(StepOutcome[counter.State]) bool) StepOutcome[counter.State] {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < attempts; i++ {
		outcome, err := node.Step(ctx)
		require.NoError(t, err)
		if pred(outcome) {
			return outcome
		}
	}
	t.Fatalf("predicate never satisfied after %d steps", attempts)
	return StepOutcome[counter.State]{}
}

func TestSoloNodeBecomesHostAfterSearchTimeout(t *testing.T) {
	broker := transporttest.NewBroker()
	node := buildCounterNode(t, broker, "vexa", false)

	stepUntil(t, node, 5, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleHost
	})
	assert.Equal(t, "host", node.CurrentRole())
}

func TestForceHostStartsDirectlyAsHost(t *testing.T) {
	broker := transporttest.NewBroker()
	node := buildCounterNode(t, broker, "vexa", true)
	assert.Equal(t, "host", node.CurrentRole())
}

func TestSecondNodeAttachesAsClientToExistingHost(t *testing.T) {
	broker := transporttest.NewBroker()
	host := buildCounterNode(t, broker, "vexa", true)
	client := buildCounterNode(t, broker, "mira", false)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			host.Step(context.Background())
		}
		close(done)
	}()

	stepUntil(t, client, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleClient
	})
	<-done
	assert.Equal(t, "client", client.CurrentRole())
}

func TestClientActionReachesHostAndBroadcastsState(t *testing.T) {
	broker := transporttest.NewBroker()
	host := buildCounterNode(t, broker, "vexa", true)
	client := buildCounterNode(t, broker, "mira", false)

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for ctx.Err() == nil {
			host.Step(ctx)
		}
	}()

	stepUntil(t, client, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleClient
	})

	client.Sender() <- GameAction[counter.Action](counter.Action{Kind: counter.Increment})

	outcome := stepUntil(t, client, 20, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeGameState && o.State.Count == 1
	})
	assert.Equal(t, int64(1), outcome.State.Count)

	require.NoError(t, client.Stop(context.Background()))
	stepUntil(t, client, 5, func(o StepOutcome[counter.State]) bool { return o.Kind == OutcomeStop })
	require.NoError(t, host.Stop(context.Background()))
	<-hostDone
}

func TestHostRejectsConnectionsAtCapacity(t *testing.T) {
	broker := transporttest.NewBroker()
	host := buildCounterNode(t, broker, "vexa", true)

	hostCtx, hostCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hostCancel()
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		for hostCtx.Err() == nil {
			host.Step(hostCtx)
		}
	}()

	clientA := buildCounterNode(t, broker, "mira", false)
	stepUntil(t, clientA, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleClient
	})
	clientB := buildCounterNode(t, broker, "rook", false)
	stepUntil(t, clientB, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleClient
	})

	// Counter's MaxClients is 2; a third peer must fail to find room
	// and fall back to becoming its own Host instead of attaching.
	clientC := buildCounterNode(t, broker, "finn", false)
	stepUntil(t, clientC, 5, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleHost
	})
	assert.Equal(t, "host", clientC.CurrentRole())

	hostCancel()
	<-hostDone
}

func TestClientTransitionsBackToSearchingOnHostDisconnect(t *testing.T) {
	broker := transporttest.NewBroker()
	host := buildCounterNode(t, broker, "vexa", true)
	client := buildCounterNode(t, broker, "mira", false)

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		for i := 0; i < 10; i++ {
			host.Step(context.Background())
		}
	}()
	stepUntil(t, client, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleClient
	})
	<-hostDone

	require.NoError(t, host.Stop(context.Background()))
	_, err := host.Step(context.Background())
	require.NoError(t, err)

	stepUntil(t, client, 10, func(o StepOutcome[counter.State]) bool {
		return o.Kind == OutcomeRoleChanged && o.Role == RoleSearching
	})
}
