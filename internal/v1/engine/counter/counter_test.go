package counter

import (
	"context"
	"testing"
	"time"

	"github.com/arenamesh/zarena/internal/v1/arenanode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineIncrementsAndDecrements(t *testing.T) {
	e := New()
	e.SetNodeID(arenanode.NodeID("host1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Run(ctx, nil))

	send := func(kind ActionKind) State {
		e.ActionSender() <- arenanode.Action[Action]{SenderID: "host1", Payload: Action{Kind: kind}}
		select {
		case s := <-e.StateReceiver():
			return s
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for state")
			return State{}
		}
	}

	assert.Equal(t, int64(1), send(Increment).Count)
	assert.Equal(t, int64(2), send(Increment).Count)
	assert.Equal(t, int64(1), send(Decrement).Count)

	require.NoError(t, e.Stop(context.Background()))
}

func TestEngineResumesFromInitialState(t *testing.T) {
	e := New()
	e.SetNodeID(arenanode.NodeID("host1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Run(ctx, &State{Count: 41}))

	e.ActionSender() <- arenanode.Action[Action]{SenderID: "host1", Payload: Action{Kind: Increment}}
	select {
	case s := <-e.StateReceiver():
		assert.Equal(t, int64(42), s.Count)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for state")
	}

	require.NoError(t, e.Stop(context.Background()))
}

func TestMaxClientsIsTwo(t *testing.T) {
	e := New()
	require.NotNil(t, e.MaxClients())
	assert.Equal(t, 2, *e.MaxClients())
}
