package liveliness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arenamesh/zarena/internal/v1/transport/transporttest"
)

func TestTokenUndeclareNotifiesWatch(t *testing.T) {
	broker := transporttest.NewBroker()
	ctx := context.Background()

	hostSession := broker.Session()
	tok, err := Declare(ctx, hostSession, "zenoh/arena/host/vexa")
	require.NoError(t, err)

	clientSession := broker.Session()
	watch := NewWatch(clientSession)
	defer watch.Close()
	require.NoError(t, watch.Subscribe(ctx, "vexa", "zenoh/arena/host/vexa"))
	require.True(t, watch.HasSubscribers())

	select {
	case <-watch.Disconnected():
		t.Fatal("watch fired before token was undeclared")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, tok.Undeclare(ctx))

	select {
	case id := <-watch.Disconnected():
		require.Equal(t, "vexa", id)
	case <-time.After(time.Second):
		t.Fatal("watch did not observe undeclare")
	}
	require.False(t, watch.HasSubscribers())
}

func TestWatchSubscribeToAlreadyAbsentFiresImmediately(t *testing.T) {
	broker := transporttest.NewBroker()
	ctx := context.Background()

	watch := NewWatch(broker.Session())
	defer watch.Close()
	require.NoError(t, watch.Subscribe(ctx, "ghost", "zenoh/arena/host/ghost"))

	select {
	case id := <-watch.Disconnected():
		require.Equal(t, "ghost", id)
	case <-time.After(time.Second):
		t.Fatal("watch did not report already-absent peer")
	}
}

func TestUnsubscribeSuppressesDisconnectReport(t *testing.T) {
	broker := transporttest.NewBroker()
	ctx := context.Background()

	hostSession := broker.Session()
	tok, err := Declare(ctx, hostSession, "zenoh/arena/host/vexa")
	require.NoError(t, err)

	watch := NewWatch(broker.Session())
	defer watch.Close()
	require.NoError(t, watch.Subscribe(ctx, "vexa", "zenoh/arena/host/vexa"))

	watch.Unsubscribe("vexa")
	require.False(t, watch.HasSubscribers())

	require.NoError(t, tok.Undeclare(ctx))

	select {
	case id := <-watch.Disconnected():
		t.Fatalf("unexpected disconnect report for %q after Unsubscribe", id)
	case <-time.After(50 * time.Millisecond):
	}
}
