package rtransport

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T) (*Session, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := New(client, Options{TokenTTL: 300 * time.Millisecond, PollInterval: 50 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestLivelinessTokenUndeclareTriggersSubscriberAbsent(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	token, err := s.DeclareLivelinessToken(ctx, "zenoh/arena/host/vexa")
	require.NoError(t, err)

	watch, err := s.DeclareLivelinessSubscriber(ctx, "zenoh/arena/host/vexa")
	require.NoError(t, err)
	defer watch.Close()

	select {
	case <-watch.Absent():
		t.Fatal("watch reported absence before token was undeclared")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, token.Undeclare(ctx))

	select {
	case <-watch.Absent():
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe undeclare within timeout")
	}
}

func TestLivelinessSubscriberObservesExpiry(t *testing.T) {
	s, mr := newTestSession(t)
	ctx := context.Background()

	_, err := s.DeclareLivelinessToken(ctx, "zenoh/arena/host/vexa")
	require.NoError(t, err)

	watch, err := s.DeclareLivelinessSubscriber(ctx, "zenoh/arena/host/vexa")
	require.NoError(t, err)
	defer watch.Close()

	mr.FastForward(time.Second)

	select {
	case <-watch.Absent():
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe TTL expiry within timeout")
	}
}

func TestPublishSubscribeDeliversSampleWithWildcard(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	sub, err := s.DeclareSubscriber(ctx, "zenoh/arena/link/*/vexa")
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(50 * time.Millisecond) // let PSUBSCRIBE register

	pub, err := s.DeclarePublisher(ctx, "zenoh/arena/link/mira/vexa")
	require.NoError(t, err)
	require.NoError(t, pub.Put(ctx, []byte("hello")))

	select {
	case sample := <-sub.Samples():
		require.Equal(t, "zenoh/arena/link/mira/vexa", sample.KeyExpr)
		require.Equal(t, []byte("hello"), sample.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive sample")
	}
}

func TestQueryQueryableRoundTrip(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	qy, err := s.DeclareQueryable(ctx, "zenoh/arena/link/*/vexa")
	require.NoError(t, err)
	defer qy.Close()

	time.Sleep(50 * time.Millisecond)

	go func() {
		q := <-qy.Queries()
		require.Equal(t, []byte("ping"), q.Payload())
		_ = q.Reply(context.Background(), "zenoh/arena/link/vexa/mira", []byte("pong"))
	}()

	replies, err := s.Query(ctx, "zenoh/arena/link/mira/vexa", []byte("ping"), 2*time.Second)
	require.NoError(t, err)

	select {
	case reply, ok := <-replies:
		require.True(t, ok)
		require.True(t, reply.Ok)
		require.Equal(t, []byte("pong"), reply.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("querier did not receive reply")
	}
}

func TestQueryTimesOutWithNoAnswer(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	replies, err := s.Query(ctx, "zenoh/arena/link/mira/ghost", []byte("ping"), 100*time.Millisecond)
	require.NoError(t, err)

	_, ok := <-replies
	require.False(t, ok, "channel should close with no replies after timeout")
}
