// Package rtransport implements transport.Session on top of Redis,
// the way the teacher repo's internal/v1/bus.Service wraps its Redis
// client: a pooled *redis.Client, a sony/gobreaker circuit breaker
// around every round trip, Prometheus counters for outcomes, and zap
// logging of failures. Unlike the teacher's room broadcast bus, this
// package also emulates two primitives the arena runtime needs that
// plain Redis pub/sub doesn't give for free:
//
//   - liveliness: a key with a refreshed TTL, watched by polling,
//     standing in for the transport's native liveliness tokens.
//   - query/reply: a JSON envelope published on a "query" channel,
//     carrying a private per-query reply channel name, standing in
//     for the transport's native queryable/querier round trip.
package rtransport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/metrics"
	"github.com/arenamesh/zarena/internal/v1/transport"
)

const (
	liveKeyPrefix    = "arena:live:"
	sampleChanPrefix = "arena:sample:"
	queryChanPrefix  = "arena:query:"
	replyChanPrefix  = "arena:reply:"

	// defaultTokenTTL bounds how long a retracted or crashed token's
	// claim survives; refresh runs at ttl/3 so two missed refreshes are
	// tolerated before the watch reports absence.
	defaultTokenTTL = 6 * time.Second
	// defaultPollInterval is how often a LivelinessSubscriber re-checks
	// its watched key. It stands in for the native transport's
	// event-driven liveliness delivery.
	defaultPollInterval = 1 * time.Second
)

// Session is the Redis-backed transport.Session.
type Session struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker

	tokenTTL     time.Duration
	pollInterval time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Options customizes timing knobs; the zero value uses sane defaults
// (6s token TTL, 1s liveliness poll interval).
type Options struct {
	TokenTTL     time.Duration
	PollInterval time.Duration
}

// New opens a Session against the given Redis client. The caller owns
// the client's lifecycle beyond Close, matching bus.Service.NewService's
// contract of taking over a connection it did not dial itself when a
// client is reused across services.
func New(client *redis.Client, opts Options) *Session {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	st := gobreaker.Settings{
		Name:        "arena-redis-transport",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.TransportCircuitBreakerState.WithLabelValues(name).Set(circuitStateValue(to))
		},
	}

	return &Session{
		client:       client,
		cb:           gobreaker.NewCircuitBreaker(st),
		tokenTTL:     opts.TokenTTL,
		pollInterval: opts.PollInterval,
		closeCh:      make(chan struct{}),
	}
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Close releases the Session's background goroutines. It does not
// close the underlying *redis.Client, which the caller owns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return nil
}

// --- Liveliness -------------------------------------------------------

type livelinessToken struct {
	session *Session
	key     string
	stop    chan struct{}
	done    chan struct{}
}

// DeclareLivelinessToken asserts presence on keyExpr by writing a
// TTL'd Redis key and refreshing it on a background ticker until
// Undeclare is called.
func (s *Session) DeclareLivelinessToken(ctx context.Context, keyExpr string) (transport.LivelinessToken, error) {
	key := liveKeyPrefix + keyExpr
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Set(ctx, key, "1", s.tokenTTL).Err()
	})
	if err != nil {
		return nil, s.wrapErr("declare-liveliness", err)
	}

	t := &livelinessToken{session: s, key: key, stop: make(chan struct{}), done: make(chan struct{})}
	go t.refreshLoop()
	return t, nil
}

func (t *livelinessToken) refreshLoop() {
	defer close(t.done)
	interval := t.session.tokenTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.session.tokenTTL)
			_, err := t.session.cb.Execute(func() (any, error) {
				return nil, t.session.client.Expire(ctx, t.key, t.session.tokenTTL).Err()
			})
			cancel()
			if err != nil {
				logging.Warn(context.Background(), "liveliness refresh failed", zap.String("key", t.key), zap.Error(err))
			}
		case <-t.stop:
			return
		case <-t.session.closeCh:
			return
		}
	}
}

// Undeclare deletes the presence key; the transport guarantees
// watchers observe the absence within one poll interval.
func (t *livelinessToken) Undeclare(ctx context.Context) error {
	close(t.stop)
	<-t.done
	_, err := t.session.cb.Execute(func() (any, error) {
		return nil, t.session.client.Del(ctx, t.key).Err()
	})
	if err != nil {
		return t.session.wrapErr("undeclare-liveliness", err)
	}
	return nil
}

type livelinessSubscriber struct {
	absent chan struct{}
	stop   chan struct{}
}

func (w *livelinessSubscriber) Absent() <-chan struct{} { return w.absent }
func (w *livelinessSubscriber) Close() error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	return nil
}

// DeclareLivelinessSubscriber polls the presence key for keyExpr until
// it is missing, then closes Absent() exactly once. A transport-level
// error while polling is treated as a disconnect, per the liveliness
// watch's failure policy.
func (s *Session) DeclareLivelinessSubscriber(ctx context.Context, keyExpr string) (transport.LivelinessSubscriber, error) {
	key := liveKeyPrefix + keyExpr
	w := &livelinessSubscriber{absent: make(chan struct{}), stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
				n, err := s.cb.Execute(func() (any, error) {
					return s.client.Exists(pctx, key).Result()
				})
				cancel()
				if err != nil {
					logging.Warn(context.Background(), "liveliness poll failed, treating as disconnect", zap.String("key", key), zap.Error(err))
					closeAbsent(w.absent)
					return
				}
				if n.(int64) == 0 {
					closeAbsent(w.absent)
					return
				}
			case <-w.stop:
				return
			case <-s.closeCh:
				return
			}
		}
	}()

	return w, nil
}

func closeAbsent(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// --- Publish/Subscribe -------------------------------------------------

type publisher struct {
	session *Session
	channel string
}

func (p *publisher) Put(ctx context.Context, payload []byte) error {
	_, err := p.session.cb.Execute(func() (any, error) {
		return nil, p.session.client.Publish(ctx, p.channel, payload).Err()
	})
	if err != nil {
		metrics.TransportOperations.WithLabelValues("publish", "error").Inc()
		return p.session.wrapErr("publish", err)
	}
	metrics.TransportOperations.WithLabelValues("publish", "ok").Inc()
	return nil
}

func (p *publisher) Close() error { return nil }

// DeclarePublisher returns a Publisher bound to keyExpr's sample
// channel. keyExpr is used verbatim as the channel name: a "*" in it is
// not expanded, so a wildcard key reaches only subscribers whose
// pattern matches that literal string.
func (s *Session) DeclarePublisher(ctx context.Context, keyExpr string) (transport.Publisher, error) {
	return &publisher{session: s, channel: sampleChanPrefix + keyExpr}, nil
}

type subscriber struct {
	pubsub  *redis.PubSub
	samples chan transport.Sample
	stop    chan struct{}
}

func (sub *subscriber) Samples() <-chan transport.Sample { return sub.samples }
func (sub *subscriber) Close() error {
	select {
	case <-sub.stop:
	default:
		close(sub.stop)
	}
	return sub.pubsub.Close()
}

// DeclareSubscriber returns a Subscriber whose pattern may contain "*"
// wildcard segments, matched with Redis pattern-subscribe globbing. A
// Redis "*" matches any run of characters, "/" included, so it is
// looser than a keyexpr wildcard, which stands for one segment.
func (s *Session) DeclareSubscriber(ctx context.Context, keyExprPattern string) (transport.Subscriber, error) {
	ps := s.client.PSubscribe(ctx, sampleChanPrefix+keyExprPattern)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, s.wrapErr("subscribe", err)
	}

	sub := &subscriber{pubsub: ps, samples: make(chan transport.Sample, 64), stop: make(chan struct{})}
	go func() {
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				keyExpr := msg.Channel[len(sampleChanPrefix):]
				select {
				case sub.samples <- transport.Sample{KeyExpr: keyExpr, Payload: []byte(msg.Payload)}:
				case <-sub.stop:
					return
				}
			case <-sub.stop:
				return
			}
		}
	}()
	return sub, nil
}

// --- Query/Queryable ----------------------------------------------------

// queryEnvelope is what actually rides the Redis channel for a query;
// it carries the correlation id and reply channel a plain pub/sub
// primitive has no room for.
type queryEnvelope struct {
	ID           string `json:"id"`
	KeyExpr      string `json:"keyExpr"`
	Payload      []byte `json:"payload"`
	ReplyChannel string `json:"replyChannel"`
}

type replyEnvelope struct {
	ID      string `json:"id"`
	KeyExpr string `json:"keyExpr"`
	Ok      bool   `json:"ok"`
	Payload []byte `json:"payload,omitempty"`
	Err     string `json:"err,omitempty"`
}

type query struct {
	session      *Session
	keyExpr      string
	payload      []byte
	replyChannel string
	answered     sync.Once
}

func (q *query) KeyExpr() string { return q.keyExpr }
func (q *query) Payload() []byte { return q.payload }

func (q *query) Reply(ctx context.Context, replyKeyExpr string, payload []byte) error {
	return q.reply(ctx, replyEnvelope{KeyExpr: replyKeyExpr, Ok: true, Payload: payload})
}

func (q *query) ReplyErr(ctx context.Context, replyKeyExpr string, reason string) error {
	return q.reply(ctx, replyEnvelope{KeyExpr: replyKeyExpr, Ok: false, Err: reason})
}

func (q *query) reply(ctx context.Context, env replyEnvelope) error {
	var sendErr error
	sent := false
	q.answered.Do(func() {
		data, err := json.Marshal(env)
		if err != nil {
			sendErr = err
			return
		}
		_, sendErr = q.session.cb.Execute(func() (any, error) {
			return nil, q.session.client.Publish(ctx, q.replyChannel, data).Err()
		})
		sent = true
	})
	if !sent {
		return fmt.Errorf("query already answered")
	}
	if sendErr != nil {
		return q.session.wrapErr("query-reply", sendErr)
	}
	return nil
}

type queryable struct {
	pubsub  *redis.PubSub
	queries chan transport.Query
	stop    chan struct{}
}

func (qy *queryable) Queries() <-chan transport.Query { return qy.queries }
func (qy *queryable) Close() error {
	select {
	case <-qy.stop:
	default:
		close(qy.stop)
	}
	return qy.pubsub.Close()
}

// DeclareQueryable returns a Queryable answering requests addressed to
// keyExprPattern (which may contain "*").
func (s *Session) DeclareQueryable(ctx context.Context, keyExprPattern string) (transport.Queryable, error) {
	ps := s.client.PSubscribe(ctx, queryChanPrefix+keyExprPattern)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, s.wrapErr("declare-queryable", err)
	}

	qy := &queryable{pubsub: ps, queries: make(chan transport.Query, 64), stop: make(chan struct{})}
	go func() {
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env queryEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logging.Warn(context.Background(), "malformed query envelope, dropping", zap.Error(err))
					continue
				}
				q := &query{session: s, keyExpr: env.KeyExpr, payload: env.Payload, replyChannel: env.ReplyChannel}
				select {
				case qy.queries <- q:
				case <-qy.stop:
					return
				}
			case <-qy.stop:
				return
			}
		}
	}()
	return qy, nil
}

// Query issues a request on keyExpr and streams replies until timeout
// elapses, at which point the returned channel is closed.
func (s *Session) Query(ctx context.Context, keyExpr string, payload []byte, timeout time.Duration) (<-chan transport.Reply, error) {
	id := uuid.NewString()
	replyChannel := replyChanPrefix + id

	ps := s.client.Subscribe(ctx, replyChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, s.wrapErr("query-subscribe-reply", err)
	}

	env := queryEnvelope{ID: id, KeyExpr: keyExpr, Payload: payload, ReplyChannel: replyChannel}
	data, err := json.Marshal(env)
	if err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("marshal query envelope: %w", err)
	}

	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.client.Publish(ctx, queryChanPrefix+keyExpr, data).Err()
	})
	if err != nil {
		_ = ps.Close()
		metrics.TransportOperations.WithLabelValues("query", "error").Inc()
		return nil, s.wrapErr("query", err)
	}
	metrics.TransportOperations.WithLabelValues("query", "ok").Inc()

	out := make(chan transport.Reply, 16)
	go func() {
		defer close(out)
		defer ps.Close()
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		ch := ps.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env replyEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				out <- transport.Reply{KeyExpr: env.KeyExpr, Ok: env.Ok, Payload: env.Payload, Err: env.Err}
			case <-deadline.C:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Session) wrapErr(op string, err error) error {
	if err == gobreaker.ErrOpenState {
		metrics.TransportCircuitBreakerFailures.WithLabelValues(op).Inc()
		logging.Warn(context.Background(), "redis transport circuit open", zap.String("op", op))
	}
	return fmt.Errorf("rtransport %s: %w", op, err)
}
