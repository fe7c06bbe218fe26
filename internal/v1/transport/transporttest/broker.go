// Package transporttest provides an in-memory transport.Session
// implementation, the way the teacher repo's session tests exercise
// Room/Hub logic against small hand-written fakes (session/methods_test.go)
// rather than a live Redis instance. Multiple Sessions sharing one
// Broker behave like multiple peers attached to the same arena.
package transporttest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arenamesh/zarena/internal/v1/transport"
)

// Broker is the shared in-memory bus every Session for one simulated
// arena is built on.
type Broker struct {
	mu          sync.Mutex
	live        map[string]struct{}                    // keyExpr -> present
	liveWatches map[string][]chan struct{}              // keyExpr -> channels to close on retraction
	subs        map[*subscriber]struct{}                // active pub/sub subscriptions
	queryables  map[*queryable]struct{}                 // active queryables
}

// NewBroker returns an empty shared bus.
func NewBroker() *Broker {
	return &Broker{
		live:        make(map[string]struct{}),
		liveWatches: make(map[string][]chan struct{}),
		subs:        make(map[*subscriber]struct{}),
		queryables:  make(map[*queryable]struct{}),
	}
}

// Session returns a new transport.Session backed by this broker.
func (b *Broker) Session() transport.Session { return &session{broker: b} }

// segMatch reports whether two key expressions intersect: for each
// segment, either side may be "*" (matching anything in that
// position), mirroring the symmetric wildcard-intersection semantics
// a real pub/sub-plus-query transport provides. This is richer than
// Redis's own subscriber-only globbing (see pubsub.StateSubscriber's
// commentary on why StatePublisher/StateSubscriber share one identical pattern
// instead of relying on that symmetry over Redis).
func segMatch(pattern, candidate string) bool {
	pp := strings.Split(pattern, "/")
	cp := strings.Split(candidate, "/")
	if len(pp) != len(cp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && cp[i] != "*" && pp[i] != cp[i] {
			return false
		}
	}
	return true
}

type session struct {
	broker *Broker
}

type token struct {
	broker  *Broker
	keyExpr string
}

func (t *token) Undeclare(ctx context.Context) error {
	t.broker.mu.Lock()
	delete(t.broker.live, t.keyExpr)
	watchers := t.broker.liveWatches[t.keyExpr]
	delete(t.broker.liveWatches, t.keyExpr)
	t.broker.mu.Unlock()

	for _, ch := range watchers {
		closeOnce(ch)
	}
	return nil
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (s *session) DeclareLivelinessToken(ctx context.Context, keyExpr string) (transport.LivelinessToken, error) {
	s.broker.mu.Lock()
	s.broker.live[keyExpr] = struct{}{}
	s.broker.mu.Unlock()
	return &token{broker: s.broker, keyExpr: keyExpr}, nil
}

type livelinessSubscriber struct {
	absent chan struct{}
}

func (w *livelinessSubscriber) Absent() <-chan struct{} { return w.absent }
func (w *livelinessSubscriber) Close() error            { return nil }

func (s *session) DeclareLivelinessSubscriber(ctx context.Context, keyExpr string) (transport.LivelinessSubscriber, error) {
	ch := make(chan struct{})
	w := &livelinessSubscriber{absent: ch}

	s.broker.mu.Lock()
	if _, present := s.broker.live[keyExpr]; !present {
		s.broker.mu.Unlock()
		closeOnce(ch)
		return w, nil
	}
	s.broker.liveWatches[keyExpr] = append(s.broker.liveWatches[keyExpr], ch)
	s.broker.mu.Unlock()
	return w, nil
}

type publisher struct {
	broker  *Broker
	keyExpr string
}

func (p *publisher) Put(ctx context.Context, payload []byte) error {
	p.broker.mu.Lock()
	targets := make([]*subscriber, 0, len(p.broker.subs))
	for sub := range p.broker.subs {
		if segMatch(sub.pattern, p.keyExpr) {
			targets = append(targets, sub)
		}
	}
	p.broker.mu.Unlock()

	sample := transport.Sample{KeyExpr: p.keyExpr, Payload: payload}
	for _, sub := range targets {
		select {
		case sub.samples <- sample:
		default:
		}
	}
	return nil
}

func (p *publisher) Close() error { return nil }

func (s *session) DeclarePublisher(ctx context.Context, keyExpr string) (transport.Publisher, error) {
	return &publisher{broker: s.broker, keyExpr: keyExpr}, nil
}

type subscriber struct {
	broker  *Broker
	pattern string
	samples chan transport.Sample
}

func (sub *subscriber) Samples() <-chan transport.Sample { return sub.samples }
func (sub *subscriber) Close() error {
	sub.broker.mu.Lock()
	delete(sub.broker.subs, sub)
	sub.broker.mu.Unlock()
	return nil
}

func (s *session) DeclareSubscriber(ctx context.Context, keyExprPattern string) (transport.Subscriber, error) {
	sub := &subscriber{broker: s.broker, pattern: keyExprPattern, samples: make(chan transport.Sample, 64)}
	s.broker.mu.Lock()
	s.broker.subs[sub] = struct{}{}
	s.broker.mu.Unlock()
	return sub, nil
}

type query struct {
	keyExpr  string
	payload  []byte
	replies  chan transport.Reply
	answered sync.Once
}

func (q *query) KeyExpr() string { return q.keyExpr }
func (q *query) Payload() []byte { return q.payload }

func (q *query) Reply(ctx context.Context, replyKeyExpr string, payload []byte) error {
	return q.reply(transport.Reply{KeyExpr: replyKeyExpr, Ok: true, Payload: payload})
}

func (q *query) ReplyErr(ctx context.Context, replyKeyExpr string, reason string) error {
	return q.reply(transport.Reply{KeyExpr: replyKeyExpr, Ok: false, Err: reason})
}

func (q *query) reply(r transport.Reply) error {
	sent := false
	q.answered.Do(func() {
		q.replies <- r
		close(q.replies)
		sent = true
	})
	if !sent {
		return fmt.Errorf("query already answered")
	}
	return nil
}

type queryable struct {
	broker  *Broker
	pattern string
	queries chan transport.Query
}

func (qy *queryable) Queries() <-chan transport.Query { return qy.queries }
func (qy *queryable) Close() error {
	qy.broker.mu.Lock()
	delete(qy.broker.queryables, qy)
	qy.broker.mu.Unlock()
	return nil
}

func (s *session) DeclareQueryable(ctx context.Context, keyExprPattern string) (transport.Queryable, error) {
	qy := &queryable{broker: s.broker, pattern: keyExprPattern, queries: make(chan transport.Query, 64)}
	s.broker.mu.Lock()
	s.broker.queryables[qy] = struct{}{}
	s.broker.mu.Unlock()
	return qy, nil
}

// Query fans the request out to every matching queryable and streams
// back whatever replies arrive before timeout.
func (s *session) Query(ctx context.Context, keyExpr string, payload []byte, timeout time.Duration) (<-chan transport.Reply, error) {
	s.broker.mu.Lock()
	targets := make([]*queryable, 0, len(s.broker.queryables))
	for qy := range s.broker.queryables {
		if segMatch(qy.pattern, keyExpr) {
			targets = append(targets, qy)
		}
	}
	s.broker.mu.Unlock()

	out := make(chan transport.Reply, len(targets))
	if len(targets) == 0 {
		close(out)
		return out, nil
	}

	var wg sync.WaitGroup
	for _, qy := range targets {
		q := &query{keyExpr: keyExpr, payload: payload, replies: make(chan transport.Reply, 1)}
		select {
		case qy.queries <- q:
		default:
			continue
		}
		wg.Add(1)
		go func(q *query) {
			defer wg.Done()
			select {
			case r, ok := <-q.replies:
				if ok {
					out <- r
				}
			case <-time.After(timeout):
			case <-ctx.Done():
			}
		}(q)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (s *session) Close() error { return nil }
