// Package liveliness wraps the transport's presence primitives into
// the two shapes the role state machines actually need: a single
// outgoing presence claim (Token) and a fan-in watch over a set of
// peers' claims (Watch) that reports whichever one disappears first.
package liveliness

import (
	"context"
	"sync"

	"github.com/arenamesh/zarena/internal/v1/transport"
)

// Token asserts a presence claim on one key expression until
// Undeclare is called. It is a thin wrapper over
// transport.LivelinessToken so callers can hold it as the concrete
// type their RoleState struct embeds.
type Token struct {
	inner   transport.LivelinessToken
	keyExpr string
}

// Declare asserts presence on keyExpr.
func Declare(ctx context.Context, session transport.Session, keyExpr string) (*Token, error) {
	inner, err := session.DeclareLivelinessToken(ctx, keyExpr)
	if err != nil {
		return nil, err
	}
	return &Token{inner: inner, keyExpr: keyExpr}, nil
}

// KeyExpr returns the key expression this token claims.
func (t *Token) KeyExpr() string { return t.keyExpr }

// Undeclare retracts the presence claim. Best-effort: the transport
// guarantees watchers observe the retraction within bounded time even
// if this call's own error is ignored.
func (t *Token) Undeclare(ctx context.Context) error {
	return t.inner.Undeclare(ctx)
}

// peer pairs a watched node's id with its subscription handle, so a
// disconnect event can be reported by id rather than by key
// expression.
type peer struct {
	id  string
	sub transport.LivelinessSubscriber
}

// Watch holds a set of subscriptions to specific (non-wildcard) peer
// key expressions and reports whichever one goes absent first. The
// Host's watch carries one subscription per connected client; the
// Client's watch carries exactly one, on its host.
type Watch struct {
	session transport.Session

	mu    sync.Mutex
	peers map[string]peer // id -> peer

	// absent fans in every peer's Absent() channel; disconnected()
	// drains it. Declared once, shared across the watch's lifetime.
	absent chan string
	stop   chan struct{}
}

// NewWatch returns an empty watch bound to session.
func NewWatch(session transport.Session) *Watch {
	return &Watch{
		session: session,
		peers:   make(map[string]peer),
		absent:  make(chan string, 8),
		stop:    make(chan struct{}),
	}
}

// Subscribe adds one peer (identified by id, watched at keyExpr) to
// the set. Re-subscribing the same id replaces its prior subscription.
func (w *Watch) Subscribe(ctx context.Context, id, keyExpr string) error {
	sub, err := w.session.DeclareLivelinessSubscriber(ctx, keyExpr)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if old, ok := w.peers[id]; ok {
		_ = old.sub.Close()
	}
	w.peers[id] = peer{id: id, sub: sub}
	w.mu.Unlock()

	go w.watchOne(id, sub)
	return nil
}

func (w *Watch) watchOne(id string, sub transport.LivelinessSubscriber) {
	select {
	case <-sub.Absent():
		w.mu.Lock()
		// Only report if this id's subscription is still the one we
		// started watching; Subscribe may have replaced it already.
		current, ok := w.peers[id]
		stillCurrent := ok && current.sub == sub
		if stillCurrent {
			delete(w.peers, id)
		}
		w.mu.Unlock()
		if stillCurrent {
			select {
			case w.absent <- id:
			case <-w.stop:
			}
		}
	case <-w.stop:
	}
}

// Unsubscribe removes id from the watch set without reporting a
// disconnect, used when a peer is removed through an ordinary
// protocol event (e.g. an explicit disconnect message) rather than
// liveliness loss.
func (w *Watch) Unsubscribe(id string) {
	w.mu.Lock()
	p, ok := w.peers[id]
	if ok {
		delete(w.peers, id)
	}
	w.mu.Unlock()
	if ok {
		_ = p.sub.Close()
	}
}

// HasSubscribers reports whether the watch set is non-empty.
func (w *Watch) HasSubscribers() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.peers) > 0
}

// Disconnected returns a channel that yields the id of whichever
// watched peer transitions to absent next. The channel is owned by
// the watch, not by the caller; callers select on it rather than
// calling this method in a loop.
func (w *Watch) Disconnected() <-chan string {
	return w.absent
}

// Close releases every subscription in the watch set.
func (w *Watch) Close() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, p := range w.peers {
		_ = p.sub.Close()
		delete(w.peers, id)
	}
}
