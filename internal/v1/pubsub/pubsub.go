// Package pubsub provides the typed action/state publisher and
// subscriber wrappers the Client and Host role states use: thin
// generic layers over transport.Publisher/Subscriber that know how to
// build their own key expression, encode/decode payloads, and pull the
// sender id out of an inbound sample's key expression.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arenamesh/zarena/internal/v1/arenaerr"
	"github.com/arenamesh/zarena/internal/v1/keyexpr"
	"github.com/arenamesh/zarena/internal/v1/transport"
)

// Codec encodes and decodes the payload type a publisher/subscriber
// pair carries. JSONCodec is the default; an Engine may supply its own
// for a more compact wire format without touching the runtime.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec is the default Codec, encoding values as JSON.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// ActionPublisher is declared on <prefix>/link/<self_client_id>/<host_id>
// and publishes a Client's actions to its Host.
type ActionPublisher[A any] struct {
	pub   transport.Publisher
	codec Codec[A]
}

// NewActionPublisher declares a publisher from a client to hostID.
func NewActionPublisher[A any](ctx context.Context, session transport.Session, prefix, selfClientID, hostID string, codec Codec[A]) (*ActionPublisher[A], error) {
	ke, err := keyexpr.Format(prefix, keyexpr.RoleLink, &selfClientID, &hostID)
	if err != nil {
		return nil, err
	}
	pub, err := session.DeclarePublisher(ctx, ke)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		codec = JSONCodec[A]{}
	}
	return &ActionPublisher[A]{pub: pub, codec: codec}, nil
}

// Put encodes and publishes one action.
func (p *ActionPublisher[A]) Put(ctx context.Context, a A) error {
	data, err := p.codec.Encode(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	return p.pub.Put(ctx, data)
}

// Close releases the underlying publisher.
func (p *ActionPublisher[A]) Close() error { return p.pub.Close() }

// StatePublisher is declared on <prefix>/link/<self_host_id>/* and
// broadcasts a Host's state snapshots to every attached Client.
type StatePublisher[S any] struct {
	pub   transport.Publisher
	codec Codec[S]
}

// NewStatePublisher declares a broadcast publisher for a Host.
func NewStatePublisher[S any](ctx context.Context, session transport.Session, prefix, selfHostID string, codec Codec[S]) (*StatePublisher[S], error) {
	ke, err := keyexpr.Format(prefix, keyexpr.RoleLink, &selfHostID, nil)
	if err != nil {
		return nil, err
	}
	pub, err := session.DeclarePublisher(ctx, ke)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		codec = JSONCodec[S]{}
	}
	return &StatePublisher[S]{pub: pub, codec: codec}, nil
}

// Put encodes and broadcasts one state snapshot.
func (p *StatePublisher[S]) Put(ctx context.Context, s S) error {
	data, err := p.codec.Encode(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return p.pub.Put(ctx, data)
}

// Close releases the underlying publisher.
func (p *StatePublisher[S]) Close() error { return p.pub.Close() }

// ActionSubscriber is declared on <prefix>/link/*/<self_host_id> and
// receives every attached Client's actions. Callers select on Samples
// and call Decode themselves, so the subscriber composes into the
// role state's single select statement rather than blocking on its
// own recv.
type ActionSubscriber[A any] struct {
	sub   transport.Subscriber
	codec Codec[A]
}

// NewActionSubscriber declares the Host's inbound action subscriber.
func NewActionSubscriber[A any](ctx context.Context, session transport.Session, prefix, selfHostID string, codec Codec[A]) (*ActionSubscriber[A], error) {
	ke, err := keyexpr.Format(prefix, keyexpr.RoleLink, nil, &selfHostID)
	if err != nil {
		return nil, err
	}
	sub, err := session.DeclareSubscriber(ctx, ke)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		codec = JSONCodec[A]{}
	}
	return &ActionSubscriber[A]{sub: sub, codec: codec}, nil
}

// Samples exposes the raw sample channel for use inside a select.
func (s *ActionSubscriber[A]) Samples() <-chan transport.Sample { return s.sub.Samples() }

// Decode extracts the sender id from sample's key expression and
// decodes its payload. It returns arenaerr.ErrProtocolViolation if the
// sender segment is a wildcard, which should never happen for a
// well-formed action sample.
func (s *ActionSubscriber[A]) Decode(sample transport.Sample) (senderID string, action A, err error) {
	var zero A
	parsed, err := keyexpr.Parse(sample.KeyExpr)
	if err != nil {
		return "", zero, err
	}
	if parsed.ID1 == nil {
		return "", zero, fmt.Errorf("%w: action sample with wildcard sender", arenaerr.ErrProtocolViolation)
	}
	action, err = s.codec.Decode(sample.Payload)
	if err != nil {
		return "", zero, fmt.Errorf("decode action: %w", err)
	}
	return *parsed.ID1, action, nil
}

// Close releases the underlying subscriber.
func (s *ActionSubscriber[A]) Close() error { return s.sub.Close() }

// StateSubscriber is declared on <prefix>/link/<host_id>/* and
// receives one Host's state broadcasts. The destination segment is a
// wildcard rather than the client's own id: a real zenoh transport
// matches a wildcard publisher key against any subscriber key it
// intersects, but our Redis-backed transport only globs on the
// subscriber side, so publisher and subscriber here share the
// identical broadcast pattern instead of the host addressing each
// client individually.
type StateSubscriber[S any] struct {
	sub   transport.Subscriber
	codec Codec[S]
}

// NewStateSubscriber declares a client's inbound state subscriber for
// the given host's broadcast channel.
func NewStateSubscriber[S any](ctx context.Context, session transport.Session, prefix, hostID string, codec Codec[S]) (*StateSubscriber[S], error) {
	ke, err := keyexpr.Format(prefix, keyexpr.RoleLink, &hostID, nil)
	if err != nil {
		return nil, err
	}
	sub, err := session.DeclareSubscriber(ctx, ke)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		codec = JSONCodec[S]{}
	}
	return &StateSubscriber[S]{sub: sub, codec: codec}, nil
}

// Samples exposes the raw sample channel for use inside a select.
func (s *StateSubscriber[S]) Samples() <-chan transport.Sample { return s.sub.Samples() }

// Decode decodes sample's payload as a state snapshot.
func (s *StateSubscriber[S]) Decode(sample transport.Sample) (S, error) {
	return s.codec.Decode(sample.Payload)
}

// Close releases the underlying subscriber.
func (s *StateSubscriber[S]) Close() error { return s.sub.Close() }
