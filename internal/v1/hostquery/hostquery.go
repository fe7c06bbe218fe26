// Package hostquery implements the two-phase discovery-and-attach
// protocol a Searching node uses to find a Host, and the Host-side
// responder that classifies and answers those queries. See §4.3/4.4:
// this is host election without consensus — randomized competition
// (jitter, in the caller) followed by timeout-based capitulation, not
// a leader-election protocol.
package hostquery

import (
	"context"
	"time"

	"github.com/arenamesh/zarena/internal/v1/arenaerr"
	"github.com/arenamesh/zarena/internal/v1/keyexpr"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/transport"
	"go.uber.org/zap"
)

// ConnectionRequest is a pending connection query delivered to the
// Host's accept/reject handler. Exactly one of Accept/Reject must be
// called; either consumes the request.
type ConnectionRequest struct {
	query      transport.Query
	prefix     string
	selfHostID string
	clientID   string
	answered   bool
}

// ClientID is the id of the client requesting attachment.
func (r *ConnectionRequest) ClientID() string { return r.clientID }

// AttestationToken is the attach query's payload: the requesting
// client's node-to-node attestation token, or empty if the caller
// issued the query without one.
func (r *ConnectionRequest) AttestationToken() string { return string(r.query.Payload()) }

// Accept replies "ok" on <prefix>/link/<self_host_id>/<client_id> and
// returns the client id.
func (r *ConnectionRequest) Accept(ctx context.Context) (string, error) {
	if r.answered {
		return "", arenaerr.ErrAlreadyAnswered
	}
	r.answered = true
	replyKE, err := keyexpr.Format(r.prefix, keyexpr.RoleLink, &r.selfHostID, &r.clientID)
	if err != nil {
		return "", err
	}
	if err := r.query.Reply(ctx, replyKE, nil); err != nil {
		return "", err
	}
	return r.clientID, nil
}

// Reject replies with an error payload carrying reason.
func (r *ConnectionRequest) Reject(ctx context.Context, reason string) error {
	if r.answered {
		return arenaerr.ErrAlreadyAnswered
	}
	r.answered = true
	replyKE, err := keyexpr.Format(r.prefix, keyexpr.RoleLink, &r.selfHostID, &r.clientID)
	if err != nil {
		return err
	}
	return r.query.ReplyErr(ctx, replyKE, reason)
}

// Queryable is the Host-side responder, subscribed across
// <prefix>/link/*/*. Discovery probes (wildcard src) are answered
// immediately; connection requests (src == self) are handed to the
// caller via Requests().
type Queryable struct {
	inner      transport.Queryable
	prefix     string
	selfHostID string
	requests   chan *ConnectionRequest
	stop       chan struct{}
}

// Declare registers the Host's queryable. The subscribed pattern
// wildcards both the src and dst segments rather than just dst: a
// discovery probe's key expression carries a wildcard src ("any
// host, answer me"), and a transport whose subscriber-side globbing
// is one-directional (ours, over Redis) only sees that probe if the
// subscribed pattern wildcards the same segment. classify() still
// drops, without replying, connection requests not addressed to
// selfHostID.
func Declare(ctx context.Context, session transport.Session, prefix, selfHostID string) (*Queryable, error) {
	ke, err := keyexpr.Format(prefix, keyexpr.RoleLink, nil, nil)
	if err != nil {
		return nil, err
	}
	inner, err := session.DeclareQueryable(ctx, ke)
	if err != nil {
		return nil, err
	}

	q := &Queryable{
		inner:      inner,
		prefix:     prefix,
		selfHostID: selfHostID,
		requests:   make(chan *ConnectionRequest, 16),
		stop:       make(chan struct{}),
	}
	go q.classifyLoop(ctx)
	return q, nil
}

func (q *Queryable) classifyLoop(ctx context.Context) {
	for {
		select {
		case query, ok := <-q.inner.Queries():
			if !ok {
				return
			}
			q.classify(ctx, query)
		case <-q.stop:
			return
		}
	}
}

func (q *Queryable) classify(ctx context.Context, query transport.Query) {
	parsed, err := keyexpr.Parse(query.KeyExpr())
	if err != nil {
		logging.Warn(ctx, "discarding query with malformed key expression", zap.Error(err))
		return
	}
	if parsed.Role != keyexpr.RoleLink {
		logging.Warn(ctx, "discarding non-link query on host queryable", zap.String("keyExpr", query.KeyExpr()))
		return
	}

	switch {
	case parsed.ID1 == nil && parsed.ID2 != nil:
		// Discovery probe from a specific client: reply ok on our own
		// concrete address, resolving the query's wildcard src to
		// selfHostID so the querier learns which host answered.
		replyKE, err := keyexpr.Format(q.prefix, keyexpr.RoleLink, &q.selfHostID, parsed.ID2)
		if err != nil {
			logging.Warn(ctx, "failed to format discovery reply key", zap.Error(err))
			return
		}
		if err := query.Reply(ctx, replyKE, nil); err != nil {
			logging.Warn(ctx, "failed to reply to discovery probe", zap.Error(err))
		}
	case parsed.ID1 != nil && *parsed.ID1 == q.selfHostID && parsed.ID2 != nil:
		req := &ConnectionRequest{query: query, prefix: q.prefix, selfHostID: q.selfHostID, clientID: *parsed.ID2}
		select {
		case q.requests <- req:
		case <-q.stop:
		}
	default:
		logging.Warn(ctx, "discarding query with unrecognized src/dst combination", zap.String("keyExpr", query.KeyExpr()))
	}
}

// Requests yields classified connection requests.
func (q *Queryable) Requests() <-chan *ConnectionRequest { return q.requests }

// Close undeclares the queryable, stopping further classification.
func (q *Queryable) Close() error {
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
	return q.inner.Close()
}

// Connect runs the two-phase discovery-then-attach procedure and
// returns the id of the host it attached to, or "" if none was found.
// It makes exactly one attempt; the caller loops (with jitter/timeout)
// around Searching. attestToken, if non-empty, rides as the attach
// query's payload so the Host can authenticate the client before
// accepting; the discovery phase carries no token since it commits
// nothing.
func Connect(ctx context.Context, session transport.Session, prefix, selfID string, timeout time.Duration, attestToken string) (string, error) {
	discoveryKE, err := keyexpr.Format(prefix, keyexpr.RoleLink, nil, &selfID)
	if err != nil {
		return "", err
	}

	replies, err := session.Query(ctx, discoveryKE, nil, timeout)
	if err != nil {
		return "", err
	}

	var candidates []string
	for reply := range replies {
		if !reply.Ok {
			continue
		}
		parsed, err := keyexpr.Parse(reply.KeyExpr)
		if err != nil || parsed.ID1 == nil {
			continue
		}
		candidates = append(candidates, *parsed.ID1)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	for _, hostID := range candidates {
		attachKE, err := keyexpr.Format(prefix, keyexpr.RoleLink, &hostID, &selfID)
		if err != nil {
			continue
		}
		attachReplies, err := session.Query(ctx, attachKE, []byte(attestToken), timeout)
		if err != nil {
			continue
		}
		reply, ok := <-attachReplies
		if ok && reply.Ok {
			for range attachReplies {
				// drain any stray extra replies
			}
			return hostID, nil
		}
	}
	return "", nil
}
