package arenanode

import (
	"context"
	"fmt"
	"time"

	"github.com/arenamesh/zarena/internal/v1/hostquery"
	"github.com/arenamesh/zarena/internal/v1/keyexpr"
	"github.com/arenamesh/zarena/internal/v1/liveliness"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/metrics"
	"github.com/arenamesh/zarena/internal/v1/pubsub"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// reasonAtCapacity is the literal reject reason a full Host sends back
// to a client attempting to attach.
const reasonAtCapacity = "Maximum number of clients reached"

// hostRole holds everything HostState needs while hosting: the engine
// instance, the action subscriber feeding it, the state publisher
// broadcasting its output, the queryable answering discovery/attach
// queries, a presence claim for this node's host role, and a
// liveliness watch over every attached client. queryable is nil
// exactly when the client set is at capacity: the Host stops
// answering discovery/attach queries entirely while full, rather than
// accepting them only to reject.
type hostRole[A, S any] struct {
	engine Engine[A, S]

	actionSub *pubsub.ActionSubscriber[A]
	statePub  *pubsub.StatePublisher[S]
	queryable *hostquery.Queryable

	selfToken   *liveliness.Token
	clientWatch *liveliness.Watch
	clients     set.Set[NodeID]
	maxClients  *int
}

func (n *Node[A, S]) enterHost(ctx context.Context) (*hostRole[A, S], error) {
	hostKE, err := keyexpr.Format(n.cfg.Prefix, keyexpr.RoleHost, ptr(n.selfID.String()), nil)
	if err != nil {
		return nil, err
	}
	selfToken, err := liveliness.Declare(ctx, n.session, hostKE)
	if err != nil {
		return nil, err
	}

	engine := n.factory()
	engine.SetNodeID(n.selfID)
	if err := engine.Run(ctx, n.lastState); err != nil {
		_ = selfToken.Undeclare(ctx)
		return nil, fmt.Errorf("start engine: %w", err)
	}

	actionSub, err := pubsub.NewActionSubscriber[A](ctx, n.session, n.cfg.Prefix, n.selfID.String(), nil)
	if err != nil {
		_ = engine.Stop(ctx)
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}
	statePub, err := pubsub.NewStatePublisher[S](ctx, n.session, n.cfg.Prefix, n.selfID.String(), nil)
	if err != nil {
		_ = actionSub.Close()
		_ = engine.Stop(ctx)
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}
	queryable, err := hostquery.Declare(ctx, n.session, n.cfg.Prefix, n.selfID.String())
	if err != nil {
		_ = statePub.Close()
		_ = actionSub.Close()
		_ = engine.Stop(ctx)
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}

	metrics.HostClients.Set(0)
	return &hostRole[A, S]{
		engine:      engine,
		actionSub:   actionSub,
		statePub:    statePub,
		queryable:   queryable,
		selfToken:   selfToken,
		clientWatch: liveliness.NewWatch(n.session),
		clients:     set.New[NodeID](),
		maxClients:  engine.MaxClients(),
	}, nil
}

func (h *hostRole[A, S]) close(ctx context.Context) {
	h.clientWatch.Close()
	if h.queryable != nil {
		_ = h.queryable.Close()
	}
	_ = h.statePub.Close()
	_ = h.actionSub.Close()
	_ = h.engine.Stop(ctx)
	_ = h.selfToken.Undeclare(ctx)
}

func (h *hostRole[A, S]) atCapacity() bool {
	return h.maxClients != nil && h.clients.Len() >= *h.maxClients
}

// requestsChan returns the queryable's request channel, or nil while
// at capacity: a nil channel blocks forever in a select, which is
// exactly "stop answering requests" without special-casing the
// select itself.
func (h *hostRole[A, S]) requestsChan() <-chan *hostquery.ConnectionRequest {
	if h.queryable == nil {
		return nil
	}
	return h.queryable.Requests()
}

// stepHost runs HostState's single-step algorithm (§4.8): multiplex
// connection requests, client disconnects, inbound client actions, the
// engine's state output, and commands. A connection request, a client
// disconnect, an inbound action, and a GameAction command are not step
// completions: each is handled and the loop returns to waiting within
// the same call, until the engine emits a new state, a command stops
// the node, the step timeout breaks, or ctx is canceled. ForceHost
// nodes only ever leave via CommandStop; no branch here ever returns a
// non-Host, non-Stopped role otherwise, so that invariant holds
// without an extra check.
func (n *Node[A, S]) stepHost(ctx context.Context) (RoleKind, StepOutcome[S], error) {
	h := n.host
	timeout := time.NewTimer(n.cfg.StepTimeoutBreak)
	defer timeout.Stop()

	for {
		select {
		case req, ok := <-h.requestsChan():
			if !ok {
				return RoleHost, timeoutOutcome[S](), nil
			}
			n.handleConnectionRequest(ctx, req)

		case clientID := <-h.clientWatch.Disconnected():
			h.clients.Delete(NodeID(clientID))
			metrics.HostClients.Set(float64(h.clients.Len()))
			logging.Info(ctx, "client disconnected", zap.String("clientID", clientID))
			if h.queryable == nil {
				queryable, err := hostquery.Declare(ctx, n.session, n.cfg.Prefix, n.selfID.String())
				if err != nil {
					logging.Warn(ctx, "failed to reinstate queryable after disconnect freed capacity", zap.Error(err))
				} else {
					h.queryable = queryable
				}
			}

		case sample, ok := <-h.actionSub.Samples():
			if !ok {
				return RoleHost, timeoutOutcome[S](), nil
			}
			senderID, action, err := h.actionSub.Decode(sample)
			if err != nil {
				logging.Warn(ctx, "discarding malformed action sample", zap.Error(err))
				break
			}
			select {
			case h.engine.ActionSender() <- Action[A]{SenderID: NodeID(senderID), Payload: action}:
			case <-ctx.Done():
				return RoleHost, timeoutOutcome[S](), ctx.Err()
			}

		case state, ok := <-h.engine.StateReceiver():
			if !ok {
				return RoleHost, timeoutOutcome[S](), nil
			}
			n.lastState = &state
			if err := h.statePub.Put(ctx, state); err != nil {
				logging.Warn(ctx, "failed to broadcast state", zap.Error(err))
			}
			return RoleHost, gameStateOutcome(state), nil

		case cmd := <-n.cmdCh:
			switch cmd.Kind {
			case CommandStop:
				h.close(ctx)
				n.host = nil
				return RoleStopped, stopOutcome[S](), nil
			case CommandGameAction:
				select {
				case h.engine.ActionSender() <- Action[A]{SenderID: n.selfID, Payload: cmd.Action}:
				case <-ctx.Done():
					return RoleHost, timeoutOutcome[S](), ctx.Err()
				}
			}

		case <-timeout.C:
			return RoleHost, timeoutOutcome[S](), nil

		case <-ctx.Done():
			return RoleHost, timeoutOutcome[S](), ctx.Err()
		}
	}
}

// handleConnectionRequest answers one connection request: a capacity
// check, a rate limit check, an attestation check (when configured),
// then Accept and a liveliness subscription. Every path answers the
// request exactly once; errors are logged and counted rather than
// propagated, since a malformed or rejected attach attempt is not
// itself a reason to end the current step.
func (n *Node[A, S]) handleConnectionRequest(ctx context.Context, req *hostquery.ConnectionRequest) {
	h := n.host
	clientID := req.ClientID()

	if h.atCapacity() {
		if err := req.Reject(ctx, reasonAtCapacity); err != nil {
			logging.Warn(ctx, "failed to reject connection request", zap.Error(err))
		}
		metrics.HostConnectionAttempts.WithLabelValues("rejected_capacity").Inc()
		return
	}

	if n.cfg.RateLimiter != nil {
		if err := n.cfg.RateLimiter.AllowConnect(ctx, clientID); err != nil {
			if rejErr := req.Reject(ctx, "rate limited"); rejErr != nil {
				logging.Warn(ctx, "failed to reject rate-limited connection request", zap.Error(rejErr))
			}
			metrics.HostConnectionAttempts.WithLabelValues("rejected_rate_limit").Inc()
			return
		}
	}

	if n.cfg.AttestValidator != nil {
		claims, err := n.cfg.AttestValidator.Validate(req.AttestationToken())
		if err != nil || claims.NodeID != clientID {
			if rejErr := req.Reject(ctx, "invalid attestation"); rejErr != nil {
				logging.Warn(ctx, "failed to reject unattested connection request", zap.Error(rejErr))
			}
			metrics.HostConnectionAttempts.WithLabelValues("rejected_attestation").Inc()
			return
		}
	}

	if _, err := req.Accept(ctx); err != nil {
		logging.Warn(ctx, "failed to accept connection request", zap.Error(err))
		metrics.HostConnectionAttempts.WithLabelValues("error").Inc()
		return
	}

	clientKE, err := keyexpr.Format(n.cfg.Prefix, keyexpr.RoleClient, ptr(clientID), nil)
	if err != nil {
		logging.Warn(ctx, "failed to format client watch key expression", zap.Error(err))
		metrics.HostConnectionAttempts.WithLabelValues("error").Inc()
		return
	}
	if err := h.clientWatch.Subscribe(ctx, clientID, clientKE); err != nil {
		logging.Warn(ctx, "failed to subscribe to client liveliness", zap.Error(err))
		metrics.HostConnectionAttempts.WithLabelValues("error").Inc()
		return
	}

	h.clients.Insert(NodeID(clientID))
	metrics.HostClients.Set(float64(h.clients.Len()))
	metrics.HostConnectionAttempts.WithLabelValues("accepted").Inc()

	if h.atCapacity() {
		if err := h.queryable.Close(); err != nil {
			logging.Warn(ctx, "failed to undeclare queryable at capacity", zap.Error(err))
		}
		h.queryable = nil
	}
}
