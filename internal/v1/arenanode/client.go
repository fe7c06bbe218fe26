package arenanode

import (
	"context"
	"time"

	"github.com/arenamesh/zarena/internal/v1/keyexpr"
	"github.com/arenamesh/zarena/internal/v1/liveliness"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/pubsub"
	"go.uber.org/zap"
)

// clientRole holds everything ClientState needs while attached to a
// host: the action publisher toward it, the state subscriber from it,
// a presence claim for this node's own client role, and a liveliness
// watch over the host so its disappearance is noticed promptly.
type clientRole[A, S any] struct {
	hostID NodeID

	actionPub *pubsub.ActionPublisher[A]
	stateSub  *pubsub.StateSubscriber[S]

	selfToken *liveliness.Token
	hostWatch *liveliness.Watch
}

func (n *Node[A, S]) enterClient(ctx context.Context, hostID NodeID) (*clientRole[A, S], error) {
	clientKE, err := keyexpr.Format(n.cfg.Prefix, keyexpr.RoleClient, ptr(n.selfID.String()), nil)
	if err != nil {
		return nil, err
	}
	selfToken, err := liveliness.Declare(ctx, n.session, clientKE)
	if err != nil {
		return nil, err
	}

	actionPub, err := pubsub.NewActionPublisher[A](ctx, n.session, n.cfg.Prefix, n.selfID.String(), hostID.String(), nil)
	if err != nil {
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}
	stateSub, err := pubsub.NewStateSubscriber[S](ctx, n.session, n.cfg.Prefix, hostID.String(), nil)
	if err != nil {
		_ = actionPub.Close()
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}

	hostWatch := liveliness.NewWatch(n.session)
	hostKE, err := keyexpr.Format(n.cfg.Prefix, keyexpr.RoleHost, ptr(hostID.String()), nil)
	if err != nil {
		_ = stateSub.Close()
		_ = actionPub.Close()
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}
	if err := hostWatch.Subscribe(ctx, hostID.String(), hostKE); err != nil {
		_ = stateSub.Close()
		_ = actionPub.Close()
		_ = selfToken.Undeclare(ctx)
		return nil, err
	}

	return &clientRole[A, S]{
		hostID:    hostID,
		actionPub: actionPub,
		stateSub:  stateSub,
		selfToken: selfToken,
		hostWatch: hostWatch,
	}, nil
}

func (c *clientRole[A, S]) close(ctx context.Context) {
	c.hostWatch.Close()
	_ = c.stateSub.Close()
	_ = c.actionPub.Close()
	_ = c.selfToken.Undeclare(ctx)
}

// stepClient runs ClientState's single-step algorithm (§4.7): multiplex
// a host-liveliness-lost signal, an inbound state sample, and a
// command. A malformed state sample and a GameAction command are not
// step completions: each is handled and the loop returns to waiting
// within the same call, until a real state arrives, the host
// disappears, a command stops the node, the step timeout breaks, or
// ctx is canceled.
func (n *Node[A, S]) stepClient(ctx context.Context) (RoleKind, StepOutcome[S], error) {
	c := n.client
	timeout := time.NewTimer(n.cfg.StepTimeoutBreak)
	defer timeout.Stop()

	for {
		select {
		case <-c.hostWatch.Disconnected():
			logging.Warn(ctx, "host liveliness lost, returning to search", zap.String("hostID", c.hostID.String()))
			c.close(ctx)
			n.client = nil
			return RoleSearching, roleChangedOutcome[S](RoleSearching), nil

		case sample, ok := <-c.stateSub.Samples():
			if !ok {
				return RoleClient, timeoutOutcome[S](), nil
			}
			state, err := c.stateSub.Decode(sample)
			if err != nil {
				logging.Warn(ctx, "discarding malformed state sample", zap.Error(err))
				break
			}
			n.lastState = &state
			return RoleClient, gameStateOutcome(state), nil

		case cmd := <-n.cmdCh:
			switch cmd.Kind {
			case CommandStop:
				c.close(ctx)
				n.client = nil
				return RoleStopped, stopOutcome[S](), nil
			case CommandGameAction:
				if err := c.actionPub.Put(ctx, cmd.Action); err != nil {
					logging.Warn(ctx, "failed to publish action, discarding", zap.Error(err))
				}
			}

		case <-timeout.C:
			return RoleClient, timeoutOutcome[S](), nil

		case <-ctx.Done():
			return RoleClient, timeoutOutcome[S](), ctx.Err()
		}
	}
}

func ptr[T any](v T) *T { return &v }
