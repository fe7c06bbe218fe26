package arenanode

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/arenamesh/zarena/internal/v1/hostquery"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"go.uber.org/zap"
)

// stepSearching runs SearchingState's single-step algorithm (§4.6): a
// randomized jitter delay to break ties among peers that lost the
// same host simultaneously, then a concurrent wait for the host
// query to resolve, the search timeout to elapse, or a command.
func (n *Node[A, S]) stepSearching(ctx context.Context) (RoleKind, StepOutcome[S], error) {
	if n.cfg.SearchJitter > 0 {
		jitter := time.Duration(rand.Int64N(int64(n.cfg.SearchJitter) + 1))
		select {
		case <-time.After(jitter):
		case cmd := <-n.cmdCh:
			if cmd.Kind == CommandStop {
				return RoleStopped, stopOutcome[S](), nil
			}
			logging.Warn(ctx, "discarding game action while searching (pre-jitter)")
		case <-ctx.Done():
			return RoleSearching, timeoutOutcome[S](), ctx.Err()
		}
	}

	if n.cfg.RateLimiter != nil {
		if err := n.cfg.RateLimiter.AllowDiscovery(ctx, n.selfID.String()); err != nil {
			logging.Warn(ctx, "discovery query throttled, waiting for next step", zap.Error(err))
			return RoleSearching, timeoutOutcome[S](), nil
		}
	}

	var attestToken string
	if n.cfg.AttestIssuer != nil {
		token, err := n.cfg.AttestIssuer.Issue(n.selfID.String())
		if err != nil {
			logging.Warn(ctx, "failed to issue attestation token, attaching unauthenticated", zap.Error(err))
		} else {
			attestToken = token
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, n.cfg.SearchTimeout)
	defer cancel()

	type connectResult struct {
		hostID string
		err    error
	}
	connectDone := make(chan connectResult, 1)
	go func() {
		hostID, err := hostquery.Connect(connectCtx, n.session, n.cfg.Prefix, n.selfID.String(), n.cfg.SearchTimeout, attestToken)
		connectDone <- connectResult{hostID: hostID, err: err}
	}()

	for {
		select {
		case cmd := <-n.cmdCh:
			if cmd.Kind == CommandStop {
				cancel()
				return RoleStopped, stopOutcome[S](), nil
			}
			logging.Warn(ctx, "discarding game action while searching (no host yet)")

		case res := <-connectDone:
			if res.err != nil {
				// Transport errors during connect fall back to "no host
				// found" at the Searching level so the normal fallback to
				// Host still occurs.
				logging.Warn(ctx, "host query failed, treating as no host found", zap.Error(res.err))
				res.hostID = ""
			}
			if res.hostID != "" {
				client, err := n.enterClient(ctx, NodeID(res.hostID))
				if err != nil {
					return RoleSearching, timeoutOutcome[S](), err
				}
				n.client = client
				return RoleClient, roleChangedOutcome[S](RoleClient), nil
			}

			host, err := n.enterHost(ctx)
			if err != nil {
				return RoleSearching, timeoutOutcome[S](), err
			}
			n.host = host
			return RoleHost, roleChangedOutcome[S](RoleHost), nil

		case <-connectCtx.Done():
			// search_timeout_ms elapsed without a definitive connect
			// result; capitulate to Host rather than wait indefinitely.
			host, err := n.enterHost(ctx)
			if err != nil {
				return RoleSearching, timeoutOutcome[S](), err
			}
			n.host = host
			return RoleHost, roleChangedOutcome[S](RoleHost), nil
		}
	}
}
