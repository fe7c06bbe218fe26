// Package arenanode's concurrency model: Node.Step is the only public
// entry point that advances the state machine, and each call runs one
// step of whichever RoleState is currently active: a select loop that
// handles events which do not complete a step (a connection request, a
// client disconnect, an inbound action, a GameAction command) in place
// and returns on the first event that does. There is no
// internal driver goroutine; the caller (a binary's main loop, or a
// test) decides the cadence by calling Step repeatedly. Everything
// below Step (engines, pub/sub, liveliness watches) does run on its own
// goroutine, since those are genuinely concurrent external
// collaborators, not part of the state machine itself.
package arenanode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arenamesh/zarena/internal/v1/arenaerr"
	"github.com/arenamesh/zarena/internal/v1/keyexpr"
	"github.com/arenamesh/zarena/internal/v1/liveliness"
	"github.com/arenamesh/zarena/internal/v1/logging"
	"github.com/arenamesh/zarena/internal/v1/metrics"
	"github.com/arenamesh/zarena/internal/v1/transport"
	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// tracer emits one span per Step call, named and attributed the way
// DMRHub's HTTP middleware annotates request spans, scoped here to the
// role state machine instead of a request.
var tracer = otel.Tracer("github.com/arenamesh/zarena/internal/v1/arenanode")

// Node is the RoleState tagged union plus the fixed resources shared
// across every role: its id, session, engine factory and config. Only
// one of client/host is non-nil at a time, selected by role.
type Node[A, S any] struct {
	cfg     Config
	session transport.Session
	factory EngineFactory[A, S]
	selfID  NodeID

	cmdCh chan Command[A]

	mu        sync.RWMutex
	role      RoleKind
	lastState *S
	lastErr   error

	client *clientRole[A, S]
	host   *hostRole[A, S]

	nodeToken *liveliness.Token
	stats     *Stats
	scheduler gocron.Scheduler
}

func newNode[A, S any](ctx context.Context, session transport.Session, factory EngineFactory[A, S], cfg Config) (*Node[A, S], error) {
	nodeKE, err := keyexpr.Format(cfg.Prefix, keyexpr.RoleNode, ptr(cfg.Name.String()), nil)
	if err != nil {
		return nil, err
	}
	nodeToken, err := liveliness.Declare(ctx, session, nodeKE)
	if err != nil {
		return nil, fmt.Errorf("declare node presence: %w", err)
	}

	n := &Node[A, S]{
		cfg:       cfg,
		session:   session,
		factory:   factory,
		selfID:    cfg.Name,
		cmdCh:     make(chan Command[A], 32),
		role:      RoleSearching,
		nodeToken: nodeToken,
		stats:     NewStats(),
	}

	if cfg.ForceHost {
		host, err := n.enterHost(ctx)
		if err != nil {
			_ = nodeToken.Undeclare(ctx)
			return nil, err
		}
		n.host = host
		n.role = RoleHost
	}

	metrics.SetRole("", n.role.String())

	if cfg.StatsSampleInterval > 0 {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			logging.Warn(ctx, "stats sampler disabled, scheduler init failed", zap.Error(err))
		} else {
			_, err = scheduler.NewJob(
				gocron.DurationJob(cfg.StatsSampleInterval),
				gocron.NewTask(n.sampleStats),
			)
			if err != nil {
				logging.Warn(ctx, "stats sampler disabled, job registration failed", zap.Error(err))
			} else {
				scheduler.Start()
				n.scheduler = scheduler
			}
		}
	}

	return n, nil
}

// sampleStats refreshes the throughput gauge set from the node's
// cumulative counters. Runs on the stats sampler's own schedule, not
// tied to Step, so a quiet node's metrics don't look stale.
func (n *Node[A, S]) sampleStats() {
	snap := n.stats.Snapshot()
	metrics.ThroughputSample.WithLabelValues("game_states").Set(float64(snap.GameStates))
	metrics.ThroughputSample.WithLabelValues("timeouts").Set(float64(snap.Timeouts))
	metrics.ThroughputSample.WithLabelValues("stops").Set(float64(snap.Stops))
}

// ID returns this node's name.
func (n *Node[A, S]) ID() NodeID { return n.selfID }

// CurrentRole reports the currently active role, satisfying
// health.RoleReporter.
func (n *Node[A, S]) CurrentRole() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role.String()
}

// Healthy reports whether the node has not stopped and its last step
// completed without error, satisfying health.RoleReporter.
func (n *Node[A, S]) Healthy() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role != RoleStopped && n.lastErr == nil
}

// GameState returns the most recently observed state snapshot, or nil
// if none has arrived yet.
func (n *Node[A, S]) GameState() *S {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastState
}

// Sender returns the channel callers use to deliver commands to the
// node: a Stop request, or a game action to forward to the Engine.
func (n *Node[A, S]) Sender() chan<- Command[A] { return n.cmdCh }

// Stats returns a snapshot of this node's cumulative throughput
// counters.
func (n *Node[A, S]) Stats() ThroughputSnapshot { return n.stats.Snapshot() }

// ResetStats zeroes the throughput counters.
func (n *Node[A, S]) ResetStats() { n.stats.Reset() }

// Step runs one step of the active role and returns its outcome. Events
// that do not complete a step are handled without returning; Step
// returns on a state snapshot, a role change, a Stop command, or a
// timeout: step_timeout_break_ms for Client and Host, the search
// timeout (after any jitter) for Searching.
func (n *Node[A, S]) Step(ctx context.Context) (StepOutcome[S], error) {
	start := time.Now()
	n.mu.RLock()
	role := n.role
	n.mu.RUnlock()

	if role == RoleStopped {
		return stopOutcome[S](), arenaerr.ErrStopped
	}

	ctx, span := tracer.Start(ctx, "arenanode.Step", trace.WithAttributes(
		attribute.String("arena.role", role.String()),
	))
	defer span.End()

	var (
		next    RoleKind
		outcome StepOutcome[S]
		err     error
	)
	switch role {
	case RoleSearching:
		next, outcome, err = n.stepSearching(ctx)
	case RoleClient:
		next, outcome, err = n.stepClient(ctx)
	case RoleHost:
		next, outcome, err = n.stepHost(ctx)
	default:
		return stopOutcome[S](), arenaerr.ErrStopped
	}

	span.SetAttributes(
		attribute.String("arena.next_role", next.String()),
		attribute.String("arena.outcome", outcome.Kind.String()),
	)
	if err != nil {
		span.RecordError(err)
	}

	metrics.StepDuration.WithLabelValues(role.String()).Observe(time.Since(start).Seconds())
	n.stats.recordOutcome(outcome.Kind)

	n.mu.Lock()
	if next != role {
		metrics.SetRole(role.String(), next.String())
	}
	n.role = next
	n.lastErr = err
	if outcome.Kind == OutcomeGameState {
		state := outcome.State
		n.lastState = &state
	}
	n.mu.Unlock()

	return outcome, err
}

// Stop queues a Stop command on the node's command channel and returns
// once it is queued, or when ctx is canceled. The active role's
// resources are released by the Step call that receives the command.
func (n *Node[A, S]) Stop(ctx context.Context) error {
	select {
	case n.cmdCh <- Stop[A]():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the node's own presence claim and stops the stats
// sampler. Callers should first drive Step until it reports
// RoleStopped.
func (n *Node[A, S]) Close(ctx context.Context) error {
	if n.scheduler != nil {
		_ = n.scheduler.Shutdown()
	}
	return n.nodeToken.Undeclare(ctx)
}
