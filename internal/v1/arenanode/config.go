package arenanode

import (
	"context"
	"time"

	"github.com/arenamesh/zarena/internal/v1/auth"
	"github.com/arenamesh/zarena/internal/v1/namegen"
	"github.com/arenamesh/zarena/internal/v1/ratelimit"
	"github.com/arenamesh/zarena/internal/v1/transport"
)

// Default timing parameters, per the timing parameters table: max
// dwell inside one step with no state-carrying event, how long
// Searching waits before giving up and becoming Host, and the max
// randomized pre-search delay.
const (
	DefaultStepTimeoutBreak = 100 * time.Millisecond
	DefaultSearchTimeout    = 3000 * time.Millisecond
	DefaultSearchJitter     = 0 * time.Millisecond
)

// Config holds a Node's fixed configuration, set once at build time.
type Config struct {
	Prefix              string
	Name                NodeID
	ForceHost           bool
	StepTimeoutBreak    time.Duration
	SearchTimeout       time.Duration
	SearchJitter        time.Duration
	StatsSampleInterval time.Duration

	// RateLimiter, if set, throttles how often this node re-issues
	// discovery queries (Searching) and how often it accepts connection
	// requests (Host), per source NodeId. Nil disables throttling.
	RateLimiter *ratelimit.Limiter

	// AttestIssuer, if set, mints a node-to-node attestation token this
	// node presents when attaching to a Host. AttestValidator, if set,
	// is the Host-side counterpart checking that token before accept().
	// Both nil disables attestation entirely (any client may attach).
	AttestIssuer    *auth.Issuer
	AttestValidator *auth.Validator
}

// Builder constructs a Node, mirroring the caller-facing builder chain
// session.declare_arena_node(engine).name(...).force_host(b).prefix(ke)....
type Builder[A, S any] struct {
	session transport.Session
	factory EngineFactory[A, S]
	cfg     Config
	nameErr error
}

// NewBuilder starts a builder bound to session and engineFactory.
// Defaults match the timing parameters table; Prefix must be set
// before Build.
func NewBuilder[A, S any](session transport.Session, factory EngineFactory[A, S]) *Builder[A, S] {
	return &Builder[A, S]{
		session: session,
		factory: factory,
		cfg: Config{
			StepTimeoutBreak:    DefaultStepTimeoutBreak,
			SearchTimeout:       DefaultSearchTimeout,
			SearchJitter:        DefaultSearchJitter,
			StatsSampleInterval: 10 * time.Second,
		},
	}
}

// Prefix sets the arena address prefix (wildcard-free).
func (b *Builder[A, S]) Prefix(prefix string) *Builder[A, S] {
	b.cfg.Prefix = prefix
	return b
}

// Name sets a caller-supplied node name; if never called, Build
// generates a pronounceable one via namegen.
func (b *Builder[A, S]) Name(name string) *Builder[A, S] {
	id, err := NewNodeID(name)
	if err != nil {
		b.nameErr = err
		return b
	}
	b.cfg.Name = id
	return b
}

// ForceHost makes the initial state Host and disallows any transition
// out of Host or into any other variant.
func (b *Builder[A, S]) ForceHost(v bool) *Builder[A, S] {
	b.cfg.ForceHost = v
	return b
}

// StepTimeoutBreakMs sets the max dwell inside one step with no
// state-carrying event.
func (b *Builder[A, S]) StepTimeoutBreakMs(ms int) *Builder[A, S] {
	b.cfg.StepTimeoutBreak = time.Duration(ms) * time.Millisecond
	return b
}

// SearchTimeoutMs sets how long Searching waits before becoming Host.
func (b *Builder[A, S]) SearchTimeoutMs(ms int) *Builder[A, S] {
	b.cfg.SearchTimeout = time.Duration(ms) * time.Millisecond
	return b
}

// SearchJitterMs sets the max randomized pre-search delay.
func (b *Builder[A, S]) SearchJitterMs(ms int) *Builder[A, S] {
	b.cfg.SearchJitter = time.Duration(ms) * time.Millisecond
	return b
}

// StatsSampleInterval sets how often throughput counters are
// snapshotted into the ThroughputSnapshot gauge set.
func (b *Builder[A, S]) StatsSampleInterval(d time.Duration) *Builder[A, S] {
	b.cfg.StatsSampleInterval = d
	return b
}

// RateLimiter attaches per-NodeId discovery/connect throttling.
func (b *Builder[A, S]) RateLimiter(l *ratelimit.Limiter) *Builder[A, S] {
	b.cfg.RateLimiter = l
	return b
}

// Attestation attaches node-to-node attestation: issuer mints this
// node's own token (presented when attaching to a Host); validator
// checks tokens presented by clients attaching to this node while it
// is Host. Either may be nil to disable that half independently (e.g.
// a node that only ever runs as Client has no need for a validator).
func (b *Builder[A, S]) Attestation(issuer *auth.Issuer, validator *auth.Validator) *Builder[A, S] {
	b.cfg.AttestIssuer = issuer
	b.cfg.AttestValidator = validator
	return b
}

// Build validates the configuration and spins up the Node. If Name
// was never set, a pronounceable id is generated. If ForceHost is
// true, the Node starts directly in Host; otherwise it starts
// Searching.
func (b *Builder[A, S]) Build(ctx context.Context) (*Node[A, S], error) {
	if b.nameErr != nil {
		return nil, b.nameErr
	}
	if b.cfg.Name == "" {
		generated, err := namegen.Generate()
		if err != nil {
			return nil, err
		}
		id, err := NewNodeID(generated)
		if err != nil {
			return nil, err
		}
		b.cfg.Name = id
	}

	return newNode(ctx, b.session, b.factory, b.cfg)
}
