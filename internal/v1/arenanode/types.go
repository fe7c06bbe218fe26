// Package arenanode is the node lifecycle state machine: the
// Searching/Client/Host/Stopped role states, their transitions, and
// the Node type that dispatches a single public step() over whichever
// role is currently active. See the package-level design notes in
// node.go for the concurrency model.
package arenanode

import (
	"context"
	"fmt"

	"github.com/arenamesh/zarena/internal/v1/arenaerr"
	"github.com/arenamesh/zarena/internal/v1/keyexpr"
)

// NodeID is a validated, wildcard-free node name. Two ids are equal
// iff their underlying strings are equal.
type NodeID string

// NewNodeID validates a caller-supplied name and returns it as a
// NodeID.
func NewNodeID(name string) (NodeID, error) {
	if err := keyexpr.ValidateID(name); err != nil || name == "*" {
		return "", fmt.Errorf("%w: %q", arenaerr.ErrInvalidNodeName, name)
	}
	return NodeID(name), nil
}

func (id NodeID) String() string { return string(id) }

// RoleKind is the tag of the RoleState sum type.
type RoleKind int

const (
	RoleSearching RoleKind = iota
	RoleClient
	RoleHost
	RoleStopped
)

func (k RoleKind) String() string {
	switch k {
	case RoleSearching:
		return "searching"
	case RoleClient:
		return "client"
	case RoleHost:
		return "host"
	case RoleStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CommandKind tags the two shapes a Command may take.
type CommandKind int

const (
	CommandStop CommandKind = iota
	CommandGameAction
)

// Command is sent on the Node's external command channel: Stop ends
// the Node; GameAction carries one application action, forwarded to
// the Engine (directly if this Node is Host, via ActionPublisher if
// Client, discarded with a warning if Searching).
type Command[A any] struct {
	Kind   CommandKind
	Action A
}

// Stop builds a Stop command.
func Stop[A any]() Command[A] { return Command[A]{Kind: CommandStop} }

// GameAction builds a GameAction command.
func GameAction[A any](a A) Command[A] { return Command[A]{Kind: CommandGameAction, Action: a} }

// OutcomeKind tags the four shapes a StepOutcome may take.
type OutcomeKind int

const (
	OutcomeGameState OutcomeKind = iota
	OutcomeRoleChanged
	OutcomeTimeout
	OutcomeStop
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeGameState:
		return "game_state"
	case OutcomeRoleChanged:
		return "role_changed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// StepOutcome is returned by every call to Node.Step.
type StepOutcome[S any] struct {
	Kind  OutcomeKind
	State S
	Role  RoleKind
}

func timeoutOutcome[S any]() StepOutcome[S]         { return StepOutcome[S]{Kind: OutcomeTimeout} }
func stopOutcome[S any]() StepOutcome[S]             { return StepOutcome[S]{Kind: OutcomeStop} }
func roleChangedOutcome[S any](r RoleKind) StepOutcome[S] {
	return StepOutcome[S]{Kind: OutcomeRoleChanged, Role: r}
}
func gameStateOutcome[S any](s S) StepOutcome[S] {
	return StepOutcome[S]{Kind: OutcomeGameState, State: s}
}

// Action pairs an inbound game action with the id of the client that
// sent it; this is what flows on the Engine's action_sender channel.
type Action[A any] struct {
	SenderID NodeID
	Payload  A
}

// Engine is the application-supplied deterministic state machine. It
// runs on its own goroutine (or OS thread) and communicates with the
// Host role exclusively through the two channels it exposes; the Host
// never inspects a state value, only forwards it.
type Engine[A, S any] interface {
	// MaxClients returns the engine's capacity, or nil for unbounded.
	MaxClients() *int
	// SetNodeID is called once, before Run, with the hosting node's id.
	SetNodeID(id NodeID)
	// Run starts the engine, optionally resuming from initial. It
	// returns once the engine has been spun up; the engine keeps
	// running on its own goroutine afterward.
	Run(ctx context.Context, initial *S) error
	// Stop drains and terminates the engine. Called on leaving Host.
	Stop(ctx context.Context) error
	// ActionSender is the channel the Host writes (sender_id, action)
	// pairs to. Many-writer, single-reader.
	ActionSender() chan<- Action[A]
	// StateReceiver is the channel the Host reads new state snapshots
	// from. Single-writer, single-reader.
	StateReceiver() <-chan S
}

// EngineFactory constructs a fresh Engine instance each time a Node
// enters Host (including re-entering Host after a prior Host/Client
// cycle), matching the spec's "caller-supplied factory" construction
// point.
type EngineFactory[A, S any] func() Engine[A, S]
