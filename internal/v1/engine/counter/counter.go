// Package counter is the simplest possible Engine: a shared counter
// that clients increment or decrement, the arena's equivalent of a
// hello-world game. It exists to exercise arenanode.Engine end to end
// with a minimal action/state shape.
package counter

import (
	"context"
	"sync"

	"github.com/arenamesh/zarena/internal/v1/arenanode"
)

// ActionKind is the only thing a Counter action can carry.
type ActionKind int

const (
	Increment ActionKind = iota
	Decrement
)

// Action is the Counter engine's action payload.
type Action struct {
	Kind ActionKind
}

// State is the Counter engine's state snapshot.
type State struct {
	Count int64 `json:"count"`
}

// Engine maintains the counter and applies Increment/Decrement actions
// to it on its own goroutine, relaying each resulting State to
// StateReceiver.
type Engine struct {
	mu     sync.Mutex
	nodeID arenanode.NodeID

	input  chan arenanode.Action[Action]
	output chan State

	stop chan struct{}
	done chan struct{}
}

// New returns an unstarted Counter engine with room for two clients,
// matching the reference implementation's capacity.
func New() *Engine {
	return &Engine{
		input:  make(chan arenanode.Action[Action], 32),
		output: make(chan State, 32),
		stop:   make(chan struct{}),
	}
}

// Factory adapts New to arenanode.EngineFactory.
func Factory() arenanode.EngineFactory[Action, State] {
	return func() arenanode.Engine[Action, State] { return New() }
}

func (e *Engine) MaxClients() *int {
	max := 2
	return &max
}

func (e *Engine) SetNodeID(id arenanode.NodeID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodeID = id
}

// Run starts the counter's processing loop, resuming from initial if
// given.
func (e *Engine) Run(ctx context.Context, initial *State) error {
	state := State{}
	if initial != nil {
		state = *initial
	}
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		for {
			select {
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			case action := <-e.input:
				switch action.Payload.Kind {
				case Increment:
					state.Count++
				case Decrement:
					state.Count--
				}
				select {
				case e.output <- state:
				case <-e.stop:
					return
				}
			}
		}
	}()
	return nil
}

// Stop signals the processing loop to exit and waits for it to do so.
func (e *Engine) Stop(ctx context.Context) error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	if e.done == nil {
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) ActionSender() chan<- arenanode.Action[Action] { return e.input }

func (e *Engine) StateReceiver() <-chan State { return e.output }
