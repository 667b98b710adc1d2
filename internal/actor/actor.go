// Package actor provides a small actor-style event loop that pairs a pure
// state reducer with a runtime that executes declarative side effects.
//
//   - A single goroutine (the actor loop) owns the state.
//   - A pure reducer transforms state given an input and returns effects.
//   - A runtime interprets effects, possibly asynchronously, and emits
//     follow-up inputs back into the mailbox.
//
// The SDK uses it for state that is written from several call paths (host
// calls, timers, transport callbacks) so that every transition happens on one
// goroutine in mailbox order.
package actor

import (
	"context"
	"errors"
	"sync"
)

// defaultMailboxSize is the inbox buffer used when no option overrides it.
const defaultMailboxSize = 64

// Input is an item delivered to an actor mailbox: either a command from a
// caller or an event observed by the runtime.
type Input interface {
	isActorInput()
}

// Effect is a declarative side effect produced by a reducer. Effects are
// data; the Runtime executes them.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a state transition function.
//
// Reducers must not perform I/O, spawn goroutines, or read the clock. The one
// permitted side effect is completing a reply channel carried by the input or
// held in state; those channels must be buffered.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and emits follow-up inputs.
type Runtime interface {
	// HandleEffects executes effects on the actor goroutine. Blocking work
	// must be moved to another goroutine. Implementations must stop emitting
	// once ctx is canceled.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases background resources. It may be called more than once.
	Stop()
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnTransition is called after every reduction.
	OnTransition func(prev S, next S, input Input)
	// OnDrop is called when an input is rejected because the mailbox is
	// full.
	OnDrop func(input Input)
	// OnPanic is called when the loop panics. If nil, the panic propagates.
	OnPanic func(recovered any)
}

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu    sync.Mutex
	state S

	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	start  sync.Once
	stop   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New creates an actor with initial state, reducer and runtime. The loop does
// not run until Start.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, defaultMailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop. Calling it again has no effect.
func (a *Actor[S]) Start() {
	a.start.Do(func() { go a.loop() })
}

// Stop cancels the actor context and stops the runtime. Inputs already in
// the mailbox are discarded. Safe to call more than once, and before Start.
func (a *Actor[S]) Stop() {
	a.stop.Do(func() {
		a.cancel()
		if a.runtime != nil {
			a.runtime.Stop()
		}
	})
}

// Stopped reports whether Stop has been called.
func (a *Actor[S]) Stopped() bool {
	return a.ctx.Err() != nil
}

// Done returns a channel closed when the loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue delivers an input without blocking. It returns false when the
// actor is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil || a.Stopped() {
		return false
	}
	select {
	case a.inbox <- input:
		return true
	default:
		if a.hooks.OnDrop != nil {
			a.hooks.OnDrop(input)
		}
		return false
	}
}

// Send delivers an input, waiting for mailbox space until ctx is done or the
// actor stops.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.Stopped() {
		return ErrStopped
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current state. Intended for observability
// and tests.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	emit := func(in Input) { _ = a.Enqueue(in) }

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if a.ctx.Err() != nil {
				return
			}

			a.mu.Lock()
			prev := a.state
			a.mu.Unlock()

			next, effects := a.reduce(prev, in)

			a.mu.Lock()
			a.state = next
			a.mu.Unlock()

			if a.hooks.OnTransition != nil {
				a.hooks.OnTransition(prev, next, in)
			}
			if a.runtime != nil && len(effects) > 0 {
				a.runtime.HandleEffects(a.ctx, effects, emit)
			}
		}
	}
}

// ErrStopped is returned when input is sent to a stopped actor.
var ErrStopped = errors.New("actor stopped")
