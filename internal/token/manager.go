package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
)

// Options configures a Manager.
type Options struct {
	Clock           actor.Clock
	RefreshInterval time.Duration
	Retry           RetryPolicy
	// Debug logs every state transition.
	Debug bool
}

// Manager is the token lifecycle owner. It is safe for concurrent use.
type Manager struct {
	actor   *actor.Actor[State]
	runtime *Runtime
	clock   actor.Clock

	current atomic.Pointer[Token]

	mu        sync.Mutex
	listeners map[int]func(*Token)
	nextID    int

	teardown sync.Once
}

// NewManager starts a Manager that mints through minter.
func NewManager(minter Minter, opts Options) *Manager {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	clock := opts.Clock
	if clock == nil {
		clock = actor.RealClock{}
	}

	m := &Manager{clock: clock, listeners: make(map[int]func(*Token))}
	m.runtime = NewRuntime(minter, clock, opts.Retry, m.publish)

	hooks := actor.Hooks[State]{
		OnPanic: func(rec any) { logger.Errorf("token: actor panic: %v", rec) },
	}
	if opts.Debug {
		hooks.OnTransition = func(prev, next State, in actor.Input) {
			if prev.Phase != next.Phase {
				logger.Debugf("token: %s -> %s on %T", prev.Phase, next.Phase, in)
			}
		}
	}

	initial := State{Phase: PhaseNoToken, RefreshInterval: interval}
	m.actor = actor.New(initial, Reduce, m.runtime, actor.WithHooks(hooks))
	m.actor.Start()
	return m
}

// Acquire mints a token for id and makes it current. Concurrent calls with
// the same identity share one mint. A failed acquisition leaves any previous
// token in place.
func (m *Manager) Acquire(ctx context.Context, id Identity) (*Token, error) {
	reply := make(chan result, 1)
	return m.await(ctx, "token.acquire", cmdAcquire{Identity: id, Reply: reply}, reply)
}

// Revoke reacts to a backend signal that the current token is no longer
// valid. The token is invalidated immediately and exactly one re-mint is
// attempted with the last identity. On failure the manager is left with no
// token and the error is PermissionDenied or ChatTokenExpired.
func (m *Manager) Revoke(ctx context.Context) (*Token, error) {
	reply := make(chan result, 1)
	return m.await(ctx, "token.revoke", cmdRevoke{Reply: reply}, reply)
}

func (m *Manager) await(ctx context.Context, op string, in actor.Input, reply chan result) (*Token, error) {
	if err := m.actor.Send(ctx, in); err != nil {
		if errors.Is(err, actor.ErrStopped) {
			return nil, sdkerr.Wrap(sdkerr.ErrTornDown, op, nil)
		}
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Token, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.actor.Done():
		return nil, sdkerr.Wrap(sdkerr.ErrTornDown, op, nil)
	}
}

// Current returns the current token, or nil. It never blocks and never
// observes a partially updated token.
func (m *Manager) Current() *Token {
	return m.current.Load()
}

// Phase returns the state machine phase.
func (m *Manager) Phase() Phase {
	return m.actor.State().Phase
}

// OnSwap registers fn to be called, on its own goroutine, whenever the
// current token changes. A nil token means the current token was
// invalidated. The returned func unregisters fn.
func (m *Manager) OnSwap(fn func(*Token)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Teardown cancels the refresh timer, drops the current token and rejects
// all future calls. In-flight mints complete into nothing. Safe to call more
// than once.
func (m *Manager) Teardown() {
	m.teardown.Do(func() {
		done := make(chan struct{})
		if err := m.actor.Send(context.Background(), cmdTeardown{Done: done}); err == nil {
			select {
			case <-done:
			case <-m.actor.Done():
			}
		}
		m.actor.Stop()

		m.mu.Lock()
		clear(m.listeners)
		m.mu.Unlock()
	})
}

func (m *Manager) publish(tok *Token) {
	prev := m.current.Swap(tok)
	if prev == tok {
		return
	}
	if prev != nil && tok != nil {
		logger.Debugf("token: replaced token issued %s ago", Age(prev, m.clock))
	}
	m.mu.Lock()
	fns := make([]func(*Token), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		go fn(tok)
	}
}
