// Package actortest provides test helpers for the actor framework.
package actortest

import (
	"context"
	"sync"

	"github.com/TalkShopLive/go-sdk/internal/actor"
)

// FakeRuntime records effects handed to it and can synthesize follow-up
// inputs through EmitFn.
type FakeRuntime struct {
	mu      sync.Mutex
	effects []actor.Effect
	stopped int

	// EmitFn, when non-nil, is invoked for each effect during HandleEffects.
	EmitFn func(ctx context.Context, eff actor.Effect, emit func(actor.Input))
}

var _ actor.Runtime = (*FakeRuntime)(nil)

// HandleEffects implements actor.Runtime.
func (r *FakeRuntime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	emitFn := r.EmitFn
	r.mu.Unlock()

	if emitFn != nil {
		for _, eff := range effects {
			emitFn(ctx, eff, emit)
		}
	}
}

// Stop implements actor.Runtime.
func (r *FakeRuntime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

// Stops returns how many times Stop was called.
func (r *FakeRuntime) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Effects returns a snapshot of recorded effects.
func (r *FakeRuntime) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]actor.Effect, len(r.effects))
	copy(out, r.effects)
	return out
}
