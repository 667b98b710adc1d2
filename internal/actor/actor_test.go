package actor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/internal/actor/actortest"
	"github.com/stretchr/testify/require"
)

type addInput struct {
	actor.InputBase
	n int
}

type echoEffect struct {
	actor.EffectBase
	n int
}

func addReducer(state int, input actor.Input) (int, []actor.Effect) {
	in, ok := input.(addInput)
	if !ok {
		return state, nil
	}
	return state + in.n, []actor.Effect{echoEffect{n: in.n}}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, addReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		require.True(t, a.Enqueue(addInput{n: i}))
	}

	require.Eventually(t, func() bool { return a.State() == 15 }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, rt.Effects(), 5)
}

func TestActorRuntimeEmitsFollowUps(t *testing.T) {
	t.Parallel()

	var emitted atomic.Int32
	rt := &actortest.FakeRuntime{
		EmitFn: func(ctx context.Context, eff actor.Effect, emit func(actor.Input)) {
			e := eff.(echoEffect)
			if e.n > 1 {
				emitted.Add(1)
				emit(addInput{n: e.n / 2})
			}
		},
	}
	a := actor.New[int](0, addReducer, rt)
	a.Start()
	defer a.Stop()

	require.NoError(t, a.Send(context.Background(), addInput{n: 8}))
	// 8 + 4 + 2 + 1
	require.Eventually(t, func() bool { return a.State() == 15 }, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 3, emitted.Load())
}

func TestActorStopRejectsInputs(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, addReducer, rt)
	a.Start()
	a.Stop()
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor loop did not exit")
	}
	require.True(t, a.Stopped())
	require.False(t, a.Enqueue(addInput{n: 1}))
	require.ErrorIs(t, a.Send(context.Background(), addInput{n: 1}), actor.ErrStopped)
	require.Equal(t, 1, rt.Stops())
}

func TestActorDropHookOnFullMailbox(t *testing.T) {
	t.Parallel()

	var dropped atomic.Int32
	a := actor.New[int](0, addReducer, nil,
		actor.WithMailboxSize[int](1),
		actor.WithHooks(actor.Hooks[int]{OnDrop: func(actor.Input) { dropped.Add(1) }}),
	)
	// Not started: the first input fills the mailbox.
	require.True(t, a.Enqueue(addInput{n: 1}))
	require.False(t, a.Enqueue(addInput{n: 1}))
	require.EqualValues(t, 1, dropped.Load())
	a.Stop()
}

func TestReplay(t *testing.T) {
	t.Parallel()

	state, effects := actor.Replay(0, addReducer, addInput{n: 2}, addInput{n: 3})
	require.Equal(t, 5, state)
	require.Len(t, effects, 2)
}

func TestFakeClockFiresDueTimers(t *testing.T) {
	t.Parallel()

	clock := actortest.NewFakeClock(time.Unix(0, 0))
	var fired []string
	clock.AfterFunc(time.Minute, func() { fired = append(fired, "a") })
	cancelled := clock.AfterFunc(30*time.Second, func() { fired = append(fired, "b") })
	clock.AfterFunc(10*time.Second, func() { fired = append(fired, "c") })

	require.Equal(t, []time.Duration{time.Minute, 30 * time.Second, 10 * time.Second}, clock.Pending())
	require.True(t, cancelled.Stop())
	require.False(t, cancelled.Stop())

	clock.Advance(59 * time.Second)
	require.Equal(t, []string{"c"}, fired)
	clock.Advance(time.Second)
	require.Equal(t, []string{"c", "a"}, fired)
	require.Empty(t, clock.Pending())
}
