package actortest

import (
	"sort"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
)

// FakeClock is a deterministic Clock for tests. Timers fire only when the
// clock is advanced past their deadline.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

var _ actor.Clock = (*FakeClock)(nil)

type fakeTimer struct {
	clock *FakeClock
	id    int
	at    time.Time
	after time.Duration
	f     func()
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, timers: make(map[int]*fakeTimer)}
}

// Now implements actor.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements actor.Clock.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) actor.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &fakeTimer{clock: c, id: c.nextID, at: c.now.Add(d), after: d, f: f}
	c.timers[t.id] = t
	return t
}

// Stop implements actor.Timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// Advance moves time forward by d and runs, in deadline order, every timer
// that became due. Callbacks run synchronously on the caller's goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for id, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
			delete(c.timers, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the durations of the armed timers, in arming order.
func (c *FakeClock) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.timers))
	for id := range c.timers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]time.Duration, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.timers[id].after)
	}
	return out
}
