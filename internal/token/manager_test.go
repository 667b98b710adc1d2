package token

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor/actortest"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMinter answers mints with fn, numbering calls from 1.
type fakeMinter struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, id Identity) (*Token, error)
}

func (f *fakeMinter) Mint(ctx context.Context, id Identity) (*Token, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	return fn(call, id)
}

func (f *fakeMinter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sequentialTokens(call int, _ Identity) (*Token, error) {
	return &Token{Value: fmt.Sprintf("t%d", call)}, nil
}

func newTestManager(t *testing.T, minter Minter) (*Manager, *actortest.FakeClock) {
	t.Helper()
	clock := actortest.NewFakeClock(time.Unix(1_700_000_000, 0))
	m := NewManager(minter, Options{
		Clock: clock,
		Retry: RetryPolicy{
			MaxTries:   3,
			NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		},
	})
	t.Cleanup(m.Teardown)
	return m, clock
}

func TestManagerAcquireArmsRefresh(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, &fakeMinter{fn: sequentialTokens})
	tok, err := m.Acquire(context.Background(), Identity{})
	require.NoError(t, err)
	require.Equal(t, "t1", tok.Value)
	require.Same(t, tok, m.Current())
	require.Equal(t, PhaseValid, m.Phase())
	require.Equal(t, []time.Duration{DefaultRefreshInterval}, clock.Pending())
}

func TestManagerRefreshSwapsToken(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, &fakeMinter{fn: sequentialTokens})
	swaps := make(chan *Token, 4)
	m.OnSwap(func(tok *Token) { swaps <- tok })

	_, err := m.Acquire(context.Background(), Identity{JWT: "user"})
	require.NoError(t, err)
	require.Equal(t, "t1", (<-swaps).Value)

	clock.Advance(DefaultRefreshInterval)

	select {
	case tok := <-swaps:
		require.Equal(t, "t2", tok.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no swap after refresh")
	}
	require.Equal(t, "t2", m.Current().Value)
	require.Eventually(t, func() bool {
		return len(clock.Pending()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerRefreshFailureKeepsTokenAndRetriesLater(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		if call == 2 {
			return nil, sdkerr.Status("token.mint", http.StatusServiceUnavailable, "")
		}
		return sequentialTokens(call, id)
	}}
	m, clock := newTestManager(t, minter)

	_, err := m.Acquire(context.Background(), Identity{})
	require.NoError(t, err)

	clock.Advance(DefaultRefreshInterval)
	require.Eventually(t, func() bool {
		return m.actor.State().RefreshFailures == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Refresh is a single attempt; the old token stays live.
	require.Equal(t, 2, minter.Calls())
	require.Equal(t, "t1", m.Current().Value)
	require.Equal(t, PhaseValid, m.Phase())
	require.Equal(t, []time.Duration{DefaultRefreshInterval}, clock.Pending())

	clock.Advance(DefaultRefreshInterval)
	require.Eventually(t, func() bool {
		cur := m.Current()
		return cur != nil && cur.Value == "t3"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerAcquireRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		if call < 3 {
			return nil, sdkerr.Status("token.mint", http.StatusBadGateway, "")
		}
		return sequentialTokens(call, id)
	}}
	m, _ := newTestManager(t, minter)

	tok, err := m.Acquire(context.Background(), Identity{})
	require.NoError(t, err)
	require.Equal(t, "t3", tok.Value)
	require.Equal(t, 3, minter.Calls())
}

func TestManagerAcquireDoesNotRetryRejection(t *testing.T) {
	t.Parallel()

	minter := &fakeMinter{fn: func(int, Identity) (*Token, error) {
		return nil, sdkerr.Status("token.mint", http.StatusUnauthorized, "bad jwt")
	}}
	m, clock := newTestManager(t, minter)

	_, err := m.Acquire(context.Background(), Identity{JWT: "bad"})
	require.ErrorIs(t, err, sdkerr.ErrAuthenticationFailed)
	require.Equal(t, 1, minter.Calls())
	require.Nil(t, m.Current())
	require.Equal(t, PhaseNoToken, m.Phase())
	require.Empty(t, clock.Pending())
}

func TestManagerRevokeFailure(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"forbidden", http.StatusForbidden, sdkerr.ErrPermissionDenied},
		{"server error", http.StatusInternalServerError, sdkerr.ErrChatTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
				if call > 1 {
					return nil, sdkerr.Status("token.mint", tc.status, "")
				}
				return sequentialTokens(call, id)
			}}
			m, clock := newTestManager(t, minter)

			_, err := m.Acquire(context.Background(), Identity{JWT: "user"})
			require.NoError(t, err)

			_, err = m.Revoke(context.Background())
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, m.Current())
			require.Equal(t, PhaseRevoked, m.Phase())
			require.Empty(t, clock.Pending())
			// Exactly one re-mint attempt.
			require.Equal(t, 2, minter.Calls())
		})
	}
}

func TestManagerRevokeRemintsWithLastIdentity(t *testing.T) {
	t.Parallel()

	var seen []Identity
	var mu sync.Mutex
	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return sequentialTokens(call, id)
	}}
	m, _ := newTestManager(t, minter)

	_, err := m.Acquire(context.Background(), Identity{JWT: "user"})
	require.NoError(t, err)
	tok, err := m.Revoke(context.Background())
	require.NoError(t, err)
	require.Equal(t, "t2", tok.Value)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []Identity{{JWT: "user"}, {JWT: "user"}}, seen)
}

func TestManagerTeardownDropsInFlightMint(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		close(started)
		<-release
		return sequentialTokens(call, id)
	}}
	m, clock := newTestManager(t, minter)

	errc := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), Identity{})
		errc <- err
	}()
	<-started

	m.Teardown()
	require.ErrorIs(t, <-errc, sdkerr.ErrTornDown)
	close(release)

	// The late completion must not resurrect a token.
	time.Sleep(20 * time.Millisecond)
	require.Nil(t, m.Current())
	require.Empty(t, clock.Pending())

	_, err := m.Acquire(context.Background(), Identity{})
	require.ErrorIs(t, err, sdkerr.ErrTornDown)

	// Idempotent.
	m.Teardown()
}

func TestManagerConcurrentAcquireSharesMint(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		<-release
		return sequentialTokens(call, id)
	}}
	m, _ := newTestManager(t, minter)

	const n = 8
	var wg sync.WaitGroup
	toks := make([]*Token, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Acquire(context.Background(), Identity{JWT: "same"})
			assert.NoError(t, err)
			toks[i] = tok
		}()
	}
	require.Eventually(t, func() bool {
		return len(m.actor.State().Waiters) == n
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, 1, minter.Calls())
	for _, tok := range toks {
		require.Same(t, toks[0], tok)
	}
}

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// Not parallel: it swaps the process logger output.
func TestManagerRefreshFailureLoggedOnlyInDebug(t *testing.T) {
	out := &lockedBuffer{}
	logger.SetOutput(out)
	prev := logger.CurrentLevel()
	logger.SetLevel(logger.LevelInfo)
	t.Cleanup(func() {
		logger.SetLevel(prev)
		logger.SetOutput(os.Stderr)
	})

	minter := &fakeMinter{fn: func(call int, id Identity) (*Token, error) {
		if call == 2 {
			return nil, sdkerr.Status("token.mint", http.StatusServiceUnavailable, "")
		}
		return sequentialTokens(call, id)
	}}
	m, clock := newTestManager(t, minter)
	_, err := m.Acquire(context.Background(), Identity{})
	require.NoError(t, err)

	clock.Advance(DefaultRefreshInterval)
	require.Eventually(t, func() bool {
		return m.actor.State().RefreshFailures == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NotContains(t, out.String(), "mint failed")
}
