package collector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor/actortest"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T, opts Options, handler http.HandlerFunc) *Collector {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver, err := endpoint.NewResolverWithConfig(endpoint.Staging, endpoint.Config{
		BaseURL: srv.URL, AssetsURL: srv.URL, CollectorURL: srv.URL, EventsURL: srv.URL,
	})
	require.NoError(t, err)
	gw := network.New(network.Options{})
	t.Cleanup(func() { _ = gw.Close() })
	return New(gw, resolver, opts)
}

func TestTrackPostsEvent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []Event
	clock := actortest.NewFakeClock(time.Unix(1_700_000_000, 0))
	c := newTestCollector(t, Options{Clock: clock}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, CollectPath, r.URL.Path)
		var ev Event
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	c.Track(Event{Action: ActionViewIncrement, ShowKey: "show-1"})
	c.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, ActionViewIncrement, got[0].Action)
	require.Equal(t, "show-1", got[0].ShowKey)
	require.Equal(t, "staging", got[0].Environment)
	require.NotEmpty(t, got[0].ID)
	require.True(t, clock.Now().Equal(got[0].Timestamp))
}

func TestTrackHonoursDoNotTrack(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestCollector(t, Options{DoNotTrack: true}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	require.False(t, c.Enabled())
	c.Track(Event{Action: ActionSDKInitialized})
	c.Flush()
	require.Zero(t, calls.Load())
}

func TestTrackSwallowsFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var ran atomic.Int32
	c := newTestCollector(t, Options{Dispatch: func(fn func()) error {
		ran.Add(1)
		fn()
		return nil
	}}, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c.Track(Event{Action: ActionChatConnected})
	c.Flush()
	require.EqualValues(t, 1, calls.Load())
	require.EqualValues(t, 1, ran.Load())
}
