package registrar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistrar(t *testing.T, key string, handler http.HandlerFunc) *Registrar {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	resolver, err := endpoint.NewResolverWithConfig(endpoint.Staging, endpoint.Config{
		BaseURL:      srv.URL,
		AssetsURL:    srv.URL,
		CollectorURL: srv.URL,
		EventsURL:    srv.URL,
	})
	require.NoError(t, err)

	gw := network.New(network.Options{})
	t.Cleanup(func() { _ = gw.Close() })

	r, err := New(key, gw, resolver, Options{TestMode: true})
	require.NoError(t, err)
	return r
}

func TestRegisterValidKeyBecomesReady(t *testing.T) {
	t.Parallel()

	r := newTestRegistrar(t, "abc", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, RegisterPath, req.URL.Path)
		assert.Equal(t, "abc", req.Header.Get(HeaderSDKKey))
		_, _ = w.Write([]byte(`{"valid_key":true}`))
	})

	require.Equal(t, StateUninitialized, r.State())
	require.ErrorIs(t, r.Gate("show.status"), sdkerr.ErrNotInitialized)

	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, StateReady, r.State())
	require.NoError(t, r.Gate("show.status"))
	require.True(t, r.Session().TestMode)
}

func TestRegisterInvalidKeyFails(t *testing.T) {
	t.Parallel()

	r := newTestRegistrar(t, "abc", func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte(`{"valid_key":false}`))
	})

	err := r.Register(context.Background())
	require.ErrorIs(t, err, sdkerr.ErrAuthenticationFailed)
	require.Equal(t, StateFailed, r.State())

	gateErr := r.Gate("chat.publish")
	require.ErrorIs(t, gateErr, sdkerr.ErrNotInitialized)
	require.Equal(t, sdkerr.KindNotInitialized, sdkerr.KindOf(gateErr))
}

func TestRegisterTransportFailureFails(t *testing.T) {
	t.Parallel()

	r := newTestRegistrar(t, "abc", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	err := r.Register(context.Background())
	require.ErrorIs(t, err, sdkerr.ErrAuthenticationFailed)
	require.ErrorIs(t, err, sdkerr.ErrNetwork)
	require.Equal(t, StateFailed, r.State())
}

func TestConcurrentRegisterIsCoalesced(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	r := newTestRegistrar(t, "abc", func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"valid_key":true}`))
	})

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Register(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return r.State() == StateRegistering }, 2*time.Second, 5*time.Millisecond)
	// Give the remaining goroutines a chance to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, StateReady, r.State())
	require.EqualValues(t, 1, calls.Load())

	// Once ready, Register does no I/O.
	before := calls.Load()
	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, before, calls.Load())
}

func TestFailedRegistrarCanRetry(t *testing.T) {
	t.Parallel()

	var valid atomic.Bool
	r := newTestRegistrar(t, "abc", func(w http.ResponseWriter, req *http.Request) {
		if valid.Load() {
			_, _ = w.Write([]byte(`{"valid_key":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid_key":false}`))
	})

	require.Error(t, r.Register(context.Background()))
	valid.Store(true)
	require.NoError(t, r.Register(context.Background()))
	require.Equal(t, StateReady, r.State())
}

func TestNewRequiresClientKey(t *testing.T) {
	t.Parallel()

	resolver, err := endpoint.NewResolver(endpoint.Production)
	require.NoError(t, err)
	_, err = New("", network.New(network.Options{}), resolver, Options{})
	require.ErrorIs(t, err, sdkerr.ErrConfiguration)
}
