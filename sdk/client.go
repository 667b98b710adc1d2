// Package sdk is the host-facing entry point of the TalkShopLive SDK.
//
// A host creates one Client per client key, initializes it once, and then
// uses Chat and Show:
//
//	c, err := sdk.NewClient(key, sdk.Options{TestMode: true})
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Initialize(ctx); err != nil { ... }
//	status, err := c.Show().GetStatus(ctx, showKey)
//
// Every call made before Initialize succeeds fails with
// sdkerr.ErrNotInitialized without touching the network.
package sdk

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/internal/chat"
	"github.com/TalkShopLive/go-sdk/internal/collector"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/guard"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/internal/registrar"
	"github.com/TalkShopLive/go-sdk/internal/show"
	"github.com/TalkShopLive/go-sdk/internal/token"
	"github.com/TalkShopLive/go-sdk/internal/websocket"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
)

const (
	// defaultHTTPTimeout is the per-request timeout used by the SDK HTTP client.
	defaultHTTPTimeout = 15 * time.Second
	// defaultDispatcherQueueSize is the mailbox size used by SDK dispatchers.
	defaultDispatcherQueueSize = 256
)

// processViews records counted show views for every Client in the process
// that does not bring its own guard.
var processViews = guard.New()

// Options configures a Client.
type Options struct {
	// TestMode selects the staging environment.
	TestMode bool
	// Debug enables debug logging and strict response decoding.
	Debug bool
	// DoNotTrack disables analytics.
	DoNotTrack bool
	// HTTPTimeout bounds a single HTTP request.
	HTTPTimeout time.Duration

	// RefreshInterval overrides how long a messaging token is used before a
	// silent refresh.
	RefreshInterval time.Duration
	// Endpoints overrides the environment's endpoint set.
	Endpoints *endpoint.Config
	// Clock overrides the time source for token scheduling.
	Clock actor.Clock
	// NewTransport overrides the chat transport factory.
	NewTransport func(eventsURL string, debug bool) chat.Transport
	// Views scopes the at-most-once view count. Nil shares one guard across
	// the process.
	Views *guard.Guard
}

// Client owns one SDK session: registration, the messaging token, the chat
// connection and show lookups. It is safe for concurrent use.
type Client struct {
	clientKey string
	opts      Options

	resolver  *endpoint.Resolver
	gateway   *network.Gateway
	registrar *registrar.Registrar
	tokens    *token.Manager
	collector *collector.Collector
	show      *Show
	chat      *Chat

	dispatch  *dispatcher
	callbacks *dispatcher
	analytics *dispatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a Client for clientKey. It performs no I/O.
func NewClient(clientKey string, opts Options) (*Client, error) {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = defaultHTTPTimeout
	}
	if opts.Clock == nil {
		opts.Clock = actor.RealClock{}
	}
	if opts.NewTransport == nil {
		opts.NewTransport = func(eventsURL string, debug bool) chat.Transport {
			return websocket.NewClient(eventsURL, debug)
		}
	}
	if opts.Views == nil {
		opts.Views = processViews
	}
	if opts.Debug && logger.CurrentLevel() > logger.LevelDebug {
		logger.SetLevel(logger.LevelDebug)
	}

	env := endpoint.ForTestMode(opts.TestMode)
	var (
		resolver *endpoint.Resolver
		err      error
	)
	if opts.Endpoints != nil {
		resolver, err = endpoint.NewResolverWithConfig(env, *opts.Endpoints)
	} else {
		resolver, err = endpoint.NewResolver(env)
	}
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.ErrConfiguration, "sdk.new", err)
	}

	gw := network.New(network.Options{Timeout: opts.HTTPTimeout, Strict: opts.Debug})
	reg, err := registrar.New(clientKey, gw, resolver, registrar.Options{
		Debug:      opts.Debug,
		TestMode:   opts.TestMode,
		DoNotTrack: opts.DoNotTrack,
	})
	if err != nil {
		_ = gw.Close()
		return nil, err
	}

	c := &Client{
		clientKey: clientKey,
		opts:      opts,
		resolver:  resolver,
		gateway:   gw,
		registrar: reg,
		dispatch:  newDispatcher("lifecycle", defaultDispatcherQueueSize),
		callbacks: newDispatcher("callbacks", defaultDispatcherQueueSize),
		analytics: newDispatcher("analytics", defaultDispatcherQueueSize),
		closed:    make(chan struct{}),
	}
	c.tokens = token.NewManager(token.NewHTTPMinter(clientKey, gw, resolver, opts.Clock), token.Options{
		Clock:           opts.Clock,
		RefreshInterval: opts.RefreshInterval,
		Debug:           opts.Debug,
	})
	c.collector = collector.New(gw, resolver, collector.Options{
		DoNotTrack: opts.DoNotTrack,
		Dispatch:   c.analytics.do,
		Clock:      opts.Clock,
	})
	c.show = &Show{svc: show.NewService(gw, resolver, opts.Views, show.Options{
		Gate:      reg.Gate,
		Collector: c.collector,
	})}
	c.chat = &Chat{client: c, subs: make(map[int]func(chat.Event))}
	return c, nil
}

// Initialize validates the client key with the backend. Concurrent calls
// share one request. Once initialized, further calls return nil without I/O;
// after a failure, calling again retries.
func (c *Client) Initialize(ctx context.Context) error {
	if c.isClosed() {
		return sdkerr.Wrap(sdkerr.ErrTornDown, "sdk.initialize", nil)
	}
	wasReady := c.registrar.State() == registrar.StateReady
	if err := c.registrar.Register(ctx); err != nil {
		logger.Warnf("sdk: initialization failed: %v", err)
		return err
	}
	if !wasReady {
		logger.Infof("sdk: initialized (%s)", c.resolver.Environment())
		c.collector.Track(collector.Event{Action: collector.ActionSDKInitialized})
	}
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (c *Client) Initialized() bool {
	return c.registrar.State() == registrar.StateReady
}

// Environment returns the backend environment in use.
func (c *Client) Environment() endpoint.Environment {
	return c.resolver.Environment()
}

// Endpoints returns the endpoint set in use.
func (c *Client) Endpoints() endpoint.Config {
	return c.resolver.Config()
}

// Chat returns the chat handle.
func (c *Client) Chat() *Chat { return c.chat }

// Show returns the show handle.
func (c *Client) Show() *Show { return c.show }

// CurrentToken returns the messaging token in use, or nil.
func (c *Client) CurrentToken() *token.Token { return c.tokens.Current() }

// Close disconnects chat, cancels token refresh and releases resources.
// Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_, err = call(c.dispatch, func() (struct{}, error) {
			close(c.closed)
			return struct{}{}, c.chat.disconnect()
		})
		if errors.Is(err, errDispatcherClosed) {
			err = nil
		}
		c.tokens.Teardown()
		c.dispatch.close()
		c.callbacks.close()
		c.analytics.close()
		if cerr := c.gateway.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) deliver(fn func()) {
	if err := c.callbacks.do(fn); err != nil {
		logger.Tracef("sdk: callback dropped: %v", err)
	}
}
