// Package registrar validates the SDK client key against the backend and owns
// the SDK session state that gates every other network operation.
package registrar

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"golang.org/x/sync/singleflight"
)

const (
	// RegisterPath is the client key validation endpoint.
	RegisterPath = "/api2/v1/sdk/"
	// HeaderSDKKey carries the client key on registration.
	HeaderSDKKey = "x-tsl-sdk-key"
)

// State is the SDK session lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateRegistering
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateRegistering:
		return "Registering"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options are the host-supplied session flags.
type Options struct {
	Debug      bool
	TestMode   bool
	DoNotTrack bool
}

// Session is a snapshot of the SDK session.
type Session struct {
	State      State
	Debug      bool
	TestMode   bool
	DoNotTrack bool
}

type registerResponse struct {
	ValidKey bool `json:"valid_key"`
}

// Registrar performs client key validation. Concurrent Register calls share
// one request and observe the same outcome.
type Registrar struct {
	clientKey string
	gateway   *network.Gateway
	resolver  *endpoint.Resolver
	opts      Options

	group singleflight.Group

	mu      sync.RWMutex
	state   State
	lastErr error
}

// New returns a Registrar for clientKey.
func New(clientKey string, gateway *network.Gateway, resolver *endpoint.Resolver, opts Options) (*Registrar, error) {
	if clientKey == "" {
		return nil, sdkerr.Wrap(sdkerr.ErrConfiguration, "registrar.new", fmt.Errorf("client key is required"))
	}
	if gateway == nil || resolver == nil {
		return nil, sdkerr.Wrap(sdkerr.ErrConfiguration, "registrar.new", fmt.Errorf("gateway and resolver are required"))
	}
	return &Registrar{
		clientKey: clientKey,
		gateway:   gateway,
		resolver:  resolver,
		opts:      opts,
	}, nil
}

// Register validates the client key.
//
// A Ready registrar returns nil without network I/O. A Failed registrar runs
// registration again.
func (r *Registrar) Register(ctx context.Context) error {
	if r.State() == StateReady {
		return nil
	}
	_, err, shared := r.group.Do("register", func() (any, error) {
		return nil, r.register(ctx)
	})
	if shared {
		logger.Tracef("registrar: joined in-flight registration")
	}
	return err
}

func (r *Registrar) register(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateReady {
		r.mu.Unlock()
		return nil
	}
	r.state = StateRegistering
	r.mu.Unlock()

	url := r.resolver.URL(endpoint.CategoryAPI, RegisterPath)
	if r.opts.Debug {
		logger.Debugf("registrar: validating client key env=%s url=%s", r.resolver.Environment(), url)
	}

	resp, err := network.Send[registerResponse](ctx, r.gateway, network.Request{
		Op:      "register",
		Method:  http.MethodGet,
		URL:     url,
		Headers: map[string]string{HeaderSDKKey: r.clientKey},
	})
	if err == nil && !resp.ValidKey {
		err = fmt.Errorf("client key rejected")
	}
	if err != nil {
		failure := sdkerr.Wrap(sdkerr.ErrAuthenticationFailed, "register", err)
		r.finish(StateFailed, failure)
		logger.Warnf("registrar: registration failed: %v", err)
		return failure
	}

	r.finish(StateReady, nil)
	logger.Infof("registrar: sdk ready env=%s", r.resolver.Environment())
	return nil
}

func (r *Registrar) finish(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	r.lastErr = err
}

// State returns the current session state.
func (r *Registrar) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Session returns a snapshot of the session flags and state.
func (r *Registrar) Session() Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Session{
		State:      r.state,
		Debug:      r.opts.Debug,
		TestMode:   r.opts.TestMode,
		DoNotTrack: r.opts.DoNotTrack,
	}
}

// Gate returns nil when the session is Ready and ErrNotInitialized
// otherwise. It never performs I/O.
func (r *Registrar) Gate(op string) error {
	r.mu.RLock()
	state, cause := r.state, r.lastErr
	r.mu.RUnlock()
	if state == StateReady {
		return nil
	}
	if cause == nil {
		cause = fmt.Errorf("session is %s", state)
	}
	return sdkerr.Wrap(sdkerr.ErrNotInitialized, op, cause)
}
