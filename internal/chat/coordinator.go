// Package chat binds the current messaging token to a pub/sub transport
// session and keeps the session usable across token refreshes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/internal/token"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/google/uuid"
)

// TokenSource is the subset of token.Manager the coordinator depends on.
type TokenSource interface {
	Current() *token.Token
	Revoke(ctx context.Context) (*token.Token, error)
	OnSwap(fn func(*token.Token)) (cancel func())
}

// Options configures a Coordinator.
type Options struct {
	// Gate fails fast when the SDK is not initialized. Nil allows all
	// operations.
	Gate func(op string) error
	// Deliver runs subscriber callbacks. Nil calls them inline on the
	// transport goroutine.
	Deliver func(func())
	Clock   actor.Clock
	// RevokeTimeout bounds the re-mint triggered by a transport auth
	// failure.
	RevokeTimeout time.Duration
}

const unsubscribeTimeout = 5 * time.Second

type pendingPublish struct {
	channel string
	payload map[string]any
	done    chan error
}

// Coordinator owns one transport session. It is safe for concurrent use.
type Coordinator struct {
	transport Transport
	tokens    TokenSource
	opts      Options

	mu        sync.Mutex
	connected bool
	closed    bool
	channels  []string
	bound     *token.Token
	rebinding bool
	outbox    []pendingPublish
	// rejected is set when a revocation re-mint failed; publishes fail with
	// it until a new token is bound.
	rejected  error
	subs      map[int]func(Event)
	nextSubID int
	unswap    func()

	revoking sync.Mutex
	// rebindMu orders credential swaps so the transport ends on the newest
	// token.
	rebindMu sync.Mutex
}

// NewCoordinator returns a Coordinator over transport.
func NewCoordinator(transport Transport, tokens TokenSource, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = actor.RealClock{}
	}
	if opts.RevokeTimeout <= 0 {
		opts.RevokeTimeout = 30 * time.Second
	}
	return &Coordinator{
		transport: transport,
		tokens:    tokens,
		opts:      opts,
		subs:      make(map[int]func(Event)),
	}
}

func (c *Coordinator) gate(op string) error {
	if c.opts.Gate == nil {
		return nil
	}
	return c.opts.Gate(op)
}

// Connect opens the transport with the current token and subscribes to
// channels. Token swaps after Connect are rebound automatically.
func (c *Coordinator) Connect(ctx context.Context, channels ...string) error {
	const op = "chat.connect"
	if err := c.gate(op); err != nil {
		return err
	}
	tok := c.tokens.Current()
	if tok == nil {
		return sdkerr.Wrap(sdkerr.ErrNoToken, op, nil)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return sdkerr.Wrap(sdkerr.ErrTornDown, op, nil)
	}
	if c.connected {
		c.mu.Unlock()
		return c.Subscribe(ctx, channels...)
	}
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, CredentialsFor(tok), c.handleRaw); err != nil {
		err = sdkerr.Wrap(sdkerr.ErrNetwork, op, err)
		c.emit(ConnectionChangedEvent{State: Disconnected, Err: err})
		return err
	}
	if len(channels) > 0 {
		if err := c.transport.Subscribe(ctx, channels...); err != nil {
			_ = c.transport.Close()
			return sdkerr.Wrap(sdkerr.ErrNetwork, op, err)
		}
	}

	c.mu.Lock()
	c.connected = true
	c.bound = tok
	c.rejected = nil
	c.channels = append(c.channels, channels...)
	c.unswap = c.tokens.OnSwap(c.onSwap)
	next, stale := c.syncLocked()
	c.mu.Unlock()

	logger.Debugf("chat: connected as %q to %v", tok.UserID, channels)
	if stale && next != nil {
		// The token changed while the transport was connecting.
		return c.Rebind(ctx, next)
	}
	return nil
}

// Subscribe adds channels to a connected session.
func (c *Coordinator) Subscribe(ctx context.Context, channels ...string) error {
	const op = "chat.subscribe"
	if err := c.gate(op); err != nil {
		return err
	}
	c.mu.Lock()
	next, stale := c.syncLocked()
	if err := c.readyLocked(op); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	if stale && next != nil {
		if err := c.Rebind(ctx, next); err != nil {
			return err
		}
	}
	if err := c.transport.Subscribe(ctx, channels...); err != nil {
		return sdkerr.Wrap(sdkerr.ErrNetwork, op, err)
	}
	c.mu.Lock()
	c.channels = append(c.channels, channels...)
	c.mu.Unlock()
	return nil
}

// Channels returns the subscribed channels.
func (c *Coordinator) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

// OnEvent registers fn for every event. The returned func unregisters it.
// It fails when the SDK is not initialized, the coordinator is closed or no
// token is held.
func (c *Coordinator) OnEvent(fn func(Event)) (cancel func(), err error) {
	const op = "chat.subscribe"
	if err := c.gate(op); err != nil {
		return nil, err
	}
	if c.tokens.Current() == nil {
		return nil, sdkerr.Wrap(sdkerr.ErrNoToken, op, nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, sdkerr.Wrap(sdkerr.ErrTornDown, op, nil)
	}
	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}, nil
}

// Publish sends a message on channel with the current token. Publishes
// issued while credentials are being rebound are queued and sent once the
// new token is bound.
func (c *Coordinator) Publish(ctx context.Context, channel string, msg Message) (Message, error) {
	const op = "chat.publish"
	if err := c.gate(op); err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = MessageComment
	}
	msg.Channel = channel
	msg.SentAt = c.opts.Clock.Now().UTC()

	c.mu.Lock()
	next, stale := c.syncLocked()
	if err := c.readyLocked(op); err != nil {
		c.mu.Unlock()
		return Message{}, err
	}
	owner := c.bound
	if next != nil {
		owner = next
	}
	if owner != nil {
		msg.UserID = owner.UserID
	}
	payload := messagePayload(msg)
	if c.rebinding {
		done := make(chan error, 1)
		c.outbox = append(c.outbox, pendingPublish{channel: channel, payload: payload, done: done})
		c.mu.Unlock()
		logger.Tracef("chat: publish %s queued during rebind", msg.ID)
		if stale && next != nil {
			// A failed rebind fails the outbox, done included.
			_ = c.Rebind(ctx, next)
		}
		select {
		case err := <-done:
			return msg, err
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
	c.mu.Unlock()

	if err := c.send(ctx, channel, payload); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (c *Coordinator) send(ctx context.Context, channel string, payload map[string]any) error {
	err := c.transport.Publish(ctx, channel, payload)
	if err == nil {
		return nil
	}
	if errors.Is(err, sdkerr.ErrChatTokenExpired) {
		go c.revoke()
		return err
	}
	return sdkerr.Wrap(sdkerr.ErrNetwork, "chat.publish", err)
}

// syncLocked compares the bound token with the current one. When they
// differ the session is marked as rebinding and the token to bind is
// returned; nil means the current token was invalidated and a replacement
// is pending.
func (c *Coordinator) syncLocked() (next *token.Token, stale bool) {
	if c.closed || !c.connected || c.rebinding {
		return nil, false
	}
	cur := c.tokens.Current()
	if cur == c.bound {
		return nil, false
	}
	c.rebinding = true
	if cur == nil {
		c.bound = nil
		return nil, true
	}
	c.rejected = nil
	return cur, true
}

func (c *Coordinator) readyLocked(op string) error {
	switch {
	case c.closed:
		return sdkerr.Wrap(sdkerr.ErrTornDown, op, nil)
	case c.rejected != nil:
		return sdkerr.Wrap(sdkerr.ErrChatTokenExpired, op, c.rejected)
	case !c.connected:
		return sdkerr.Wrap(sdkerr.ErrNoToken, op, errors.New("not connected"))
	case c.bound == nil && !c.rebinding:
		return sdkerr.Wrap(sdkerr.ErrNoToken, op, nil)
	}
	return nil
}

// Rebind swaps the transport credentials to tok without dropping the
// session. It is a no-op when tok is already bound or is no longer the
// current token.
func (c *Coordinator) Rebind(ctx context.Context, tok *token.Token) error {
	const op = "chat.rebind"
	if tok == nil {
		return sdkerr.Wrap(sdkerr.ErrNoToken, op, nil)
	}

	c.rebindMu.Lock()
	defer c.rebindMu.Unlock()

	if cur := c.tokens.Current(); cur != tok {
		// Superseded while queued; the newer swap rebinds.
		logger.Tracef("chat: skipping stale rebind")
		return nil
	}

	c.mu.Lock()
	if c.closed || !c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.bound == tok {
		c.mu.Unlock()
		return nil
	}
	c.rebinding = true
	c.mu.Unlock()

	if err := c.transport.SetCredentials(ctx, CredentialsFor(tok)); err != nil {
		err = sdkerr.Wrap(sdkerr.ErrNetwork, op, err)
		c.mu.Lock()
		c.rebinding = false
		outbox := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		failAll(outbox, err)
		c.emit(ErrorEvent{Err: err})
		return err
	}

	c.mu.Lock()
	c.bound = tok
	c.rebinding = false
	c.rejected = nil
	outbox := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	logger.Debugf("chat: rebound credentials, flushing %d queued publishes", len(outbox))
	for _, p := range outbox {
		p.done <- c.send(ctx, p.channel, p.payload)
	}
	c.emit(ConnectionChangedEvent{State: Rebound})
	return nil
}

func (c *Coordinator) onSwap(tok *token.Token) {
	if tok == nil {
		// Invalidated; hold publishes until a replacement is bound or the
		// revocation fails.
		c.mu.Lock()
		if c.connected && !c.closed {
			c.bound = nil
			c.rebinding = true
		}
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RevokeTimeout)
	defer cancel()
	if err := c.Rebind(ctx, tok); err != nil {
		logger.Warnf("chat: rebind failed: %v", err)
	}
}

// revoke re-mints after the transport rejected the token. Concurrent
// triggers collapse onto one revocation.
func (c *Coordinator) revoke() {
	if !c.revoking.TryLock() {
		return
	}
	defer c.revoking.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.RevokeTimeout)
	defer cancel()

	tok, err := c.tokens.Revoke(ctx)
	if err != nil {
		logger.Warnf("chat: token revoked and re-mint failed: %v", err)
		c.mu.Lock()
		c.rejected = err
		c.bound = nil
		c.rebinding = false
		outbox := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		failAll(outbox, sdkerr.Wrap(sdkerr.ErrChatTokenExpired, "chat.publish", err))
		c.emit(ErrorEvent{Err: err})
		return
	}
	if err := c.Rebind(ctx, tok); err != nil {
		logger.Warnf("chat: rebind after revocation failed: %v", err)
	}
}

func (c *Coordinator) handleRaw(raw RawEvent) {
	if raw.AuthFailure {
		go c.revoke()
	}
	if ev := mapRaw(raw); ev != nil {
		c.emit(ev)
	}
}

func (c *Coordinator) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	run := func() {
		for _, fn := range fns {
			fn(ev)
		}
	}
	if c.opts.Deliver != nil {
		c.opts.Deliver(run)
		return
	}
	run()
}

// Close disconnects the transport and fails queued publishes. Safe to call
// more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.bound = nil
	outbox := c.outbox
	c.outbox = nil
	unswap := c.unswap
	c.unswap = nil
	channels := c.channels
	c.channels = nil
	c.mu.Unlock()

	if unswap != nil {
		unswap()
	}
	failAll(outbox, sdkerr.Wrap(sdkerr.ErrTornDown, "chat.publish", nil))

	var err error
	if wasConnected {
		if len(channels) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
			if uerr := c.transport.Unsubscribe(ctx, channels...); uerr != nil {
				logger.Debugf("chat: unsubscribe on close: %v", uerr)
			}
			cancel()
		}
		err = c.transport.Close()
		c.emit(ConnectionChangedEvent{State: Disconnected})
	}
	c.mu.Lock()
	clear(c.subs)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func failAll(outbox []pendingPublish, err error) {
	for _, p := range outbox {
		p.done <- err
	}
}
