// Package websocket implements the chat transport over Socket.IO.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/chat"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// Path is the Socket.IO endpoint path on the events host.
const Path = "/v1/chat"

// Outbound event names.
const (
	EventPublish     = "publish"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventAuthUpdate  = "auth-update"
)

// Inbound event names.
const (
	EventMessage  = "message"
	EventSignal   = "signal"
	EventPresence = "presence"
	EventRevoked  = "token-revoked"
)

const defaultAckTimeout = 10 * time.Second

var _ chat.Transport = (*Client)(nil)

// Client is a Socket.IO chat transport. The zero value is not usable; use
// NewClient.
type Client struct {
	serverURL  string
	ackTimeout time.Duration
	debug      bool

	mu     sync.RWMutex
	socket *socket.Socket
	creds  chat.Credentials
	// auth is the map handed to the socket options. The socket sends it on
	// every (re)connect, so credential swaps update it in place.
	auth      map[string]any
	handler   func(chat.RawEvent)
	connected bool
	closing   bool

	// deliverMu keeps handler invocations in arrival order.
	deliverMu sync.Mutex
}

// NewClient returns a transport for the events host at serverURL.
func NewClient(serverURL string, debug bool) *Client {
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		ackTimeout: defaultAckTimeout,
		debug:      debug,
	}
}

// Connect implements chat.Transport.
func (c *Client) Connect(ctx context.Context, creds chat.Credentials, handler func(chat.RawEvent)) error {
	if c.debug {
		logger.Debugf("websocket: connecting to %s (path: %s)", c.serverURL, Path)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(Path)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	auth := authPayload(creds)
	opts.SetAuth(auth)

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.socket = sock
	c.creds = creds
	c.auth = auth
	c.handler = handler
	c.closing = false
	c.mu.Unlock()

	connected := make(chan struct{}, 1)
	sock.On(types.EventName("connect"), func(args ...any) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		if c.debug {
			logger.Debugf("websocket: connected, id %s", sock.Id())
		}
		select {
		case connected <- struct{}{}:
		default:
		}
		c.deliver(chat.RawEvent{Kind: chat.RawStatus, Status: chat.Connected})
	})
	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}
		reason := firstString(args)
		logger.Debugf("websocket: disconnected: %s", reason)
		c.deliver(chat.RawEvent{Kind: chat.RawStatus, Status: chat.Disconnected, Err: errors.New(reason)})
	})
	failed := make(chan error, 1)
	sock.On(types.EventName("connect_error"), func(args ...any) {
		logger.Warnf("websocket: connection error: %v", args)
		select {
		case failed <- fmt.Errorf("connect error: %v", args):
		default:
		}
		c.route("connect_error", args)
	})
	for _, name := range []string{EventMessage, EventSignal, EventPresence, EventRevoked} {
		event := name
		sock.On(types.EventName(event), func(args ...any) {
			if c.debug {
				logger.Tracef("websocket: received %s", event)
			}
			c.route(event, args)
		})
	}

	if sock.Connected() {
		return nil
	}
	select {
	case <-connected:
		return nil
	case err := <-failed:
		_ = c.Close()
		return err
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}
}

// SetCredentials implements chat.Transport. The server re-authorizes the
// live connection and later reconnects present the new token.
func (c *Client) SetCredentials(ctx context.Context, creds chat.Credentials) error {
	c.mu.Lock()
	c.creds = creds
	if c.auth != nil {
		fillAuth(c.auth, creds)
	}
	c.mu.Unlock()

	_, err := c.emitWithAck(ctx, EventAuthUpdate, authPayload(creds))
	return err
}

// Subscribe implements chat.Transport.
func (c *Client) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	_, err := c.emitWithAck(ctx, EventSubscribe, map[string]any{"channels": channels})
	return err
}

// Unsubscribe implements chat.Transport.
func (c *Client) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	_, err := c.emitWithAck(ctx, EventUnsubscribe, map[string]any{"channels": channels})
	return err
}

// Publish implements chat.Transport. The token is sent with every publish so
// a rebind takes effect on the next call.
func (c *Client) Publish(ctx context.Context, channel string, payload map[string]any) error {
	c.mu.RLock()
	tok := c.creds.Token
	c.mu.RUnlock()

	_, err := c.emitWithAck(ctx, EventPublish, map[string]any{
		"channel": channel,
		"message": payload,
		"token":   tok,
	})
	return err
}

// Close implements chat.Transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closing = true
	if c.socket != nil {
		c.socket.Disconnect()
		c.socket = nil
	}
	c.connected = false
	c.handler = nil
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()

	if connected {
		return true
	}
	return sock != nil && sock.Connected()
}

func (c *Client) emitWithAck(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()

	if sock == nil {
		return nil, fmt.Errorf("%s: not connected", event)
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)
	err := sock.Emit(event, data, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if payload, ok := args[0].(map[string]any); ok {
			resultCh <- payload
			return
		}
		resultCh <- nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case res := <-resultCh:
		return res, ackError(event, res)
	case err := <-errCh:
		return nil, fmt.Errorf("%s: %w", event, err)
	case <-timer.C:
		return nil, fmt.Errorf("%s: ack timeout", event)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ackError interprets the {"result": ..., "error": ...} ack envelope.
func ackError(event string, ack map[string]any) error {
	if ack == nil {
		return nil
	}
	result, _ := ack["result"].(string)
	if result == "" || result == "success" {
		return nil
	}
	msg, _ := ack["error"].(string)
	if msg == "" {
		msg = result
	}
	if isAuthError(result) || isAuthError(msg) {
		return sdkerr.Wrap(sdkerr.ErrChatTokenExpired, "chat."+event, errors.New(msg))
	}
	return fmt.Errorf("%s failed: %s", event, msg)
}

// route maps an inbound Socket.IO event onto a chat.RawEvent.
func (c *Client) route(event string, args []any) {
	data := firstMap(args)
	channel, _ := data["channel"].(string)

	switch event {
	case EventMessage:
		msg, _ := data["message"].(map[string]any)
		c.deliver(chat.RawEvent{Kind: chat.RawMessage, Channel: channel, Payload: msg})
	case EventSignal:
		name, _ := data["name"].(string)
		payload, _ := data["payload"].(map[string]any)
		c.deliver(chat.RawEvent{Kind: chat.RawSignal, Channel: channel, Name: name, Payload: payload})
	case EventPresence:
		action, _ := data["action"].(string)
		c.deliver(chat.RawEvent{Kind: chat.RawPresence, Channel: channel, Name: action, Payload: data})
	case EventRevoked:
		c.deliver(chat.RawEvent{
			Kind:        chat.RawError,
			Err:         sdkerr.Wrap(sdkerr.ErrChatTokenExpired, "chat.transport", errors.New("token revoked")),
			AuthFailure: true,
		})
	case "connect_error":
		reason := fmt.Sprint(args...)
		if data != nil {
			if m, ok := data["message"].(string); ok {
				reason = m
			}
		} else if s := firstString(args); s != "" {
			reason = s
		}
		auth := isAuthError(reason)
		var err error = errors.New(reason)
		if auth {
			err = sdkerr.Wrap(sdkerr.ErrChatTokenExpired, "chat.transport", err)
		}
		c.deliver(chat.RawEvent{Kind: chat.RawError, Err: err, AuthFailure: auth})
	}
}

func (c *Client) deliver(ev chat.RawEvent) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h == nil {
		return
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	h(ev)
}

// isAuthError reports whether a transport error message describes an
// invalid or revoked token.
func isAuthError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, needle := range []string{"401", "403", "unauthorized", "forbidden", "token expired", "invalid token", "revoked"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func authPayload(creds chat.Credentials) map[string]any {
	auth := make(map[string]any, 4)
	fillAuth(auth, creds)
	return auth
}

func fillAuth(auth map[string]any, creds chat.Credentials) {
	auth["publish_key"] = creds.PublishKey
	auth["subscribe_key"] = creds.SubscribeKey
	auth["user_id"] = creds.UserID
	auth["token"] = creds.Token
}

func firstMap(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	m, _ := args[0].(map[string]any)
	return m
}

func firstString(args []any) string {
	if len(args) == 0 {
		return ""
	}
	s, _ := args[0].(string)
	return s
}
