package sdk

import (
	"context"
	"errors"
	"sync"

	"github.com/TalkShopLive/go-sdk/internal/chat"
	"github.com/TalkShopLive/go-sdk/internal/collector"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/token"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
)

// Identity selects who chats. The zero Identity chats as a guest; set JWT to
// chat as the user a host-issued JWT asserts.
type Identity = token.Identity

// Chat is the live chat handle of a Client.
type Chat struct {
	client *Client

	mu        sync.Mutex
	coord     *chat.Coordinator
	unforward func()
	showKey   string
	identity  *Identity
	subs      map[int]func(chat.Event)
	nextSubID int
}

// Connect acquires a messaging token for id and joins the chat of showKey.
// Connecting again to another show replaces the previous connection.
func (ch *Chat) Connect(ctx context.Context, showKey string, id Identity) error {
	c := ch.client
	_, err := call(c.dispatch, func() (struct{}, error) {
		return struct{}{}, ch.connect(ctx, showKey, id)
	})
	if errors.Is(err, errDispatcherClosed) {
		return sdkerr.Wrap(sdkerr.ErrTornDown, "chat.connect", nil)
	}
	return err
}

func (ch *Chat) connect(ctx context.Context, showKey string, id Identity) error {
	const op = "chat.connect"
	c := ch.client
	if err := c.registrar.Gate(op); err != nil {
		return err
	}
	if showKey == "" {
		return sdkerr.Wrap(sdkerr.ErrInvalidArgument, op, errors.New("empty show key"))
	}

	ch.mu.Lock()
	same := ch.identity != nil && *ch.identity == id
	ch.mu.Unlock()
	if !same || c.tokens.Current() == nil {
		if _, err := c.tokens.Acquire(ctx, id); err != nil {
			return err
		}
		ch.mu.Lock()
		ch.identity = &id
		ch.mu.Unlock()
	}

	if err := ch.disconnect(); err != nil {
		logger.Warnf("sdk: closing previous chat: %v", err)
	}

	transport := c.opts.NewTransport(c.resolver.BaseURL(endpoint.CategoryEvents), c.opts.Debug)
	coord := chat.NewCoordinator(transport, c.tokens, chat.Options{
		Gate:    c.registrar.Gate,
		Deliver: c.deliver,
		Clock:   c.opts.Clock,
	})
	unforward, err := coord.OnEvent(ch.forward)
	if err != nil {
		return err
	}
	if err := coord.Connect(ctx, channelFor(showKey)); err != nil {
		unforward()
		return err
	}

	ch.mu.Lock()
	ch.coord = coord
	ch.unforward = unforward
	ch.showKey = showKey
	ch.mu.Unlock()

	c.collector.Track(collector.Event{
		Action:  collector.ActionChatConnected,
		ShowKey: showKey,
		UserID:  c.tokens.Current().UserID,
	})
	return nil
}

// Publish sends text to the connected show's chat.
func (ch *Chat) Publish(ctx context.Context, text string) (chat.Message, error) {
	const op = "chat.publish"
	if err := ch.client.registrar.Gate(op); err != nil {
		return chat.Message{}, err
	}
	ch.mu.Lock()
	coord, showKey := ch.coord, ch.showKey
	ch.mu.Unlock()
	if coord == nil {
		return chat.Message{}, sdkerr.Wrap(sdkerr.ErrNoToken, op, errors.New("chat not connected"))
	}
	return coord.Publish(ctx, channelFor(showKey), chat.Message{Text: text})
}

// Subscribe registers fn for chat events of the current and future
// connections. Callbacks run one at a time on the SDK callback goroutine.
// The returned func unregisters fn.
//
// Subscribe fails with sdkerr.ErrNotInitialized before Initialize succeeds
// and with sdkerr.ErrNoToken while no messaging token is held, so it is
// called after Connect.
func (ch *Chat) Subscribe(fn func(chat.Event)) (unsubscribe func(), err error) {
	const op = "chat.subscribe"
	c := ch.client
	if err := c.registrar.Gate(op); err != nil {
		return nil, err
	}
	if c.tokens.Current() == nil {
		return nil, sdkerr.Wrap(sdkerr.ErrNoToken, op, nil)
	}
	if fn == nil {
		return nil, sdkerr.Wrap(sdkerr.ErrInvalidArgument, op, errors.New("nil callback"))
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.nextSubID++
	id := ch.nextSubID
	ch.subs[id] = fn
	return func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		delete(ch.subs, id)
	}, nil
}

// ShowKey returns the show the chat is connected to, or "".
func (ch *Chat) ShowKey() string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.showKey
}

// Disconnect leaves the chat. The messaging token is kept for a later
// Connect.
func (ch *Chat) Disconnect() error {
	_, err := call(ch.client.dispatch, func() (struct{}, error) {
		return struct{}{}, ch.disconnect()
	})
	if errors.Is(err, errDispatcherClosed) {
		return nil
	}
	return err
}

func (ch *Chat) disconnect() error {
	ch.mu.Lock()
	coord, unforward := ch.coord, ch.unforward
	ch.coord, ch.unforward, ch.showKey = nil, nil, ""
	ch.mu.Unlock()
	if coord == nil {
		return nil
	}
	err := coord.Close()
	if unforward != nil {
		unforward()
	}
	return err
}

func (ch *Chat) forward(ev chat.Event) {
	ch.mu.Lock()
	fns := make([]func(chat.Event), 0, len(ch.subs))
	for _, fn := range ch.subs {
		fns = append(fns, fn)
	}
	ch.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// channelFor names the chat channel of a show.
func channelFor(showKey string) string {
	return "chat." + showKey
}
