package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/TalkShopLive/go-sdk/internal/chat"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/stretchr/testify/require"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
)

func newRoutedClient(t *testing.T) (*Client, func() []chat.RawEvent) {
	t.Helper()
	c := NewClient("https://staging.events.talkshop.live/", false)
	var mu sync.Mutex
	var got []chat.RawEvent
	c.handler = func(ev chat.RawEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	}
	return c, func() []chat.RawEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]chat.RawEvent(nil), got...)
	}
}

func TestClient_RouteInboundEvents(t *testing.T) {
	t.Parallel()

	c, events := newRoutedClient(t)
	require.Equal(t, "https://staging.events.talkshop.live", c.serverURL)

	c.route(EventMessage, []any{map[string]any{
		"channel": "show-1",
		"message": map[string]any{"id": "m1", "text": "hi"},
	}})
	c.route(EventSignal, []any{map[string]any{
		"channel": "show-1",
		"name":    "message_deleted",
		"payload": map[string]any{"id": "m1"},
	}})
	c.route(EventPresence, []any{map[string]any{"channel": "show-1", "action": "join", "user_id": "u2"}})
	c.route("unknown", []any{map[string]any{}})

	got := events()
	require.Len(t, got, 3)
	require.Equal(t, chat.RawMessage, got[0].Kind)
	require.Equal(t, "show-1", got[0].Channel)
	require.Equal(t, "hi", got[0].Payload["text"])
	require.Equal(t, chat.RawSignal, got[1].Kind)
	require.Equal(t, "message_deleted", got[1].Name)
	require.Equal(t, chat.RawPresence, got[2].Kind)
	require.Equal(t, "join", got[2].Name)
}

func TestClient_RevocationIsAuthFailure(t *testing.T) {
	t.Parallel()

	c, events := newRoutedClient(t)
	c.route(EventRevoked, nil)
	c.route("connect_error", []any{map[string]any{"message": "401 unauthorized"}})
	c.route("connect_error", []any{"dial tcp: connection refused"})

	got := events()
	require.Len(t, got, 3)
	require.True(t, got[0].AuthFailure)
	require.ErrorIs(t, got[0].Err, sdkerr.ErrChatTokenExpired)
	require.True(t, got[1].AuthFailure)
	require.False(t, got[2].AuthFailure)
	require.NotErrorIs(t, got[2].Err, sdkerr.ErrChatTokenExpired)
}

func TestClient_ClosedClientDropsEvents(t *testing.T) {
	t.Parallel()

	c, events := newRoutedClient(t)
	require.NoError(t, c.Close())
	c.route(EventMessage, []any{map[string]any{"channel": "x"}})
	require.Empty(t, events())
	require.False(t, c.IsConnected())
}

func TestClient_EmitWithoutSocket(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", false)
	err := c.Publish(context.Background(), "show-1", map[string]any{"text": "hi"})
	require.ErrorContains(t, err, "not connected")
	require.NoError(t, c.Subscribe(context.Background()))
}

func TestAckError(t *testing.T) {
	t.Parallel()

	require.NoError(t, ackError(EventPublish, nil))
	require.NoError(t, ackError(EventPublish, map[string]any{"result": "success"}))

	err := ackError(EventPublish, map[string]any{"result": "error", "error": "token expired"})
	require.ErrorIs(t, err, sdkerr.ErrChatTokenExpired)

	err = ackError(EventPublish, map[string]any{"result": "rate-limited"})
	require.Error(t, err)
	require.False(t, errors.Is(err, sdkerr.ErrChatTokenExpired))
}

func TestClient_SetCredentialsUpdatesReconnectAuth(t *testing.T) {
	t.Parallel()

	c := NewClient("https://staging.events.talkshop.live", false)
	opts := socket.DefaultOptions()
	auth := authPayload(chat.Credentials{PublishKey: "pub", SubscribeKey: "sub", UserID: "u1", Token: "t1"})
	opts.SetAuth(auth)
	c.auth = auth

	// No live socket, so the auth-update emit fails; the reconnect payload
	// is updated regardless.
	err := c.SetCredentials(context.Background(), chat.Credentials{PublishKey: "pub", SubscribeKey: "sub", UserID: "u1", Token: "t2"})
	require.Error(t, err)

	require.Equal(t, "t2", opts.Auth()["token"])
	require.Equal(t, "u1", opts.Auth()["user_id"])
	require.Equal(t, "t2", c.creds.Token)
}
