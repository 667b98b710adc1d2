package chat

import (
	"context"

	"github.com/TalkShopLive/go-sdk/internal/token"
)

// Credentials scope a transport session to one messaging token.
type Credentials struct {
	PublishKey   string `json:"publish_key"`
	SubscribeKey string `json:"subscribe_key"`
	UserID       string `json:"user_id"`
	Token        string `json:"token"`
}

// CredentialsFor returns the transport credentials carried by tok.
func CredentialsFor(tok *token.Token) Credentials {
	return Credentials{
		PublishKey:   tok.PublishKey,
		SubscribeKey: tok.SubscribeKey,
		UserID:       tok.UserID,
		Token:        tok.Value,
	}
}

// RawKind classifies events reported by a Transport.
type RawKind int

const (
	RawMessage RawKind = iota
	RawSignal
	RawStatus
	RawPresence
	RawError
)

// RawEvent is an event as reported by a Transport, before it is mapped onto
// the public Event set.
type RawEvent struct {
	Kind    RawKind
	Channel string
	Name    string
	Payload map[string]any

	// Status is set for RawStatus.
	Status ConnectionState
	// Err is set for RawError and failed RawStatus events.
	Err error
	// AuthFailure marks an error the transport attributes to the token
	// being invalid or revoked.
	AuthFailure bool
}

// Transport is a pub/sub connection. Implementations must be safe for
// concurrent use and deliver events to the handler passed to Connect in
// order.
type Transport interface {
	Connect(ctx context.Context, creds Credentials, handler func(RawEvent)) error
	// SetCredentials replaces the credentials of a live session without
	// dropping subscriptions.
	SetCredentials(ctx context.Context, creds Credentials) error
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	// Publish sends payload on channel. An error wrapping
	// sdkerr.ErrChatTokenExpired means the token was rejected.
	Publish(ctx context.Context, channel string, payload map[string]any) error
	Close() error
}
