package token

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// GuestTokenPath mints anonymous tokens.
	GuestTokenPath = "/api/messaging/guest_token"
	// FederatedTokenPath mints tokens for a user asserted by a host JWT.
	FederatedTokenPath = "/api/messaging/federated_token"

	headerSDKKey = "x-tsl-sdk-key"
)

// Minter mints messaging tokens. Implementations perform exactly one
// attempt per call.
type Minter interface {
	Mint(ctx context.Context, id Identity) (*Token, error)
}

// MinterFunc adapts a function to Minter.
type MinterFunc func(ctx context.Context, id Identity) (*Token, error)

// Mint implements Minter.
func (f MinterFunc) Mint(ctx context.Context, id Identity) (*Token, error) { return f(ctx, id) }

type mintResponse struct {
	PublishKey   string `json:"publish_key"`
	SubscribeKey string `json:"subscribe_key"`
	UserID       string `json:"user_id"`
	Token        string `json:"token"`
}

// HTTPMinter mints tokens through the backend messaging endpoints.
type HTTPMinter struct {
	clientKey string
	gateway   *network.Gateway
	resolver  *endpoint.Resolver
	clock     actor.Clock
}

// NewHTTPMinter returns a Minter backed by the messaging endpoints.
func NewHTTPMinter(clientKey string, gateway *network.Gateway, resolver *endpoint.Resolver, clock actor.Clock) *HTTPMinter {
	if clock == nil {
		clock = actor.RealClock{}
	}
	return &HTTPMinter{clientKey: clientKey, gateway: gateway, resolver: resolver, clock: clock}
}

// Mint implements Minter.
func (m *HTTPMinter) Mint(ctx context.Context, id Identity) (*Token, error) {
	path := GuestTokenPath
	var body any = map[string]string{}
	if !id.Guest() {
		path = FederatedTokenPath
		body = map[string]string{"jwt": id.JWT}
	}

	resp, err := network.Send[mintResponse](ctx, m.gateway, network.Request{
		Op:      "token.mint",
		Method:  http.MethodPost,
		URL:     m.resolver.URL(endpoint.CategoryAPI, path),
		Headers: map[string]string{headerSDKKey: m.clientKey},
		Body:    body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, sdkerr.Wrap(sdkerr.ErrDecoding, "token.mint", errors.New("response carries no token"))
	}

	tok := &Token{
		Value:        resp.Token,
		UserID:       resp.UserID,
		Guest:        id.Guest(),
		PublishKey:   resp.PublishKey,
		SubscribeKey: resp.SubscribeKey,
		IssuedAt:     m.clock.Now(),
	}
	if claims, ok := parseClaims(resp.Token); ok {
		if claims.IssuedAt != nil {
			tok.IssuedAt = claims.IssuedAt.Time
		}
		if tok.UserID == "" {
			tok.UserID = claims.Subject
		}
	}
	return tok, nil
}

// parseClaims reads registered claims from a JWT-shaped token without
// verifying its signature. Only the transport verifies tokens; the SDK reads
// issue time and subject for bookkeeping.
func parseClaims(raw string) (*jwt.RegisteredClaims, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Age returns how long ago tok was issued according to clock.
func Age(tok *Token, clock actor.Clock) time.Duration {
	if tok == nil || tok.IssuedAt.IsZero() {
		return 0
	}
	return clock.Now().Sub(tok.IssuedAt)
}
