// Package token owns the messaging-token lifecycle: acquisition, scheduled
// silent refresh, reactive revocation and teardown.
//
// All state transitions run on a single actor goroutine (see Reduce). The
// current token is additionally published through an atomic pointer so that
// readers on other goroutines never observe a partially updated value.
package token

import (
	"fmt"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
)

// DefaultRefreshInterval is how long a token is trusted before a silent
// refresh is attempted. Tokens are minted with a one hour scope.
const DefaultRefreshInterval = 58 * time.Minute

// Token is an issued messaging token. Tokens are immutable; a refresh
// produces a new *Token.
type Token struct {
	Value        string
	IssuedAt     time.Time
	UserID       string
	Guest        bool
	PublishKey   string
	SubscribeKey string
}

// Identity is the caller-supplied proof used to mint a token. An empty JWT
// mints a guest token; otherwise a federated token is minted for the user the
// JWT asserts.
type Identity struct {
	JWT string
}

// Guest reports whether the identity mints guest tokens.
func (i Identity) Guest() bool { return i.JWT == "" }

// Phase is the token state machine phase.
type Phase int

const (
	PhaseNoToken Phase = iota
	PhaseAcquiring
	PhaseValid
	PhaseRefreshing
	PhaseRevoked
	PhaseTornDown
)

func (p Phase) String() string {
	switch p {
	case PhaseNoToken:
		return "NoToken"
	case PhaseAcquiring:
		return "Acquiring"
	case PhaseValid:
		return "Valid"
	case PhaseRefreshing:
		return "Refreshing"
	case PhaseRevoked:
		return "RevokedOrExpired"
	case PhaseTornDown:
		return "TornDown"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// mintReason records why a mint is in flight; it selects retry policy and
// failure classification.
type mintReason int

const (
	reasonAcquire mintReason = iota
	reasonRefresh
	reasonRevoke
)

func (r mintReason) String() string {
	switch r {
	case reasonAcquire:
		return "acquire"
	case reasonRefresh:
		return "refresh"
	case reasonRevoke:
		return "revoke"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// result completes an Acquire or Revoke call.
type result struct {
	Token *Token
	Err   error
}

// State is the actor-owned token state.
type State struct {
	Phase   Phase
	Current *Token

	// Identity is the proof of the last acquire; refreshes and revocation
	// re-mint with it.
	Identity    Identity
	HasIdentity bool

	// Gen increments for every mint started. Completions carrying an older
	// generation are ignored.
	Gen    int64
	Reason mintReason

	// Waiters are completed when the in-flight mint finishes.
	Waiters []chan result

	// RefreshSeq increments whenever the refresh timer is armed; a firing
	// with an older sequence is stale.
	RefreshSeq   int64
	RefreshArmed bool

	RefreshInterval time.Duration
	RefreshFailures int
	LastErr         error
}

// Inputs

type cmdAcquire struct {
	actor.InputBase
	Identity Identity
	Reply    chan result
}

type cmdRevoke struct {
	actor.InputBase
	Reply chan result
}

type cmdTeardown struct {
	actor.InputBase
	Done chan struct{}
}

type evRefreshDue struct {
	actor.InputBase
	Seq int64
}

type evMinted struct {
	actor.InputBase
	Gen   int64
	Token *Token
}

type evMintFailed struct {
	actor.InputBase
	Gen int64
	Err error
}

// Effects

// effMint mints a token off the actor goroutine.
type effMint struct {
	actor.EffectBase
	Gen      int64
	Identity Identity
	Reason   mintReason
}

// effSwap publishes Token as current. A nil Token invalidates.
type effSwap struct {
	actor.EffectBase
	Token *Token
}

// effArmRefresh (re)arms the refresh timer.
type effArmRefresh struct {
	actor.EffectBase
	Seq   int64
	After time.Duration
}

// effCancelRefresh cancels the refresh timer.
type effCancelRefresh struct {
	actor.EffectBase
}

// effReply completes waiters. It is emitted after effSwap so a caller that
// receives a token always finds it already current.
type effReply struct {
	actor.EffectBase
	Waiters []chan result
	Result  result
}

// effClose signals teardown completion.
type effClose struct {
	actor.EffectBase
	Done chan struct{}
}
