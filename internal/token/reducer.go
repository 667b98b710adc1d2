package token

import (
	"errors"
	"fmt"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
)

// Reduce is the token state machine:
//
//	NoToken -> Acquiring -> Valid -> (timer) -> Refreshing -> Valid
//	Valid -> (revocation) -> Acquiring -> Valid | RevokedOrExpired
//	any -> TornDown
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	if state.Phase == PhaseTornDown {
		return reduceTornDown(state, input)
	}
	switch in := input.(type) {
	case cmdAcquire:
		return reduceAcquire(state, in)
	case cmdRevoke:
		return reduceRevoke(state, in)
	case cmdTeardown:
		return reduceTeardown(state, in)
	case evRefreshDue:
		return reduceRefreshDue(state, in)
	case evMinted:
		return reduceMinted(state, in)
	case evMintFailed:
		return reduceMintFailed(state, in)
	default:
		return state, nil
	}
}

// reduceTornDown rejects commands and drops late completions.
func reduceTornDown(state State, input actor.Input) (State, []actor.Effect) {
	tornDown := result{Err: sdkerr.Wrap(sdkerr.ErrTornDown, "token", nil)}
	switch in := input.(type) {
	case cmdAcquire:
		return state, []actor.Effect{effReply{Waiters: []chan result{in.Reply}, Result: tornDown}}
	case cmdRevoke:
		return state, []actor.Effect{effReply{Waiters: []chan result{in.Reply}, Result: tornDown}}
	case cmdTeardown:
		return state, []actor.Effect{effClose{Done: in.Done}}
	default:
		return state, nil
	}
}

func reduceAcquire(state State, in cmdAcquire) (State, []actor.Effect) {
	if state.Phase == PhaseAcquiring && state.Reason != reasonRevoke && state.Identity == in.Identity {
		// Join the in-flight mint.
		state.Waiters = appendWaiter(state.Waiters, in.Reply)
		return state, nil
	}

	// A refresh in flight is superseded; the previous token stays current
	// until the new mint completes.
	state.Identity = in.Identity
	state.HasIdentity = true
	state.Waiters = appendWaiter(state.Waiters, in.Reply)
	return startMint(state, reasonAcquire)
}

func reduceRevoke(state State, in cmdRevoke) (State, []actor.Effect) {
	if state.Phase == PhaseAcquiring && state.Reason == reasonRevoke {
		state.Waiters = appendWaiter(state.Waiters, in.Reply)
		return state, nil
	}
	if !state.HasIdentity {
		err := sdkerr.Wrap(sdkerr.ErrNoToken, "token.revoke", errors.New("no token was ever acquired"))
		return state, []actor.Effect{effReply{Waiters: []chan result{in.Reply}, Result: result{Err: err}}}
	}

	state.Current = nil
	state.RefreshArmed = false
	state.Waiters = appendWaiter(state.Waiters, in.Reply)
	next, effects := startMint(state, reasonRevoke)
	return next, append([]actor.Effect{effCancelRefresh{}, effSwap{Token: nil}}, effects...)
}

func reduceTeardown(state State, in cmdTeardown) (State, []actor.Effect) {
	waiters := state.Waiters
	state.Phase = PhaseTornDown
	state.Current = nil
	state.Waiters = nil
	state.RefreshArmed = false
	state.Gen++

	effects := []actor.Effect{effCancelRefresh{}, effSwap{Token: nil}}
	if len(waiters) > 0 {
		effects = append(effects, effReply{
			Waiters: waiters,
			Result:  result{Err: sdkerr.Wrap(sdkerr.ErrTornDown, "token", nil)},
		})
	}
	return state, append(effects, effClose{Done: in.Done})
}

func reduceRefreshDue(state State, in evRefreshDue) (State, []actor.Effect) {
	if !state.RefreshArmed || in.Seq != state.RefreshSeq {
		return state, nil
	}
	// The armed timer has fired, whatever happens next.
	state.RefreshArmed = false
	if state.Phase != PhaseValid {
		return state, nil
	}
	return startMint(state, reasonRefresh)
}

func reduceMinted(state State, in evMinted) (State, []actor.Effect) {
	if !mintInFlight(state, in.Gen) {
		return state, nil
	}
	waiters := state.Waiters
	state.Phase = PhaseValid
	state.Current = in.Token
	state.Waiters = nil
	state.RefreshFailures = 0
	state.LastErr = nil

	state, arm := armRefresh(state)
	effects := []actor.Effect{effSwap{Token: in.Token}, arm}
	if len(waiters) > 0 {
		effects = append(effects, effReply{Waiters: waiters, Result: result{Token: in.Token}})
	}
	return state, effects
}

func reduceMintFailed(state State, in evMintFailed) (State, []actor.Effect) {
	if !mintInFlight(state, in.Gen) {
		return state, nil
	}
	reason := state.Reason
	err := classify(reason, in.Err)
	waiters := state.Waiters
	state.Waiters = nil
	state.LastErr = err

	var effects []actor.Effect
	switch reason {
	case reasonRefresh:
		// The previous token stays live; retry at the same interval.
		state.Phase = PhaseValid
		state.RefreshFailures++
		var arm actor.Effect
		state, arm = armRefresh(state)
		effects = append(effects, arm)

	case reasonRevoke:
		state.Phase = PhaseRevoked
		state.Current = nil

	default:
		if state.Current != nil {
			state.Phase = PhaseValid
			if !state.RefreshArmed {
				var arm actor.Effect
				state, arm = armRefresh(state)
				effects = append(effects, arm)
			}
		} else {
			state.Phase = PhaseNoToken
		}
	}

	if len(waiters) > 0 {
		effects = append(effects, effReply{Waiters: waiters, Result: result{Err: err}})
	}
	return state, effects
}

func startMint(state State, reason mintReason) (State, []actor.Effect) {
	state.Gen++
	state.Reason = reason
	if reason == reasonRefresh {
		state.Phase = PhaseRefreshing
	} else {
		state.Phase = PhaseAcquiring
	}
	return state, []actor.Effect{effMint{Gen: state.Gen, Identity: state.Identity, Reason: reason}}
}

func armRefresh(state State) (State, actor.Effect) {
	interval := state.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	state.RefreshSeq++
	state.RefreshArmed = true
	return state, effArmRefresh{Seq: state.RefreshSeq, After: interval}
}

func mintInFlight(state State, gen int64) bool {
	if gen != state.Gen {
		return false
	}
	return state.Phase == PhaseAcquiring || state.Phase == PhaseRefreshing
}

func appendWaiter(waiters []chan result, reply chan result) []chan result {
	if reply == nil {
		return waiters
	}
	return append(waiters, reply)
}

// classify maps a mint failure onto the error surfaced for the reason the
// mint was started.
func classify(reason mintReason, err error) error {
	op := "token." + reason.String()
	if err == nil {
		err = fmt.Errorf("mint failed")
	}
	switch reason {
	case reasonRevoke:
		if sdkerr.Rejected(err) {
			return sdkerr.Wrap(sdkerr.ErrPermissionDenied, op, err)
		}
		return sdkerr.Wrap(sdkerr.ErrChatTokenExpired, op, err)
	default:
		if sdkerr.Rejected(err) || errors.Is(err, sdkerr.ErrAuthenticationFailed) {
			return sdkerr.Wrap(sdkerr.ErrAuthenticationFailed, op, err)
		}
		return sdkerr.Wrap(sdkerr.ErrAuthenticationException, op, err)
	}
}
