package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of an initial acquisition. Refreshes and
// revocation re-mints are never retried inline.
type RetryPolicy struct {
	// MaxTries is the total number of attempts, including the first.
	MaxTries uint
	// NewBackOff returns the backoff schedule for one acquisition. Nil means
	// exponential backoff with library defaults.
	NewBackOff func() backoff.BackOff
}

// DefaultRetryPolicy is used when Options leaves Retry zero.
var DefaultRetryPolicy = RetryPolicy{MaxTries: 3}

// Runtime executes token effects. It never mutates State; mint outcomes are
// emitted back into the mailbox as inputs.
type Runtime struct {
	minter  Minter
	clock   actor.Clock
	retry   RetryPolicy
	publish func(*Token)

	mu      sync.Mutex
	timer   actor.Timer
	stopped bool
}

// NewRuntime returns a Runtime. publish is called on the actor goroutine for
// every swap.
func NewRuntime(minter Minter, clock actor.Clock, retry RetryPolicy, publish func(*Token)) *Runtime {
	if clock == nil {
		clock = actor.RealClock{}
	}
	if retry.MaxTries == 0 {
		retry = DefaultRetryPolicy
	}
	return &Runtime{minter: minter, clock: clock, retry: retry, publish: publish}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case effMint:
			if ctx.Err() != nil {
				continue
			}
			go r.mint(ctx, e, emit)
		case effSwap:
			if r.publish != nil {
				r.publish(e.Token)
			}
		case effArmRefresh:
			r.arm(e, emit)
		case effCancelRefresh:
			r.cancelTimer()
		case effReply:
			for _, w := range e.Waiters {
				select {
				case w <- e.Result:
				default:
				}
			}
		case effClose:
			if e.Done != nil {
				close(e.Done)
			}
		default:
			logger.Warnf("token: unknown effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runtime) arm(eff effArmRefresh, emit func(actor.Input)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	seq := eff.Seq
	r.timer = r.clock.AfterFunc(eff.After, func() {
		emit(evRefreshDue{Seq: seq})
	})
	logger.Debugf("token: refresh armed in %s", eff.After)
}

func (r *Runtime) cancelTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runtime) mint(ctx context.Context, eff effMint, emit func(actor.Input)) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("token: mint panic: %v", rec)
			emit(evMintFailed{Gen: eff.Gen, Err: fmt.Errorf("mint panic: %v", rec)})
		}
	}()

	start := r.clock.Now()
	var (
		tok *Token
		err error
	)
	if eff.Reason == reasonAcquire {
		tok, err = r.mintWithRetry(ctx, eff.Identity)
	} else {
		tok, err = r.minter.Mint(ctx, eff.Identity)
	}
	if ctx.Err() != nil {
		// Torn down; the generation is already stale.
		return
	}
	if err != nil {
		logf := logger.Warnf
		if eff.Reason == reasonRefresh {
			// The current token stays usable and the refresh is re-armed.
			logf = logger.Debugf
		}
		logf("token: %s mint failed after %s: %v", eff.Reason, r.clock.Now().Sub(start), err)
		emit(evMintFailed{Gen: eff.Gen, Err: err})
		return
	}
	logger.Debugf("token: %s mint succeeded for user %q", eff.Reason, tok.UserID)
	emit(evMinted{Gen: eff.Gen, Token: tok})
}

func (r *Runtime) mintWithRetry(ctx context.Context, id Identity) (*Token, error) {
	var b backoff.BackOff
	if r.retry.NewBackOff != nil {
		b = r.retry.NewBackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}

	attempt := 0
	op := func() (*Token, error) {
		attempt++
		tok, err := r.minter.Mint(ctx, id)
		if err == nil {
			return tok, nil
		}
		if !sdkerr.Transient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.retry.MaxTries),
		backoff.WithMaxElapsedTime(2*time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debugf("token: acquire attempt %d failed, retrying in %s: %v", attempt, next, err)
		}),
	)
}
