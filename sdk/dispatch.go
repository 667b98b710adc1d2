package sdk

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/TalkShopLive/go-sdk/pkg/logger"
)

var errDispatcherClosed = errors.New("dispatcher closed")

type dispatchResult[T any] struct {
	value T
	err   error
}

// dispatcher serializes work onto a single goroutine.
//
// Host applications may call into the SDK from several threads at once;
// lifecycle changes (initialize, connect, disconnect, close) and host
// callbacks each run on their own dispatcher so they never interleave.
type dispatcher struct {
	name string
	q    chan func()
	done chan struct{}
	stop sync.Once
}

func newDispatcher(name string, queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = defaultDispatcherQueueSize
	}
	d := &dispatcher{
		name: name,
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for {
		select {
		case fn := <-d.q:
			d.safe(fn)
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("sdk: panic in %s dispatcher: %v\n%s", d.name, r, debug.Stack())
		}
	}()
	fn()
}

// do queues fn without waiting for it to run.
func (d *dispatcher) do(fn func()) error {
	if d == nil {
		return errDispatcherClosed
	}
	if fn == nil {
		return nil
	}
	select {
	case <-d.done:
		return errDispatcherClosed
	default:
	}
	select {
	case d.q <- fn:
		return nil
	case <-d.done:
		return errDispatcherClosed
	}
}

// call runs fn on d and waits for its result.
func call[T any](d *dispatcher, fn func() (T, error)) (T, error) {
	var zero T
	done := make(chan dispatchResult[T], 1)
	err := d.do(func() {
		var res dispatchResult[T]
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("sdk: panic in %s dispatcher: %v\n%s", d.name, r, debug.Stack())
				res.err = fmt.Errorf("sdk: internal panic: %v", r)
			}
			done <- res
		}()
		res.value, res.err = fn()
	})
	if err != nil {
		return zero, err
	}
	select {
	case res := <-done:
		return res.value, res.err
	case <-d.done:
		// The queued call may still be running; its result is dropped.
		return zero, errDispatcherClosed
	}
}

func (d *dispatcher) close() {
	d.stop.Do(func() { close(d.done) })
}
