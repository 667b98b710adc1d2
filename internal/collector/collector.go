// Package collector reports analytics events. Delivery is fire-and-forget:
// failures are logged and never surface to callers.
package collector

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/actor"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/google/uuid"
)

// CollectPath receives analytics events.
const CollectPath = "/collect"

// Action names a tracked action.
type Action string

const (
	ActionSDKInitialized Action = "SDK_INITIALIZED"
	ActionViewIncrement  Action = "INCREMENT_VIEW"
	ActionChatConnected  Action = "CHAT_CONNECTED"
	ActionChatPublished  Action = "CHAT_MESSAGE_SENT"
)

// Event is one analytics record.
type Event struct {
	ID          string    `json:"event_id"`
	Action      Action    `json:"action"`
	Category    string    `json:"category,omitempty"`
	ShowKey     string    `json:"show_key,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// Options configures a Collector.
type Options struct {
	DoNotTrack bool
	// Dispatch queues deliveries. Nil starts a goroutine per event.
	Dispatch func(func()) error
	Clock    actor.Clock
	Timeout  time.Duration
}

// Collector posts events to the collector host.
type Collector struct {
	gw       *network.Gateway
	resolver *endpoint.Resolver
	opts     Options
	wg       sync.WaitGroup
}

// New returns a Collector.
func New(gw *network.Gateway, resolver *endpoint.Resolver, opts Options) *Collector {
	if opts.Clock == nil {
		opts.Clock = actor.RealClock{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Collector{gw: gw, resolver: resolver, opts: opts}
}

// Enabled reports whether events are delivered.
func (c *Collector) Enabled() bool {
	return c != nil && !c.opts.DoNotTrack
}

// Track records ev asynchronously. It is a no-op when tracking is disabled.
func (c *Collector) Track(ev Event) {
	if !c.Enabled() {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.opts.Clock.Now().UTC()
	}
	ev.Environment = string(c.resolver.Environment())

	c.wg.Add(1)
	run := func() {
		defer c.wg.Done()
		c.send(ev)
	}
	if c.opts.Dispatch != nil {
		if err := c.opts.Dispatch(run); err != nil {
			c.wg.Done()
			logger.Debugf("collector: dropped %s: %v", ev.Action, err)
		}
		return
	}
	go run()
}

// Flush waits for queued deliveries to finish.
func (c *Collector) Flush() {
	if c == nil {
		return
	}
	c.wg.Wait()
}

func (c *Collector) send(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()

	_, err := c.gw.Do(ctx, network.Request{
		Op:     "collector.track",
		Method: http.MethodPost,
		URL:    c.resolver.URL(endpoint.CategoryCollector, CollectPath),
		Body:   ev,
	})
	if err != nil {
		logger.Debugf("collector: dropped %s: %v", ev.Action, err)
	}
}
