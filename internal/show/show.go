// Package show reads show details and live status, and counts a view the
// first time a live show's status is read.
package show

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/TalkShopLive/go-sdk/internal/collector"
	"github.com/TalkShopLive/go-sdk/internal/endpoint"
	"github.com/TalkShopLive/go-sdk/internal/guard"
	"github.com/TalkShopLive/go-sdk/internal/network"
	"github.com/TalkShopLive/go-sdk/pkg/logger"
	"github.com/TalkShopLive/go-sdk/pkg/sdkerr"
)

const (
	detailsPath   = "/api/products/digital-product/%s"
	statusPath    = "/api/shows/%s/streams/current/"
	incrementPath = "/api/shows/%s/increment_view"
	watchPath     = "/watch/%s"
)

// Status values reported for a show's current stream.
const (
	StatusCreated = "created"
	StatusLive    = "live"
	StatusEnded   = "finished"
)

// Details describes a show.
type Details struct {
	ID             int        `json:"id"`
	ShowKey        string     `json:"product_key"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         string     `json:"status"`
	HLSPlaybackURL string     `json:"hls_playback_url"`
	HLSURL         string     `json:"hls_url"`
	TrailerURL     string     `json:"trailer_url"`
	EventID        string     `json:"event_id"`
	ChannelCode    string     `json:"cc"`
	AirDate        *time.Time `json:"air_date"`
	Duration       int        `json:"duration"`
}

type detailsResponse struct {
	Product Details `json:"product"`
}

// EventStatus is the state of a show's current stream.
type EventStatus struct {
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
	StreamKey string `json:"stream_key"`
	EventID   string `json:"event_id"`
	Duration  int    `json:"duration"`
}

// Live reports whether the stream is on air.
func (s EventStatus) Live() bool { return strings.EqualFold(s.Status, StatusLive) }

// Options configures a Service.
type Options struct {
	// Gate fails fast when the SDK is not initialized.
	Gate      func(op string) error
	Collector *collector.Collector
}

// Service reads show data. It is safe for concurrent use.
type Service struct {
	gw       *network.Gateway
	resolver *endpoint.Resolver
	views    *guard.Guard
	opts     Options
}

// NewService returns a Service. views records which shows already had their
// view counted; pass the same guard to every Service in a process.
func NewService(gw *network.Gateway, resolver *endpoint.Resolver, views *guard.Guard, opts Options) *Service {
	if views == nil {
		views = guard.New()
	}
	return &Service{gw: gw, resolver: resolver, views: views, opts: opts}
}

func (s *Service) gate(op string) error {
	if s.opts.Gate == nil {
		return nil
	}
	return s.opts.Gate(op)
}

func validKey(op, showKey string) error {
	if strings.TrimSpace(showKey) == "" {
		return sdkerr.Wrap(sdkerr.ErrInvalidArgument, op, errors.New("empty show key"))
	}
	return nil
}

// GetDetails returns the details of showKey.
func (s *Service) GetDetails(ctx context.Context, showKey string) (Details, error) {
	const op = "show.details"
	if err := s.gate(op); err != nil {
		return Details{}, err
	}
	if err := validKey(op, showKey); err != nil {
		return Details{}, err
	}

	resp, err := network.Send[detailsResponse](ctx, s.gw, network.Request{
		Op:  op,
		URL: s.resolver.URL(endpoint.CategoryAPI, fmt.Sprintf(detailsPath, url.PathEscape(showKey))),
	})
	if err != nil {
		return Details{}, err
	}
	d := resp.Product
	if d.ShowKey == "" {
		d.ShowKey = showKey
	}
	return d, nil
}

// GetStatus returns the current stream status of showKey. The first time a
// show is seen live, its view count is incremented; concurrent and later
// calls never increment again.
func (s *Service) GetStatus(ctx context.Context, showKey string) (EventStatus, error) {
	const op = "show.status"
	if err := s.gate(op); err != nil {
		return EventStatus{}, err
	}
	if err := validKey(op, showKey); err != nil {
		return EventStatus{}, err
	}

	status, err := network.Send[EventStatus](ctx, s.gw, network.Request{
		Op:  op,
		URL: s.resolver.URL(endpoint.CategoryEvents, fmt.Sprintf(statusPath, url.PathEscape(showKey))),
	})
	if err != nil {
		return EventStatus{}, err
	}

	if status.Live() && s.views.TryOnce(showKey) {
		s.incrementView(ctx, showKey)
	}
	return status, nil
}

// ViewCounted reports whether a view was already counted for showKey.
func (s *Service) ViewCounted(showKey string) bool {
	return s.views.Seen(showKey)
}

// WatchURL returns the public page for showKey.
func (s *Service) WatchURL(showKey string) string {
	return s.resolver.URL(endpoint.CategoryAssets, fmt.Sprintf(watchPath, url.PathEscape(showKey)))
}

// incrementView posts the view increment. Failures are logged; the guard is
// not released, so a view is counted at most once.
func (s *Service) incrementView(ctx context.Context, showKey string) {
	const op = "show.increment_view"
	_, err := s.gw.Do(ctx, network.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    s.resolver.URL(endpoint.CategoryAPI, fmt.Sprintf(incrementPath, url.PathEscape(showKey))),
	})
	if err != nil {
		logger.Warnf("show: view increment for %s failed: %v", showKey, err)
		return
	}
	logger.Debugf("show: view counted for %s", showKey)
	s.opts.Collector.Track(collector.Event{Action: collector.ActionViewIncrement, ShowKey: showKey})
}
