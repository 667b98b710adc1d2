package sdk

import (
	"context"

	"github.com/TalkShopLive/go-sdk/internal/show"
)

// Details describes a show.
type Details = show.Details

// EventStatus is the state of a show's current stream.
type EventStatus = show.EventStatus

// Show looks up shows. Calls fail with sdkerr.ErrNotInitialized before the
// client is initialized.
type Show struct {
	svc *show.Service
}

// GetDetails returns the details of showKey.
func (s *Show) GetDetails(ctx context.Context, showKey string) (Details, error) {
	return s.svc.GetDetails(ctx, showKey)
}

// GetStatus returns the current stream status of showKey. The first live
// status seen for a show in this process counts a view.
func (s *Show) GetStatus(ctx context.Context, showKey string) (EventStatus, error) {
	return s.svc.GetStatus(ctx, showKey)
}

// WatchURL returns the public page for showKey.
func (s *Show) WatchURL(showKey string) string {
	return s.svc.WatchURL(showKey)
}
