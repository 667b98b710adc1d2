package chat

import (
	"fmt"
	"time"
)

// Event is delivered to subscribers. The set of events is closed: every
// Event is one of MessageEvent, SignalEvent, ConnectionChangedEvent,
// PresenceChangedEvent or ErrorEvent.
type Event interface {
	isChatEvent()
}

type eventBase struct{}

func (eventBase) isChatEvent() {}

// MessageType classifies chat messages.
type MessageType string

const (
	MessageComment  MessageType = "comment"
	MessageQuestion MessageType = "question"
	MessageGiphy    MessageType = "giphy"
)

// Message is a chat message. Payload fields beyond these are not
// interpreted.
type Message struct {
	ID      string      `json:"id"`
	Channel string      `json:"channel"`
	UserID  string      `json:"sender"`
	Text    string      `json:"text"`
	Type    MessageType `json:"type"`
	SentAt  time.Time   `json:"sent_at"`
}

// MessageEvent carries a message published on a subscribed channel.
type MessageEvent struct {
	eventBase
	Message Message
}

// SignalEvent carries a lightweight control signal, such as a message
// deletion, published on a subscribed channel.
type SignalEvent struct {
	eventBase
	Channel string
	Name    string
	Payload map[string]any
}

// ConnectionState is the transport connection state reported to
// subscribers.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Rebound means credentials were swapped in place on a live session.
	Rebound
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Rebound:
		return "rebound"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectionChangedEvent reports a connection state change. Err is set when
// the change was caused by a failure.
type ConnectionChangedEvent struct {
	eventBase
	State ConnectionState
	Err   error
}

// PresenceAction is a presence change kind.
type PresenceAction string

const (
	PresenceJoin    PresenceAction = "join"
	PresenceLeave   PresenceAction = "leave"
	PresenceTimeout PresenceAction = "timeout"
)

// PresenceChangedEvent reports a user joining or leaving a channel.
type PresenceChangedEvent struct {
	eventBase
	Channel   string
	UserID    string
	Action    PresenceAction
	Occupancy int
}

// ErrorEvent reports an asynchronous failure, such as a failed token
// revocation, that has no caller to return to.
type ErrorEvent struct {
	eventBase
	Err error
}
