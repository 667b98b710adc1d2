package chat

import (
	"time"
)

func messagePayload(msg Message) map[string]any {
	return map[string]any{
		"id":      msg.ID,
		"type":    string(msg.Type),
		"text":    msg.Text,
		"sender":  msg.UserID,
		"sent_at": msg.SentAt.Format(time.RFC3339Nano),
	}
}

func messageFromPayload(channel string, p map[string]any) Message {
	msg := Message{
		Channel: channel,
		ID:      str(p["id"]),
		Text:    str(p["text"]),
		UserID:  str(p["sender"]),
		Type:    MessageType(str(p["type"])),
	}
	if msg.Type == "" {
		msg.Type = MessageComment
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(p["sent_at"])); err == nil {
		msg.SentAt = ts
	}
	return msg
}

func mapRaw(raw RawEvent) Event {
	switch raw.Kind {
	case RawMessage:
		return MessageEvent{Message: messageFromPayload(raw.Channel, raw.Payload)}
	case RawSignal:
		return SignalEvent{Channel: raw.Channel, Name: raw.Name, Payload: raw.Payload}
	case RawStatus:
		return ConnectionChangedEvent{State: raw.Status, Err: raw.Err}
	case RawPresence:
		return PresenceChangedEvent{
			Channel:   raw.Channel,
			UserID:    str(raw.Payload["user_id"]),
			Action:    PresenceAction(raw.Name),
			Occupancy: num(raw.Payload["occupancy"]),
		}
	case RawError:
		return ErrorEvent{Err: raw.Err}
	default:
		return nil
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
