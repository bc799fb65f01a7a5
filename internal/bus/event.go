package bus

import "time"

// Event kinds published by the client components. Subscribers filter by
// prefix, so "message." receives every message event.
const (
	KindMessageUpdated    = "message.updated"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageArrived    = "message.arrived"
	KindChatUpdated       = "chat.updated"
	KindChatListLoaded    = "chat.list_loaded"
	KindLinkChanged       = "link.changed"
	KindLinkQR            = "link.qr"
)

// Event is a state change fanned out to views.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
