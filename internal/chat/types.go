package chat

import (
	"strings"
	"time"
)

// ProvisionalPrefix marks locally generated message ids that have not
// been confirmed by the server yet.
const ProvisionalPrefix = "temp-"

// Direction of a message relative to the linked account.
type Direction string

const (
	DirectionIn     Direction = "in"
	DirectionOut    Direction = "out"
	DirectionSystem Direction = "system"
)

// ParseDirection accepts the spellings the backend has used over time.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "inbound", "incoming", "received":
		return DirectionIn, true
	case "out", "outbound", "outgoing", "sent":
		return DirectionOut, true
	case "system", "notification":
		return DirectionSystem, true
	}
	return "", false
}

// DeliveryStatus of an outbound message. The zero value means unknown.
type DeliveryStatus string

const (
	StatusNone      DeliveryStatus = ""
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// ParseStatus normalizes a status string, returning StatusNone for
// anything unrecognized.
func ParseStatus(s string) DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "sending":
		return StatusPending
	case "sent", "server", "ack":
		return StatusSent
	case "delivered", "delivery_ack", "device":
		return StatusDelivered
	case "read", "played", "seen":
		return StatusRead
	case "failed", "error":
		return StatusFailed
	}
	return StatusNone
}

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// Advance returns the status that results from applying next on top of s.
// Statuses only move forward; failed always applies and an unknown next
// status leaves s unchanged.
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	switch {
	case next == StatusNone:
		return s
	case next == StatusFailed:
		return StatusFailed
	case s == StatusFailed:
		return next
	case next.rank() >= s.rank():
		return next
	}
	return s
}

// Message is a single entry in a conversation timeline.
type Message struct {
	ID               string         `json:"id"`
	CorrelationID    string         `json:"tempId,omitempty"`
	ConversationID   string         `json:"chatId"`
	Direction        Direction      `json:"direction"`
	Body             string         `json:"body"`
	CreatedAt        time.Time      `json:"createdAt"`
	SenderAddress    string         `json:"from,omitempty"`
	RecipientAddress string         `json:"to,omitempty"`
	Status           DeliveryStatus `json:"status,omitempty"`
}

// IsProvisional reports whether the id was generated locally.
func (m Message) IsProvisional() bool {
	return strings.HasPrefix(m.ID, ProvisionalPrefix)
}

// Counterpart returns the routable address of the other party.
func (m Message) Counterpart() string {
	switch m.Direction {
	case DirectionIn:
		return m.SenderAddress
	case DirectionOut:
		return m.RecipientAddress
	}
	return ""
}

// Conversation is one entry of the chat list.
type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Type           string    `json:"type,omitempty"`
	ContactAddress string    `json:"contactJid,omitempty"`
	LastActivityAt time.Time `json:"lastMessageAt"`
	UnreadCount    int       `json:"unreadCount"`
}

// DisplayTitle falls back to the contact address, then the id.
func (c Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	if c.ContactAddress != "" {
		return c.ContactAddress
	}
	return c.ID
}
