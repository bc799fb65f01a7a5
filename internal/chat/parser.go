package chat

import (
	"time"

	"github.com/tidwall/gjson"
)

// first returns the first present field among keys.
func first(v gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if r := v.Get(k); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func parseTime(r gjson.Result) time.Time {
	switch r.Type {
	case gjson.Number:
		n := r.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	case gjson.String:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, r.String()); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// ParseMessage normalizes a backend message object. fallbackConversation is
// used when the payload does not name its conversation. ok is false when the
// value is not an object.
func ParseMessage(v gjson.Result, fallbackConversation string) (Message, bool) {
	if !v.IsObject() {
		return Message{}, false
	}

	m := Message{
		ID:               first(v, "id", "messageId", "message_id").String(),
		CorrelationID:    first(v, "tempId", "temp_id", "clientMessageId").String(),
		ConversationID:   first(v, "chat_id", "chatId").String(),
		Body:             first(v, "body", "text").String(),
		CreatedAt:        parseTime(first(v, "created_at", "createdAt", "sentAt", "sent_at", "timestamp")),
		SenderAddress:    first(v, "from_jid", "fromJid", "from").String(),
		RecipientAddress: first(v, "to_jid", "toJid", "to").String(),
		Status:           ParseStatus(v.Get("status").String()),
	}
	if m.ConversationID == "" {
		m.ConversationID = fallbackConversation
	}

	if d, ok := ParseDirection(v.Get("direction").String()); ok {
		m.Direction = d
	} else if fromMe := first(v, "fromMe", "from_me", "isFromMe"); fromMe.Exists() {
		if fromMe.Bool() {
			m.Direction = DirectionOut
		} else {
			m.Direction = DirectionIn
		}
	} else {
		m.Direction = DirectionIn
	}
	return m, true
}

// ParseMessages normalizes every object of a JSON array.
func ParseMessages(arr gjson.Result, conversationID string) []Message {
	var out []Message
	arr.ForEach(func(_, v gjson.Result) bool {
		if m, ok := ParseMessage(v, conversationID); ok {
			out = append(out, m)
		}
		return true
	})
	return out
}

// ParseConversation normalizes a backend chat object.
func ParseConversation(v gjson.Result) (Conversation, bool) {
	if !v.IsObject() {
		return Conversation{}, false
	}
	c := Conversation{
		ID:             v.Get("id").String(),
		Title:          first(v, "title", "name").String(),
		Type:           v.Get("type").String(),
		ContactAddress: first(v, "contactJid", "contact_jid", "contactIdentity", "jid").String(),
		LastActivityAt: parseTime(first(v, "last_message_at", "lastMessageAt")),
		UnreadCount:    int(first(v, "unread_count", "unreadCount").Int()),
	}
	if c.ID == "" {
		return Conversation{}, false
	}
	if c.Type == "" {
		c.Type = "single"
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	return c, true
}

// ParseConversations normalizes every object of a JSON array, skipping
// entries without an id.
func ParseConversations(arr gjson.Result) []Conversation {
	var out []Conversation
	arr.ForEach(func(_, v gjson.Result) bool {
		if c, ok := ParseConversation(v); ok {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Envelope is a normalized message:incoming or message:sent payload.
type Envelope struct {
	Message Message
	// ContactName is the push name the backend attaches to inbound events.
	ContactName string
}

// ParseEnvelope normalizes a stream payload of the form
// {chatId, message, tempId?, contact?}. Payloads that carry the message
// fields at the top level are accepted as well.
func ParseEnvelope(data gjson.Result) (Envelope, bool) {
	if !data.IsObject() {
		return Envelope{}, false
	}
	convID := first(data, "chatId", "chat_id").String()

	mv := data.Get("message")
	text := ""
	if !mv.IsObject() {
		if mv.Type == gjson.String {
			text = mv.String()
		}
		mv = data
	}
	m, ok := ParseMessage(mv, convID)
	if !ok {
		return Envelope{}, false
	}
	if convID != "" {
		m.ConversationID = convID
	}
	if m.Body == "" {
		m.Body = text
	}
	if m.CorrelationID == "" {
		m.CorrelationID = first(data, "tempId", "temp_id").String()
	}
	return Envelope{
		Message:     m,
		ContactName: first(data, "contact.name", "contact.pushName", "contact.push_name").String(),
	}, true
}

// StatusUpdate is a normalized message:status payload.
type StatusUpdate struct {
	MessageID      string
	ConversationID string
	Status         DeliveryStatus
}

// ParseStatusUpdate normalizes a message:status payload. ok is false when
// the id or the status is missing.
func ParseStatusUpdate(data gjson.Result) (StatusUpdate, bool) {
	u := StatusUpdate{
		MessageID:      first(data, "messageId", "message_id", "id").String(),
		ConversationID: first(data, "chatId", "chat_id").String(),
		Status:         ParseStatus(data.Get("status").String()),
	}
	if u.MessageID == "" || u.Status == StatusNone {
		return StatusUpdate{}, false
	}
	return u, true
}
