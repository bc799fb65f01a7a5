package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
)

func serve(t *testing.T, routes map[string]http.HandlerFunc) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.HandleFunc(pattern, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return newTestClient(t, srv.URL)
}

func TestFetchChatsNormalizes(t *testing.T) {
	c := serve(t, map[string]http.HandlerFunc{
		"GET /api/whatsapp/chats": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"chats":[{"id":"c1","title":"Alice","unread_count":2,"contact_jid":"A"},{"id":"c2","unreadCount":1,"lastMessageAt":"2026-03-01T10:00:00Z"}]}`))
		},
	})

	chats, err := c.FetchChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "A", chats[0].ContactAddress)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.Equal(t, "single", chats[1].Type)
	assert.False(t, chats[1].LastActivityAt.IsZero())
}

func TestFetchMessagesSortedOldestFirst(t *testing.T) {
	var gotPath string
	c := serve(t, map[string]http.HandlerFunc{
		"GET /api/whatsapp/chats/{id}/messages": func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.PathValue("id")
			w.Write([]byte(`{"messages":[
				{"id":"m3","created_at":"2026-03-01T10:02:00Z"},
				{"id":"m1","createdAt":"2026-03-01T10:00:00Z"},
				{"id":"m2","sentAt":"2026-03-01T10:01:00Z"}
			]}`))
		},
	})

	msgs, err := c.FetchMessages(context.Background(), "123@c.us")
	require.NoError(t, err)
	assert.Equal(t, "123@c.us", gotPath)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
		assert.Equal(t, "123@c.us", m.ConversationID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
}

func TestSendMessage(t *testing.T) {
	var got SendRequest
	c := serve(t, map[string]http.HandlerFunc{
		"POST /api/whatsapp/send": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"success":true,"message":"queued","data":{"messageId":"srv1","chatId":"c1"}}`))
		},
	})

	res, err := c.SendMessage(context.Background(), SendRequest{To: "A", Message: "hello", TempID: "temp-1"})
	require.NoError(t, err)
	assert.Equal(t, SendRequest{To: "A", Message: "hello", TempID: "temp-1"}, got)
	assert.Equal(t, SendResult{MessageID: "srv1", ChatID: "c1", Message: "queued"}, res)
}

func TestSendMessageClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   apperr.Code
	}{
		{"503 means unlinked", 503, `{"error":"Service Unavailable"}`, apperr.CodeUpstreamUnlinked},
		{"unlinked text", 400, `{"error":"WhatsApp client not ready"}`, apperr.CodeUpstreamUnlinked},
		{"plain http error", 400, `{"error":"Invalid number"}`, apperr.CodeHTTP},
		{"success false", 200, `{"success":false,"message":"Number is blocked"}`, apperr.CodeSendFailed},
		{"success false unlinked", 200, `{"success":false,"error":"No active session"}`, apperr.CodeUpstreamUnlinked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := serve(t, map[string]http.HandlerFunc{
				"POST /api/whatsapp/send": func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					w.Write([]byte(tt.body))
				},
			})
			_, err := c.SendMessage(context.Background(), SendRequest{To: "A", Message: "x"})
			assert.Equal(t, tt.want, apperr.CodeOf(err))
		})
	}
}

func TestSendMessageRequiresRecipient(t *testing.T) {
	c := newTestClient(t, "http://unused.test")
	_, err := c.SendMessage(context.Background(), SendRequest{To: " ", Message: "x"})
	assert.True(t, apperr.Is(err, apperr.CodeRecipientUnresolvable))
}

func TestStatusAndQR(t *testing.T) {
	c := serve(t, map[string]http.HandlerFunc{
		"GET /api/whatsapp/status": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"isConnected":false,"sessionId":"s1"}`))
		},
		"GET /api/whatsapp/qr": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"qr":null}`))
		},
	})

	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LinkStatus{SessionID: "s1"}, st)

	qr, err := c.QR(context.Background())
	require.NoError(t, err)
	assert.Empty(t, qr)
}

func TestCreateContact(t *testing.T) {
	var got contactRequest
	c := serve(t, map[string]http.HandlerFunc{
		"POST /api/whatsapp/contacts": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"chat":{"id":"c9","title":"Carol"}}`))
		},
	})

	conv, err := c.CreateContact(context.Background(), " +201000 ", "Carol")
	require.NoError(t, err)
	assert.Equal(t, contactRequest{Phone: "+201000", Name: "Carol"}, got)
	assert.Equal(t, chat.Conversation{ID: "c9", Title: "Carol", Type: "single", ContactAddress: "+201000"}, conv)
}

func TestIsUnlinkedText(t *testing.T) {
	assert.True(t, IsUnlinkedText("Session DISCONNECTED"))
	assert.True(t, IsUnlinkedText("scan the QR code"))
	assert.False(t, IsUnlinkedText("invalid phone number"))
}
