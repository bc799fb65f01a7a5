package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
)

const (
	pathChats    = "/api/whatsapp/chats"
	pathSend     = "/api/whatsapp/send"
	pathStatus   = "/api/whatsapp/status"
	pathQR       = "/api/whatsapp/qr"
	pathContacts = "/api/whatsapp/contacts"
)

// FetchChats returns the normalized conversation list.
func (c *Client) FetchChats(ctx context.Context) ([]chat.Conversation, error) {
	var res gjson.Result
	if err := c.Get(ctx, pathChats, &res); err != nil {
		return nil, err
	}
	return chat.ParseConversations(res.Get("chats")), nil
}

// FetchMessages returns a conversation's history sorted oldest first.
func (c *Client) FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var res gjson.Result
	if err := c.Get(ctx, pathChats+"/"+url.PathEscape(chatID)+"/messages", &res); err != nil {
		return nil, err
	}
	msgs := chat.ParseMessages(res.Get("messages"), chatID)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// SendRequest is the body of POST /api/whatsapp/send.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

// SendResult is the server's confirmation of a send.
type SendResult struct {
	MessageID string
	ChatID    string
	Message   string
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Data    struct {
		MessageID string `json:"messageId"`
		ChatID    string `json:"chatId"`
	} `json:"data"`
}

// SendMessage posts an outbound text. Failures caused by the WhatsApp
// bridge not being linked come back as UPSTREAM_UNLINKED.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	if strings.TrimSpace(req.To) == "" {
		return SendResult{}, apperr.New(apperr.CodeRecipientUnresolvable, "recipient is empty")
	}

	resp, err := Post[sendResponse](ctx, c, pathSend, req)
	if err != nil {
		return SendResult{}, classifySend(err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "send rejected by server"
		}
		if IsUnlinkedText(msg) {
			return SendResult{}, apperr.New(apperr.CodeUpstreamUnlinked, msg)
		}
		return SendResult{}, apperr.New(apperr.CodeSendFailed, msg).WithUserMessage(msg)
	}
	return SendResult{MessageID: resp.Data.MessageID, ChatID: resp.Data.ChatID, Message: resp.Message}, nil
}

func classifySend(err error) error {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.CodeHTTP {
		return err
	}
	if appErr.Status == http.StatusServiceUnavailable || IsUnlinkedText(appErr.Message) {
		return apperr.Wrap(err, apperr.CodeUpstreamUnlinked, appErr.Message).WithStatus(appErr.Status)
	}
	return err
}

var unlinkedPhrases = []string{
	"not connected",
	"not ready",
	"not linked",
	"no active session",
	"disconnected",
	"qr",
}

// IsUnlinkedText reports whether a server message says the WhatsApp
// bridge has no paired session.
func IsUnlinkedText(s string) bool {
	s = strings.ToLower(s)
	for _, p := range unlinkedPhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// LinkStatus is the backend's view of the WhatsApp bridge.
type LinkStatus struct {
	IsConnected bool   `json:"isConnected"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	SessionID   string `json:"sessionId"`
}

// Status returns the upstream link status.
func (c *Client) Status(ctx context.Context) (LinkStatus, error) {
	return Get[LinkStatus](ctx, c, pathStatus)
}

// QR returns the pairing code, or "" when none is pending.
func (c *Client) QR(ctx context.Context) (string, error) {
	var res gjson.Result
	if err := c.Get(ctx, pathQR, &res); err != nil {
		return "", err
	}
	return res.Get("qr").String(), nil
}

type contactRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// CreateContact registers a phone number and returns its conversation.
func (c *Client) CreateContact(ctx context.Context, phone, name string) (chat.Conversation, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return chat.Conversation{}, apperr.New(apperr.CodeInvalidInput, "phone is required")
	}
	var res gjson.Result
	if err := c.Post(ctx, pathContacts, contactRequest{Phone: phone, Name: strings.TrimSpace(name)}, &res); err != nil {
		return chat.Conversation{}, err
	}
	conv, ok := chat.ParseConversation(res.Get("chat"))
	if !ok {
		return chat.Conversation{}, apperr.New(apperr.CodeUnknown, "contact response has no chat")
	}
	if conv.ContactAddress == "" {
		conv.ContactAddress = phone
	}
	return conv, nil
}
