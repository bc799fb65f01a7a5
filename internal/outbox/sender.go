package outbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/bus"
	"github.com/Xfuse1/whatsapp-crm/internal/gateway"
)

// Gateway is the subset of the REST gateway used to send.
type Gateway interface {
	SendMessage(ctx context.Context, req gateway.SendRequest) (gateway.SendResult, error)
}

// Outgoing is a message to deliver.
type Outgoing struct {
	ConversationID string
	To             string
	Body           string
	CorrelationID  string
}

// Ack is the server's acceptance of an Outgoing message.
type Ack struct {
	CorrelationID  string
	MessageID      string
	ConversationID string
}

// Sender posts messages through the gateway and announces the outcome on
// the bus.
type Sender struct {
	gw     Gateway
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSender creates a sender. b may be nil.
func NewSender(gw Gateway, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{gw: gw, bus: b, logger: logger}
}

// Send delivers out. It is not retried: a failed send is surfaced to the
// caller, who may retry explicitly.
func (s *Sender) Send(ctx context.Context, out Outgoing) (Ack, error) {
	res, err := s.gw.SendMessage(ctx, gateway.SendRequest{
		To:      out.To,
		Message: out.Body,
		TempID:  out.CorrelationID,
	})
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeUnknown:
			err = apperr.Wrap(err, apperr.CodeSendFailed, "send message").
				WithUserMessage("Message not sent. Please try again.")
		case apperr.CodeHTTP:
			err = apperr.Wrap(err, apperr.CodeSendFailed, "send message").
				WithStatus(apperr.StatusOf(err)).
				WithUserMessage(apperr.UserMessage(err))
		}
		s.logger.Error("failed to send message",
			zap.String("correlation_id", out.CorrelationID),
			zap.String("chat_id", out.ConversationID),
			zap.String("code", string(apperr.CodeOf(err))),
			zap.Error(err),
		)
		s.publish(bus.KindMessageSendFailed, map[string]string{
			"correlation_id": out.CorrelationID,
			"chat_id":        out.ConversationID,
			"code":           string(apperr.CodeOf(err)),
			"error":          apperr.UserMessage(err),
		})
		return Ack{}, err
	}

	ack := Ack{CorrelationID: out.CorrelationID, MessageID: res.MessageID, ConversationID: res.ChatID}
	if ack.ConversationID == "" {
		ack.ConversationID = out.ConversationID
	}
	s.logger.Info("message sent",
		zap.String("correlation_id", ack.CorrelationID),
		zap.String("server_msg_id", ack.MessageID),
	)
	s.publish(bus.KindMessageSendAck, map[string]string{
		"correlation_id": ack.CorrelationID,
		"server_msg_id":  ack.MessageID,
		"chat_id":        ack.ConversationID,
	})
	return ack, nil
}

func (s *Sender) publish(kind string, payload map[string]string) {
	if s.bus != nil {
		s.bus.Emit(kind, payload)
	}
}
