package inbox

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/socket"
)

// EventSource delivers stream events.
type EventSource interface {
	On(event string, fn socket.Handler) *socket.Subscription
}

// Engine feeds message stream events into the reconciler.
type Engine struct {
	rec    *Reconciler
	logger *zap.Logger

	mu   sync.Mutex
	subs []*socket.Subscription
}

// NewEngine creates a new stream engine.
func NewEngine(rec *Reconciler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rec: rec, logger: logger.Named("engine")}
}

// Start subscribes to the message events of src.
func (e *Engine) Start(src EventSource) {
	subs := []*socket.Subscription{
		src.On(socket.EventMessageIncoming, func(ev socket.Event) { e.rec.OnIncomingEvent(ev.Data()) }),
		src.On(socket.EventMessageSent, func(ev socket.Event) { e.rec.OnSentConfirmation(ev.Data()) }),
		src.On(socket.EventMessageStatus, func(ev socket.Event) { e.rec.OnStatusUpdate(ev.Data()) }),
		src.On(socket.EventConnect, func(socket.Event) { e.resync() }),
	}
	e.mu.Lock()
	e.subs = append(e.subs, subs...)
	e.mu.Unlock()
	e.logger.Info("stream engine started")
}

// resync refetches the chat list after a (re)connect, since events may
// have been missed while the stream was down.
func (e *Engine) resync() {
	if e.rec.chats.Loaded() {
		e.rec.chats.RequestRefresh()
	}
}

// Stop releases every subscription.
func (e *Engine) Stop() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, s := range subs {
		s.Off()
	}
	e.logger.Info("stream engine stopped", zap.Int("subscriptions", len(subs)))
}
