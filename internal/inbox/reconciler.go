// Package inbox keeps the open conversation and the chat list consistent
// with REST snapshots and stream events.
package inbox

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/bus"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/outbox"
)

// HistoryFetcher loads a conversation's messages.
type HistoryFetcher interface {
	FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error)
}

// Sender delivers outgoing messages.
type Sender interface {
	Send(ctx context.Context, out outbox.Outgoing) (outbox.Ack, error)
}

// Notifier shows notifications for inbound messages.
type Notifier interface {
	MessageArrived(m chat.Message, title string, focused bool) bool
}

// LinkTracker is told when a send proves the WhatsApp bridge is unlinked.
type LinkTracker interface {
	SetUnlinked(reason string)
}

// Options configures a Reconciler. Every field is optional.
type Options struct {
	Notifier Notifier
	Tracker  LinkTracker
	// Visible reports whether the open conversation is on screen.
	Visible func() bool
	Logger  *zap.Logger
	Now     func() time.Time
}

// Reconciler owns the message timeline of the open conversation.
type Reconciler struct {
	history HistoryFetcher
	sender  Sender
	chats   *ChatList
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger

	mu       sync.Mutex
	active   string
	messages timeline
	loadSeq  uint64
	loading  bool
	// replay holds stream updates for the active conversation received
	// while its history is loading; they are re-applied on the snapshot.
	replay []func()
	recent *recentIDs
}

// NewReconciler creates a reconciler with no open conversation.
func NewReconciler(history HistoryFetcher, sender Sender, chats *ChatList, b *bus.Bus, opts Options) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Visible == nil {
		opts.Visible = func() bool { return true }
	}
	return &Reconciler{
		history: history,
		sender:  sender,
		chats:   chats,
		bus:     b,
		opts:    opts,
		logger:  opts.Logger.Named("inbox"),
		recent:  newRecentIDs(512),
	}
}

// Active returns the open conversation id.
func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Loading reports whether a history load is in flight.
func (r *Reconciler) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// Messages returns a copy of the open conversation's timeline.
func (r *Reconciler) Messages() []chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages.clone()
}

// Counterpart returns the address messages are sent to.
func (r *Reconciler) Counterpart() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counterpartLocked()
}

func (r *Reconciler) counterpartLocked() string {
	if c, ok := r.chats.Get(r.active); ok && c.ContactAddress != "" {
		return c.ContactAddress
	}
	return r.messages.counterpart()
}

// LastFailed returns the newest failed message id, if any.
func (r *Reconciler) LastFailed() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Status == chat.StatusFailed {
			return r.messages[i].ID, true
		}
	}
	return "", false
}

// Select opens a conversation: its unread count is cleared immediately and
// its history is loaded.
func (r *Reconciler) Select(ctx context.Context, conversationID string) error {
	r.chats.Select(conversationID)
	return r.LoadHistory(ctx, conversationID)
}

// LoadHistory replaces the timeline with a REST snapshot. A response that
// arrives after another conversation was opened is dropped.
func (r *Reconciler) LoadHistory(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	r.loadSeq++
	seq := r.loadSeq
	if r.active != conversationID {
		r.active = conversationID
		r.messages = nil
	}
	r.loading = true
	r.replay = nil
	r.mu.Unlock()
	r.changed(conversationID)

	msgs, err := r.history.FetchMessages(ctx, conversationID)

	r.mu.Lock()
	if seq != r.loadSeq {
		r.mu.Unlock()
		r.logger.Debug("dropping stale history", zap.String("chat_id", conversationID))
		return nil
	}
	r.loading = false
	replay := r.replay
	r.replay = nil
	if err != nil {
		r.mu.Unlock()
		r.logger.Warn("failed to load history", zap.String("chat_id", conversationID), zap.Error(err))
		r.changed(conversationID)
		return err
	}

	next := newTimeline(msgs)
	for _, m := range r.messages {
		// Sends from this client that the snapshot does not know yet.
		if m.CorrelationID != "" && next.index(m.ID) < 0 {
			next = next.insert(m)
		}
	}
	r.messages = next
	for _, fn := range replay {
		fn()
	}
	n := len(r.messages)
	r.mu.Unlock()

	r.logger.Info("history loaded", zap.String("chat_id", conversationID), zap.Int("messages", n), zap.Int("replayed", len(replay)))
	r.changed(conversationID)
	return nil
}

// SendMessage sends text to the open conversation's counterpart. A
// provisional pending entry is shown until the gateway answers.
func (r *Reconciler) SendMessage(ctx context.Context, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, apperr.New(apperr.CodeInvalidInput, "empty message")
	}
	r.mu.Lock()
	if r.active == "" {
		r.mu.Unlock()
		return chat.Message{}, apperr.New(apperr.CodeInvalidInput, "no conversation selected").
			WithUserMessage("Select a conversation first")
	}
	to := r.counterpartLocked()
	r.mu.Unlock()
	return r.send(ctx, text, to)
}

// Retry resends a failed message. The failed entry is replaced by a new
// pending one.
func (r *Reconciler) Retry(ctx context.Context, messageID string) (chat.Message, error) {
	r.mu.Lock()
	i := r.messages.index(messageID)
	if i < 0 {
		r.mu.Unlock()
		return chat.Message{}, apperr.New(apperr.CodeInvalidInput, "message not found")
	}
	failed := r.messages[i]
	if failed.Status != chat.StatusFailed {
		r.mu.Unlock()
		return chat.Message{}, apperr.New(apperr.CodeInvalidInput, "only failed messages can be retried")
	}
	to := failed.RecipientAddress
	if to == "" {
		to = r.counterpartLocked()
	}
	if to == "" {
		r.mu.Unlock()
		return chat.Message{}, recipientError()
	}
	r.messages = r.messages.remove(i)
	r.mu.Unlock()

	r.logger.Info("retrying message", zap.String("msg_id", messageID))
	return r.send(ctx, failed.Body, to)
}

func recipientError() error {
	return apperr.New(apperr.CodeRecipientUnresolvable, "cannot determine recipient")
}

func (r *Reconciler) send(ctx context.Context, text, to string) (chat.Message, error) {
	if to == "" {
		return chat.Message{}, recipientError()
	}

	corr := uuid.NewString()
	r.mu.Lock()
	conv := r.active
	prov := chat.Message{
		ID:               chat.ProvisionalPrefix + corr,
		CorrelationID:    corr,
		ConversationID:   conv,
		Direction:        chat.DirectionOut,
		Body:             text,
		CreatedAt:        r.opts.Now().UTC(),
		RecipientAddress: to,
		Status:           chat.StatusPending,
	}
	r.messages = r.messages.insert(prov)
	r.mu.Unlock()
	r.changed(conv)

	ack, err := r.sender.Send(ctx, outbox.Outgoing{ConversationID: conv, To: to, Body: text, CorrelationID: corr})

	r.mu.Lock()
	result := prov
	if err != nil {
		result.Status = chat.StatusFailed
		if i := r.messages.index(prov.ID); i >= 0 && r.active == conv {
			r.messages[i].Status = chat.StatusFailed
		}
		r.mu.Unlock()
		if apperr.Is(err, apperr.CodeUpstreamUnlinked) && r.opts.Tracker != nil {
			r.opts.Tracker.SetUnlinked("send rejected: whatsapp not linked")
		}
		r.changed(conv)
		return result, err
	}

	result.Status = chat.StatusSent
	if ack.MessageID != "" {
		result.ID = ack.MessageID
	}
	if r.active == conv {
		i := r.messages.index(prov.ID)
		switch {
		case i >= 0 && result.ID != prov.ID && r.messages.index(result.ID) >= 0:
			// The stream confirmed first under the server id.
			r.messages = r.messages.remove(i)
		case i >= 0:
			m := r.messages[i]
			m.ID = result.ID
			m.Status = m.Status.Advance(chat.StatusSent)
			r.messages[i] = m
			result = m
		default:
			if j := r.messages.index(result.ID); j >= 0 {
				r.messages[j].Status = r.messages[j].Status.Advance(chat.StatusSent)
				result = r.messages[j]
			}
		}
	}
	r.mu.Unlock()

	r.chats.Touch(conv, prov.CreatedAt, false)
	r.changed(conv)
	return result, nil
}

// OnIncomingEvent applies a message:incoming payload.
func (r *Reconciler) OnIncomingEvent(data gjson.Result) {
	env, ok := chat.ParseEnvelope(data)
	if !ok || env.Message.ID == "" {
		r.logger.Warn("ignoring malformed incoming message", zap.String("payload", truncate(data.Raw)))
		return
	}
	m := env.Message
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.opts.Now().UTC()
	}

	r.mu.Lock()
	fresh := r.recent.add(m.ID)
	active := m.ConversationID != "" && m.ConversationID == r.active
	if active {
		fresh = r.apply(m) && fresh
		if r.loading {
			r.replay = append(r.replay, func() { r.apply(m) })
		}
	}
	r.mu.Unlock()

	if !fresh {
		r.logger.Debug("duplicate incoming message", zap.String("msg_id", m.ID))
		if active {
			r.changed(m.ConversationID)
		}
		return
	}

	focused := active && r.opts.Visible()
	known := r.chats.Touch(m.ConversationID, m.CreatedAt, !focused && m.Direction == chat.DirectionIn)
	if !known {
		r.logger.Info("message for unknown chat, refreshing list", zap.String("chat_id", m.ConversationID))
		r.chats.RequestRefresh()
	}
	if active {
		r.changed(m.ConversationID)
	}

	if m.Direction == chat.DirectionIn {
		r.publish(bus.KindMessageArrived, m)
		if r.opts.Notifier != nil {
			title := env.ContactName
			if c, ok := r.chats.Get(m.ConversationID); ok {
				title = c.DisplayTitle()
			}
			r.opts.Notifier.MessageArrived(m, title, focused)
		}
	}
}

// apply merges m into the timeline and reports whether m was not already
// present under its id. Callers hold r.mu.
func (r *Reconciler) apply(m chat.Message) bool {
	if i := r.messages.index(m.ID); i >= 0 {
		r.messages[i].Status = r.messages[i].Status.Advance(m.Status)
		return false
	}
	if i := r.messages.provisional(m.CorrelationID, m.Body, m.Direction); i >= 0 {
		r.messages = r.messages.replace(i, confirm(r.messages[i], m))
		return true
	}
	r.messages = r.messages.insert(m)
	return true
}

// confirm turns provisional entry p into the server's version m.
func confirm(p, m chat.Message) chat.Message {
	p.ID = m.ID
	p.Status = p.Status.Advance(m.Status)
	if p.Status == chat.StatusPending {
		p.Status = chat.StatusSent
	}
	if !m.CreatedAt.IsZero() {
		p.CreatedAt = m.CreatedAt
	}
	if m.RecipientAddress != "" {
		p.RecipientAddress = m.RecipientAddress
	}
	return p
}

// OnSentConfirmation applies a message:sent payload. Only provisional
// outbound entries are replaced; anything else is a no-op.
func (r *Reconciler) OnSentConfirmation(data gjson.Result) {
	env, ok := chat.ParseEnvelope(data)
	if !ok || env.Message.ID == "" {
		r.logger.Warn("ignoring malformed sent confirmation", zap.String("payload", truncate(data.Raw)))
		return
	}
	m := env.Message
	m.Direction = chat.DirectionOut

	r.mu.Lock()
	applied := false
	if m.ConversationID == r.active {
		applied = r.confirmSent(m)
		if r.loading {
			r.replay = append(r.replay, func() { r.confirmSent(m) })
		}
	}
	r.mu.Unlock()

	r.chats.Touch(m.ConversationID, m.CreatedAt, false)
	if applied {
		r.changed(m.ConversationID)
	}
}

func (r *Reconciler) confirmSent(m chat.Message) bool {
	if i := r.messages.index(m.ID); i >= 0 {
		next := r.messages[i].Status.Advance(m.Status)
		if next == chat.StatusPending || next == chat.StatusNone {
			next = chat.StatusSent
		}
		r.messages[i].Status = next
		return true
	}
	i := r.messages.provisional(m.CorrelationID, m.Body, chat.DirectionOut)
	if i < 0 {
		return false
	}
	r.messages = r.messages.replace(i, confirm(r.messages[i], m))
	return true
}

// OnStatusUpdate applies a message:status payload. Unknown ids are ignored.
func (r *Reconciler) OnStatusUpdate(data gjson.Result) {
	u, ok := chat.ParseStatusUpdate(data)
	if !ok {
		r.logger.Debug("ignoring status update", zap.String("payload", truncate(data.Raw)))
		return
	}

	r.mu.Lock()
	conv := r.active
	changed := r.setStatus(u)
	if r.loading && (u.ConversationID == "" || u.ConversationID == conv) {
		r.replay = append(r.replay, func() { r.setStatus(u) })
	}
	r.mu.Unlock()

	if changed {
		r.changed(conv)
	}
}

func (r *Reconciler) setStatus(u chat.StatusUpdate) bool {
	i := r.messages.index(u.MessageID)
	if i < 0 {
		return false
	}
	next := r.messages[i].Status.Advance(u.Status)
	if next == r.messages[i].Status {
		return false
	}
	r.messages[i].Status = next
	return true
}

func (r *Reconciler) changed(conversationID string) {
	r.publish(bus.KindMessageUpdated, map[string]string{"chat_id": conversationID})
}

func (r *Reconciler) publish(kind string, payload any) {
	if r.bus != nil {
		r.bus.Emit(kind, payload)
	}
}

func truncate(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200]
}
