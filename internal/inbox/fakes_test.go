package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/outbox"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeChats struct {
	mu    sync.Mutex
	chats []chat.Conversation
	calls int
	gate  chan struct{}
}

func (f *fakeChats) FetchChats(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	out := append([]chat.Conversation(nil), f.chats...)
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (f *fakeChats) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHistory struct {
	mu    sync.Mutex
	msgs  map[string][]chat.Message
	gates map[string]chan struct{}
	err   error
}

func (f *fakeHistory) FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	f.mu.Lock()
	gate := f.gates[chatID]
	out := append([]chat.Message(nil), f.msgs[chatID]...)
	err := f.err
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return out, err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []outbox.Outgoing
	fn   func(outbox.Outgoing) (outbox.Ack, error)
}

func (f *fakeSender) Send(_ context.Context, out outbox.Outgoing) (outbox.Ack, error) {
	f.mu.Lock()
	f.sent = append(f.sent, out)
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(out)
	}
	return outbox.Ack{CorrelationID: out.CorrelationID, MessageID: "srv-" + out.CorrelationID, ConversationID: out.ConversationID}, nil
}

func (f *fakeSender) outgoing() []outbox.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbox.Outgoing(nil), f.sent...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

type notifyCall struct {
	id      string
	title   string
	focused bool
}

func (f *fakeNotifier) MessageArrived(m chat.Message, title string, focused bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{m.ID, title, focused})
	return !focused
}

type fakeTracker struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeTracker) SetUnlinked(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

type harness struct {
	chats    *fakeChats
	history  *fakeHistory
	sender   *fakeSender
	notifier *fakeNotifier
	tracker  *fakeTracker
	list     *ChatList
	rec      *Reconciler
}

func newHarness(t *testing.T, convs ...chat.Conversation) *harness {
	t.Helper()
	h := &harness{
		chats:    &fakeChats{chats: convs},
		history:  &fakeHistory{msgs: map[string][]chat.Message{}, gates: map[string]chan struct{}{}},
		sender:   &fakeSender{},
		notifier: &fakeNotifier{},
		tracker:  &fakeTracker{},
	}
	h.list = NewChatList(h.chats, nil, nil)
	if err := h.list.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.rec = NewReconciler(h.history, h.sender, h.list, nil, Options{
		Notifier: h.notifier,
		Tracker:  h.tracker,
		Now:      func() time.Time { return t0.Add(time.Hour) },
	})
	t.Cleanup(h.list.Wait)
	return h
}

func js(s string) gjson.Result { return gjson.Parse(s) }

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
