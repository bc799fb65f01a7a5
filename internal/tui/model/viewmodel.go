package model

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/bus"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/status"
)

const flashTTL = 5 * time.Second

// Inbox is the open conversation.
type Inbox interface {
	Select(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, text string) (chat.Message, error)
	Retry(ctx context.Context, messageID string) (chat.Message, error)
	LastFailed() (string, bool)
	Messages() []chat.Message
	Active() string
	Loading() bool
}

// Chats is the conversation list.
type Chats interface {
	Refresh(ctx context.Context) error
	Filter(query string) []chat.Conversation
	Get(id string) (chat.Conversation, bool)
	Upsert(c chat.Conversation)
	Deselect()
	TotalUnread() int
}

// Contacts creates conversations for new numbers.
type Contacts interface {
	CreateContact(ctx context.Context, phone, name string) (chat.Conversation, error)
}

// Link is the connection state.
type Link interface {
	Snapshot() status.Snapshot
	Banner() string
}

// Controls are the user-triggered connection actions.
type Controls struct {
	StartPairing func()
	StopPairing  func()
	Reconnect    func()
	Logout       func() error
}

// Deps are the components a ViewModel drives.
type Deps struct {
	Inbox    Inbox
	Chats    Chats
	Contacts Contacts
	Link     Link
	Bus      *bus.Bus
	Controls Controls
}

// ViewModel adapts the client state for rendering and turns user actions
// into calls, reporting failures as flash messages.
type ViewModel struct {
	d     Deps
	Flash Flash

	mu     sync.RWMutex
	filter string

	refreshCh chan struct{}
	unsub     func()
}

// NewViewModel creates a view model. Bus events signal RefreshCh.
func NewViewModel(d Deps) *ViewModel {
	vm := &ViewModel{d: d, refreshCh: make(chan struct{}, 1)}
	if d.Bus != nil {
		ch, unsub := d.Bus.Subscribe("", 64)
		vm.unsub = unsub
		go func() {
			for range ch {
				vm.signalRefresh()
			}
		}()
	}
	return vm
}

// Close stops listening to the bus.
func (vm *ViewModel) Close() {
	if vm.unsub != nil {
		vm.unsub()
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

func (vm *ViewModel) fail(prefix string, err error) error {
	vm.Flash.SetLevel(FlashError, prefix+": "+apperr.UserMessage(err), flashTTL)
	vm.signalRefresh()
	return err
}

// SetFilter narrows the chat list by title.
func (vm *ViewModel) SetFilter(q string) {
	vm.mu.Lock()
	vm.filter = strings.TrimSpace(q)
	vm.mu.Unlock()
	vm.signalRefresh()
}

// Filter returns the active chat list filter.
func (vm *ViewModel) Filter() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.filter
}

// GetChats returns the filtered chat list.
func (vm *ViewModel) GetChats() []chat.Conversation {
	return vm.d.Chats.Filter(vm.Filter())
}

// GetMessages returns the open conversation's timeline.
func (vm *ViewModel) GetMessages() []chat.Message {
	return vm.d.Inbox.Messages()
}

// ActiveChat returns the open conversation.
func (vm *ViewModel) ActiveChat() (chat.Conversation, bool) {
	id := vm.d.Inbox.Active()
	if id == "" {
		return chat.Conversation{}, false
	}
	if c, ok := vm.d.Chats.Get(id); ok {
		return c, true
	}
	return chat.Conversation{ID: id}, true
}

// Loading reports whether the open conversation is still loading.
func (vm *ViewModel) Loading() bool {
	return vm.d.Inbox.Loading()
}

// Link returns the connection snapshot and banner.
func (vm *ViewModel) Link() (status.Snapshot, string) {
	return vm.d.Link.Snapshot(), vm.d.Link.Banner()
}

// TotalUnread sums unread counts across conversations.
func (vm *ViewModel) TotalUnread() int {
	return vm.d.Chats.TotalUnread()
}

// LoadChats refreshes the chat list.
func (vm *ViewModel) LoadChats(ctx context.Context) error {
	if err := vm.d.Chats.Refresh(ctx); err != nil {
		return vm.fail("Load chats failed", err)
	}
	return nil
}

// OpenChat selects a conversation and loads its history.
func (vm *ViewModel) OpenChat(ctx context.Context, id string) error {
	if err := vm.d.Inbox.Select(ctx, id); err != nil {
		return vm.fail("Load failed", err)
	}
	return nil
}

// LeaveChat is called when the conversation page is closed. The
// conversation stays loaded but counts unread messages again.
func (vm *ViewModel) LeaveChat() {
	vm.d.Chats.Deselect()
}

// SendText sends text to the open conversation.
func (vm *ViewModel) SendText(ctx context.Context, text string) error {
	if _, err := vm.d.Inbox.SendMessage(ctx, text); err != nil {
		if apperr.Is(err, apperr.CodeUpstreamUnlinked) {
			return vm.fail("Not sent", err)
		}
		return vm.fail("Send failed", err)
	}
	return nil
}

// RetryLast resends the newest failed message.
func (vm *ViewModel) RetryLast(ctx context.Context) error {
	id, ok := vm.d.Inbox.LastFailed()
	if !ok {
		vm.Flash.Set("No failed message to retry", flashTTL)
		vm.signalRefresh()
		return nil
	}
	if _, err := vm.d.Inbox.Retry(ctx, id); err != nil {
		return vm.fail("Retry failed", err)
	}
	return nil
}

// NewContact creates a conversation for phone and returns its id.
func (vm *ViewModel) NewContact(ctx context.Context, phone, name string) (string, error) {
	if vm.d.Contacts == nil {
		return "", nil
	}
	c, err := vm.d.Contacts.CreateContact(ctx, phone, name)
	if err != nil {
		return "", vm.fail("Create contact failed", err)
	}
	vm.d.Chats.Upsert(c)
	vm.Flash.Set("Contact added: "+c.DisplayTitle(), flashTTL)
	return c.ID, nil
}

// StartPairing begins polling for a QR code.
func (vm *ViewModel) StartPairing() {
	if f := vm.d.Controls.StartPairing; f != nil {
		f()
	}
}

// StopPairing stops QR polling.
func (vm *ViewModel) StopPairing() {
	if f := vm.d.Controls.StopPairing; f != nil {
		f()
	}
}

// Reconnect restarts the event stream.
func (vm *ViewModel) Reconnect() {
	if f := vm.d.Controls.Reconnect; f != nil {
		f()
		vm.Flash.Set("Reconnecting...", flashTTL)
		vm.signalRefresh()
	}
}

// Logout signs out.
func (vm *ViewModel) Logout() error {
	if f := vm.d.Controls.Logout; f != nil {
		if err := f(); err != nil {
			return vm.fail("Logout failed", err)
		}
	}
	return nil
}
