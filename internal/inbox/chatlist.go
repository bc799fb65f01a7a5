package inbox

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/bus"
	"github.com/Xfuse1/whatsapp-crm/internal/chat"
)

const refreshTimeout = 30 * time.Second

// ChatFetcher loads the conversation list.
type ChatFetcher interface {
	FetchChats(ctx context.Context) ([]chat.Conversation, error)
}

// ChatList is the client's view of the conversation list.
type ChatList struct {
	gw     ChatFetcher
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	chats      []chat.Conversation
	selected   string
	loaded     bool
	refreshing bool
	rerun      bool

	wg sync.WaitGroup
}

// NewChatList creates an empty list. b and logger may be nil.
func NewChatList(gw ChatFetcher, b *bus.Bus, logger *zap.Logger) *ChatList {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatList{gw: gw, bus: b, logger: logger.Named("chats")}
}

// Load replaces the list with a fresh fetch ordered by last activity.
func (l *ChatList) Load(ctx context.Context) error {
	chats, err := l.gw.FetchChats(ctx)
	if err != nil {
		l.logger.Warn("failed to load chats", zap.Error(err))
		return err
	}
	slices.SortStableFunc(chats, func(a, b chat.Conversation) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})

	l.mu.Lock()
	for i := range chats {
		if chats[i].ID == l.selected {
			chats[i].UnreadCount = 0
		}
	}
	l.chats = chats
	l.loaded = true
	l.mu.Unlock()

	l.logger.Debug("chats loaded", zap.Int("count", len(chats)))
	l.publish(bus.KindChatListLoaded, map[string]int{"count": len(chats)})
	return nil
}

// Refresh reloads the list. Concurrent calls collapse: a refresh requested
// while one is in flight runs once more when it finishes.
func (l *ChatList) Refresh(ctx context.Context) error {
	l.mu.Lock()
	if l.refreshing {
		l.rerun = true
		l.mu.Unlock()
		return nil
	}
	l.refreshing = true
	l.mu.Unlock()

	for {
		err := l.Load(ctx)

		l.mu.Lock()
		if !l.rerun || err != nil {
			l.refreshing, l.rerun = false, false
			l.mu.Unlock()
			return err
		}
		l.rerun = false
		l.mu.Unlock()
	}
}

// RequestRefresh refreshes in the background.
func (l *ChatList) RequestRefresh() {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		_ = l.Refresh(ctx)
	}()
}

// Wait blocks until background refreshes have finished.
func (l *ChatList) Wait() {
	l.wg.Wait()
}

// Select marks id as the open conversation and clears its unread count.
func (l *ChatList) Select(id string) {
	l.mu.Lock()
	l.selected = id
	i := l.index(id)
	if i >= 0 {
		l.chats[i].UnreadCount = 0
	}
	l.mu.Unlock()
	if i >= 0 {
		l.publish(bus.KindChatUpdated, map[string]string{"chat_id": id})
	}
}

// Deselect clears the selection so the last opened conversation counts
// unread messages again.
func (l *ChatList) Deselect() {
	l.mu.Lock()
	l.selected = ""
	l.mu.Unlock()
}

// Selected returns the open conversation id.
func (l *ChatList) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// Get returns the conversation with the given id.
func (l *ChatList) Get(id string) (chat.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.index(id); i >= 0 {
		return l.chats[i], true
	}
	return chat.Conversation{}, false
}

// Touch records activity on a known conversation: it moves to the front,
// its last activity advances to at, and unread is incremented when
// countUnread is set and the conversation is not selected. It reports
// whether the conversation was known.
func (l *ChatList) Touch(id string, at time.Time, countUnread bool) bool {
	l.mu.Lock()
	i := l.index(id)
	if i < 0 {
		l.mu.Unlock()
		return false
	}
	c := l.chats[i]
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	if countUnread && id != l.selected {
		c.UnreadCount++
	}
	l.chats = slices.Insert(slices.Delete(l.chats, i, i+1), 0, c)
	l.mu.Unlock()

	l.publish(bus.KindChatUpdated, map[string]string{"chat_id": id})
	return true
}

// Upsert inserts or replaces c at the front of the list.
func (l *ChatList) Upsert(c chat.Conversation) {
	l.mu.Lock()
	if i := l.index(c.ID); i >= 0 {
		l.chats = slices.Delete(l.chats, i, i+1)
	}
	if c.ID == l.selected {
		c.UnreadCount = 0
	}
	l.chats = slices.Insert(l.chats, 0, c)
	l.mu.Unlock()

	l.publish(bus.KindChatUpdated, map[string]string{"chat_id": c.ID})
}

// Snapshot returns a copy of the list.
func (l *ChatList) Snapshot() []chat.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.chats)
}

// Loaded reports whether a load has succeeded.
func (l *ChatList) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Filter returns the conversations whose title or contact contains query,
// ignoring case.
func (l *ChatList) Filter(query string) []chat.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	all := l.Snapshot()
	if q == "" {
		return all
	}
	var out []chat.Conversation
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.DisplayTitle()), q) || strings.Contains(strings.ToLower(c.ContactAddress), q) {
			out = append(out, c)
		}
	}
	return out
}

// TotalUnread sums unread counts.
func (l *ChatList) TotalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.chats {
		n += c.UnreadCount
	}
	return n
}

func (l *ChatList) index(id string) int {
	return slices.IndexFunc(l.chats, func(c chat.Conversation) bool { return c.ID == id })
}

func (l *ChatList) publish(kind string, payload any) {
	if l.bus != nil {
		l.bus.Emit(kind, payload)
	}
}
