package inbox

import (
	"slices"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
)

// timeline is a conversation's messages sorted ascending by CreatedAt.
// Messages with equal timestamps keep their arrival order.
type timeline []chat.Message

func newTimeline(msgs []chat.Message) timeline {
	t := make(timeline, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		t = append(t, m)
	}
	slices.SortStableFunc(t, func(a, b chat.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return t
}

func (t timeline) index(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(t, func(m chat.Message) bool { return m.ID == id })
}

// provisional finds the entry a confirmation belongs to. A confirmation
// carrying a correlation id only matches that entry. Otherwise it takes an
// unconfirmed entry with the same body and direction: the oldest pending
// one, else the oldest acknowledged one whose ack carried no server id.
func (t timeline) provisional(correlationID, body string, dir chat.Direction) int {
	if correlationID != "" {
		return slices.IndexFunc(t, func(m chat.Message) bool {
			return m.IsProvisional() && m.CorrelationID == correlationID
		})
	}
	candidate := func(m chat.Message) bool {
		return m.IsProvisional() && m.Status != chat.StatusFailed && m.Body == body && m.Direction == dir
	}
	if i := slices.IndexFunc(t, func(m chat.Message) bool {
		return candidate(m) && m.Status == chat.StatusPending
	}); i >= 0 {
		return i
	}
	return slices.IndexFunc(t, candidate)
}

// insert places m after every entry that is not newer than it.
func (t timeline) insert(m chat.Message) timeline {
	i := len(t)
	for i > 0 && t[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	return slices.Insert(t, i, m)
}

func (t timeline) remove(i int) timeline {
	return slices.Delete(t, i, i+1)
}

// replace swaps entry i for m, moving it if its timestamp changed.
func (t timeline) replace(i int, m chat.Message) timeline {
	if t[i].CreatedAt.Equal(m.CreatedAt) {
		t[i] = m
		return t
	}
	return t.remove(i).insert(m)
}

// counterpart is the address of the newest message that names one.
func (t timeline) counterpart() string {
	for i := len(t) - 1; i >= 0; i-- {
		if a := t[i].Counterpart(); a != "" {
			return a
		}
	}
	return ""
}

func (t timeline) clone() []chat.Message {
	return slices.Clone([]chat.Message(t))
}

// recentIDs remembers the last few message ids seen on the stream so
// duplicates for background conversations are not counted twice.
type recentIDs struct {
	ring []string
	next int
	set  map[string]struct{}
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ring: make([]string, n), set: make(map[string]struct{}, n)}
}

// add records id and reports whether it was new.
func (r *recentIDs) add(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ring[r.next] = id
	r.next = (r.next + 1) % len(r.ring)
	r.set[id] = struct{}{}
	return true
}
