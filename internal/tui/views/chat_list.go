package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
)

// ChatList is the conversation table, most recent activity first.
type ChatList struct {
	*tview.Table
	theme *ui.Theme
	chats []chat.Conversation
	now   func() time.Time
}

// NewChatList creates a new chat list table.
func NewChatList(theme *ui.Theme) *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chats ")
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcellStyle(theme))

	return &ChatList{Table: table, theme: theme, now: time.Now}
}

// Update refreshes the table, keeping the selected conversation under the
// cursor when it is still listed.
func (cl *ChatList) Update(chats []chat.Conversation, filter string, unread int) {
	keep := cl.SelectedChat()
	cl.chats = chats
	cl.Clear()

	title := " Chats "
	if unread > 0 {
		title = fmt.Sprintf(" Chats (%d unread) ", unread)
	}
	if filter != "" {
		title += fmt.Sprintf("filter: %s ", tview.Escape(filter))
	}
	cl.SetTitle(title)

	header := func(col int, text string) {
		cl.SetCell(0, col, tview.NewTableCell(" "+text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg))
	}
	header(0, "Name")
	header(1, "Contact")
	header(2, "Time")

	selected := 1
	for i, c := range chats {
		row := i + 1
		name := tview.Escape(sanitizeForTerminal(c.DisplayTitle()))
		cell := tview.NewTableCell(" " + name).SetMaxWidth(30).SetExpansion(1)
		if c.UnreadCount > 0 {
			cell.SetText(fmt.Sprintf(" * %s (%d)", name, c.UnreadCount)).
				SetTextColor(cl.theme.UnreadColor)
		}
		cl.SetCell(row, 0, cell)
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(c.ContactAddress)).SetMaxWidth(24).SetExpansion(1))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastActivityAt, cl.now())).SetMaxWidth(12))
		if c.ID == keep {
			selected = row
		}
	}
	if len(chats) > 0 {
		cl.Select(selected, 0)
	}
}

// SelectedChat returns the id of the conversation under the cursor.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx].ID
	}
	return ""
}
