package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
)

// MessageThread displays messages and a composer for a single chat.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if strings.TrimSpace(text) != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// SetChatName updates the title.
func (mt *MessageThread) SetChatName(name string, loading bool) {
	title := fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name)))
	if loading {
		title += "[::d](loading)[-:-:-] "
	}
	mt.messages.SetTitle(title)
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders the timeline, oldest first.
func (mt *MessageThread) Update(msgs []chat.Message) {
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, renderMessages(msgs, mt.theme, mt.now()))
	mt.messages.ScrollToEnd()
}

func renderMessages(msgs []chat.Message, theme *ui.Theme, now time.Time) string {
	var b strings.Builder
	for _, m := range msgs {
		ts := formatTimestamp(m.CreatedAt, now)
		body := tview.Escape(sanitizeForTerminal(m.Body))
		switch m.Direction {
		case chat.DirectionSystem:
			fmt.Fprintf(&b, "[%s::i]%s %s[-:-:-]\n\n", ui.Tag(theme.SystemColor), ts, body)
		case chat.DirectionOut:
			fmt.Fprintf(&b, "[%s::b]You[-:-:-] [::d]%s[-:-:-] %s\n%s\n\n",
				ui.Tag(theme.OutgoingColor), ts, statusMark(m.Status, theme), body)
		default:
			sender := m.SenderAddress
			if sender == "" {
				sender = "Contact"
			}
			fmt.Fprintf(&b, "[::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
				tview.Escape(sanitizeForTerminal(sender)), ts, body)
		}
	}
	return b.String()
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
