package views

import (
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/Xfuse1/whatsapp-crm/internal/chat"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
)

// formatTimestamp shows the time for today and the date otherwise.
func formatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

// statusMark renders the delivery status of an outbound message.
func statusMark(s chat.DeliveryStatus, theme *ui.Theme) string {
	switch s {
	case chat.StatusPending:
		return "[::d]…[-:-:-]"
	case chat.StatusSent:
		return "✓"
	case chat.StatusDelivered:
		return "✓✓"
	case chat.StatusRead:
		return "[" + ui.Tag(theme.ReadColor) + "]✓✓[-]"
	case chat.StatusFailed:
		return "[" + ui.Tag(theme.FlashErrColor) + "]! not sent, press r to retry[-]"
	}
	return ""
}

func tcellStyle(theme *ui.Theme) tcell.Style {
	return tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg)
}
