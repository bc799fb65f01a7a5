package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
)

// PairView displays the WhatsApp pairing QR code.
type PairView struct {
	*tview.TextView
	theme *ui.Theme
	last  string
}

// NewPairView creates a new pairing view.
func NewPairView(theme *ui.Theme) *PairView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Link WhatsApp ")
	tv.SetTitleColor(theme.TitleColor)

	return &PairView{TextView: tv, theme: theme}
}

// ShowQR renders a pairing code. Redrawing the same code is a no-op.
func (pv *PairView) ShowQR(content string) {
	if content == pv.last {
		return
	}
	pv.last = content
	pv.Clear()
	_, _ = fmt.Fprintf(pv, "\n  Scan this QR code with WhatsApp:\n\n%s\n  [::d]Waiting for the phone to link... (Esc to go back)", renderQR(content))
}

// ShowMessage displays a status message.
func (pv *PairView) ShowMessage(msg string) {
	pv.last = ""
	pv.Clear()
	_, _ = fmt.Fprintf(pv, "\n\n%s", tview.Escape(msg))
}

// renderQR converts a string to a compact QR code using Unicode
// half-block characters, two modules per cell.
func renderQR(content string) string {
	if strings.HasPrefix(content, "data:image/") {
		return "  (the server sent the code as an image; open the dashboard to scan it)"
	}
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
