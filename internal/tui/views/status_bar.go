package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Xfuse1/whatsapp-crm/internal/status"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/model"
	"github.com/Xfuse1/whatsapp-crm/internal/tui/ui"
)

// StatusBar displays the profile, link state, banner and flash.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	snap    status.Snapshot
	banner  string
	flash   string
	level   model.FlashLevel
	hints   []string
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetLink updates the connection display.
func (sb *StatusBar) SetLink(snap status.Snapshot, banner string) {
	sb.snap = snap
	sb.banner = banner
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, level model.FlashLevel) {
	sb.flash = msg
	sb.level = level
	sb.render()
}

// SetHints sets the key hints shown when nothing else needs the space.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	parts := []string{fmt.Sprintf(" [::b]%s[-:-:-]", tview.Escape(sb.profile)), transportMark(sb.snap.Transport)}

	upstream := string(sb.snap.Upstream)
	if sb.snap.Upstream == status.UpstreamLinked && sb.snap.PhoneNumber != "" {
		upstream = sb.snap.PhoneNumber
	}
	parts = append(parts, tview.Escape(upstream))

	switch {
	case sb.flash != "":
		parts = append(parts, fmt.Sprintf("[%s]%s[-]", ui.Tag(sb.flashColor()), tview.Escape(sb.flash)))
	case sb.banner != "":
		parts = append(parts, fmt.Sprintf("[%s]%s[-]", ui.Tag(sb.theme.BannerColor), tview.Escape(sb.banner)))
	case len(sb.hints) > 0:
		parts = append(parts, "[::d]"+tview.Escape(strings.Join(sb.hints, " "))+"[-:-:-]")
	}
	return strings.Join(parts, " | ")
}

func (sb *StatusBar) flashColor() tcell.Color {
	switch sb.level {
	case model.FlashWarn:
		return sb.theme.FlashWarnColor
	case model.FlashError:
		return sb.theme.FlashErrColor
	}
	return sb.theme.FlashInfoColor
}

func transportMark(t status.Transport) string {
	switch t {
	case status.Authenticated, status.Connected:
		return "[green]live[-]"
	case status.Connecting, status.Reconnecting:
		return "[yellow]connecting[-]"
	}
	return "[red]offline[-]"
}
