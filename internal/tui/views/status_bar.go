package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/casechat/internal/tui/ui"
)

// StatusBar displays the instance, user, connection state and flash.
type StatusBar struct {
	*tview.TextView
	theme     *ui.Theme
	instance  string
	user      string
	connected bool
	pending   int
	hints     []string
	flash     string
	flashErr  bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.StatusBgColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetIdentity updates the instance and user display.
func (sb *StatusBar) SetIdentity(instance, user string) {
	sb.instance = instance
	sb.user = user
	sb.render()
}

// SetConnection updates the connection indicator and the offline queue size.
func (sb *StatusBar) SetConnection(connected bool, pending int) {
	sb.connected = connected
	sb.pending = pending
	sb.render()
}

// SetHints updates the key hints for the current page.
func (sb *StatusBar) SetHints(hints []string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.flashErr = isErr
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	conn := ui.Tag(sb.theme.OnlineColor) + "online[-]"
	if !sb.connected {
		conn = ui.Tag(sb.theme.OfflineColor) + "offline[-]"
		if sb.pending > 0 {
			conn += fmt.Sprintf(" (%d queued)", sb.pending)
		}
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] %s | %s | %s", tview.Escape(sb.instance), tview.Escape(sb.user), conn, now.Format("15:04"))
	if len(sb.hints) > 0 {
		line += " | " + ui.Tag(sb.theme.KeyColor) + tview.Escape(strings.Join(sb.hints, " ")) + "[-]"
	}
	if sb.flash != "" {
		color := sb.theme.FlashInfoColor
		if sb.flashErr {
			color = sb.theme.FlashErrColor
		}
		line += " | " + ui.Tag(color) + tview.Escape(sb.flash) + "[-]"
	}
	return line
}
