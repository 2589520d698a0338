package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/tui/ui"
)

// MessageView displays the messages of the focused case, oldest first,
// followed by a typing line.
type MessageView struct {
	*tview.TextView
	theme  *ui.Theme
	userID string
}

// NewMessageView creates a message view for userID.
func NewMessageView(theme *ui.Theme, userID string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(" Messages ").
		SetTitleColor(theme.TitleColor)

	return &MessageView{TextView: tv, theme: theme, userID: userID}
}

// SetCaseTitle updates the border title.
func (mv *MessageView) SetCaseTitle(title string) {
	mv.SetTitle(fmt.Sprintf(" %s ", sanitizeForTerminal(title)))
}

// Update redraws msgs and the typers line.
func (mv *MessageView) Update(msgs []protocol.Message, typers []string) {
	mv.Clear()
	_, _ = fmt.Fprint(mv, Render(mv.theme, mv.userID, msgs, typers))
	mv.ScrollToEnd()
}

// Render formats msgs and typers as tview-tagged text.
func Render(theme *ui.Theme, userID string, msgs []protocol.Message, typers []string) string {
	var b strings.Builder
	for _, m := range msgs {
		sender := m.SenderID
		color := theme.PeerColor
		if m.SenderID == userID {
			sender = "You"
			color = theme.SelfColor
		}
		if m.SenderRole != "" {
			sender += " (" + string(m.SenderRole) + ")"
		}

		fmt.Fprintf(&b, "%s[::b]%s[-:-:-] [::d]%s[-:-:-]\n", ui.Tag(color), tview.Escape(sender), formatTimestamp(m.CreatedAt))
		fmt.Fprintf(&b, "%s\n", tview.Escape(sanitizeForTerminal(m.Body)))
		if m.AttachmentRef != "" {
			fmt.Fprintf(&b, "[::d]attachment: %s[-:-:-]\n", tview.Escape(m.AttachmentRef))
		}
		if m.SenderID == userID && len(m.ReadBy) > 0 {
			fmt.Fprintf(&b, "[::d]read by %s[-:-:-]\n", tview.Escape(strings.Join(m.ReadBy, ", ")))
		}
		b.WriteString("\n")
	}
	if line := typingLine(typers); line != "" {
		fmt.Fprintf(&b, "%s[::i]%s[-:-:-]", ui.Tag(theme.TypingColor), tview.Escape(line))
	}
	return b.String()
}

func typingLine(typers []string) string {
	switch len(typers) {
	case 0:
		return ""
	case 1:
		return typers[0] + " is typing..."
	default:
		return strings.Join(typers, ", ") + " are typing..."
	}
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms)
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02 15:04")
}
