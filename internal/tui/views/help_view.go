package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/casechat/internal/tui/ui"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(" Help ").
		SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv, theme: theme}
	_, _ = fmt.Fprint(hv, hv.text())
	return hv
}

var helpSections = []struct {
	title string
	keys  [][2]string
}{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"?", "Help"},
		{"Esc", "Back to cases"},
		{"q", "Quit"},
		{"Ctrl-R", "Reload cases"},
	}},
	{"Cases", [][2]string{
		{"Enter", "Open case"},
		{"j/k", "Move down/up"},
	}},
	{"Conversation", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"Esc", "Leave composer"},
		{"r", "Mark read"},
	}},
	{"Commands", [][2]string{
		{":open <case id>", "Open a case"},
		{":direct <user> [title]", "Open or create a direct chat"},
		{":reload", "Reload cases"},
		{":quit", "Quit"},
	}},
}

func (hv *HelpView) text() string {
	kc := ui.Tag(hv.theme.KeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "  %s%-24s[-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	return b.String()
}
