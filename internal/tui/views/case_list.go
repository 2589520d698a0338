package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/tui/ui"
)

// CaseList is the table of the user's cases.
type CaseList struct {
	*tview.Table
	theme *ui.Theme
	cases []protocol.CaseSummary
}

// NewCaseList creates an empty case table.
func NewCaseList(theme *ui.Theme) *CaseList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0).
		SetBorders(false)
	table.SetBorder(true).
		SetBorderColor(theme.BorderColor).
		SetTitle(" Cases ").
		SetTitleColor(theme.TitleColor)

	return &CaseList{Table: table, theme: theme}
}

// Update redraws the table, keeping the selection on the same case when it
// is still listed.
func (cl *CaseList) Update(cases []protocol.CaseSummary) {
	selected := cl.SelectedCase()
	cl.cases = cases
	cl.Clear()

	for col, h := range []string{" Case", " Title", " Counterparty", " Status", " Unread"} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.HeaderColor).
			SetAttributes(tcell.AttrBold))
	}

	row := 1
	for i, c := range cases {
		number := c.CaseNumber
		if number == "" {
			number = fmt.Sprintf("#%d", c.ID)
		}
		unread := ""
		color := cl.theme.FgColor
		if c.Unread > 0 {
			unread = fmt.Sprintf("%d", c.Unread)
			color = cl.theme.UnreadColor
		}

		cl.SetCell(i+1, 0, tview.NewTableCell(" "+number).SetTextColor(color).SetMaxWidth(14))
		cl.SetCell(i+1, 1, tview.NewTableCell(" "+sanitizeForTerminal(c.Title)).SetTextColor(color).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(i+1, 2, tview.NewTableCell(" "+c.ClientID+" / "+c.LawyerID).SetTextColor(color).SetExpansion(1))
		cl.SetCell(i+1, 3, tview.NewTableCell(" "+c.Status).SetTextColor(color))
		cl.SetCell(i+1, 4, tview.NewTableCell(" "+unread).SetTextColor(color).SetAlign(tview.AlignRight))
		if c.ID == selected {
			row = i + 1
		}
	}
	if len(cases) > 0 {
		cl.Select(row, 0)
	}
}

// SelectedCase returns the id of the highlighted case, or 0.
func (cl *CaseList) SelectedCase() int64 {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.cases) {
		return cl.cases[idx].ID
	}
	return 0
}
