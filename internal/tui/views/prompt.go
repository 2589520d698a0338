package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/casechat/internal/tui/ui"
)

// Prompt is the ":" command line.
type Prompt struct {
	*tview.InputField
	onSubmit func(line string)
	onCancel func()
}

// NewPrompt creates a command prompt.
func NewPrompt(theme *ui.Theme) *Prompt {
	input := tview.NewInputField().
		SetLabel(" : ").
		SetFieldWidth(0).
		SetLabelColor(theme.KeyColor)

	p := &Prompt{InputField: input}
	input.SetDoneFunc(func(key tcell.Key) {
		line := p.GetText()
		p.SetText("")
		switch {
		case key == tcell.KeyEnter && line != "" && p.onSubmit != nil:
			p.onSubmit(line)
		case p.onCancel != nil:
			p.onCancel()
		}
	})
	return p
}

// SetOnSubmit sets the callback for an entered command line.
func (p *Prompt) SetOnSubmit(fn func(line string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt closes without a command.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}
