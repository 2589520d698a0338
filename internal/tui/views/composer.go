package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for sending messages. Whitespace-only input
// is never sent.
type Composer struct {
	*tview.InputField
	onSend   func(text string)
	onType   func()
	onCancel func()
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetPlaceholder("type a message, Enter to send, Esc to leave").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetChangedFunc(func(text string) {
		if strings.TrimSpace(text) != "" && c.onType != nil {
			c.onType()
		}
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := strings.TrimSpace(c.GetText())
			if text == "" || c.onSend == nil {
				return
			}
			c.SetText("")
			c.onSend(text)
		case tcell.KeyEscape:
			if c.onCancel != nil {
				c.onCancel()
			}
		}
	})

	return c
}

// SetOnSend sets the callback when a message is submitted.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnType sets the callback for each edit that leaves text in the field.
func (c *Composer) SetOnType(fn func()) {
	c.onType = fn
}

// SetOnCancel sets the callback when the user leaves the composer.
func (c *Composer) SetOnCancel(fn func()) {
	c.onCancel = fn
}
