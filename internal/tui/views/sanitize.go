// Package views holds the tview widgets of the case chat TUI.
package views

import "strings"

// sanitizeForTerminal drops emoji modifiers tcell renders at the wrong
// width: skin tones, zero width joiners and variation selectors. Control
// characters other than newline and tab go too, since message bodies come
// from other users.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF,
			r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F,
			r >= 0xE0100 && r <= 0xE01EF:
			return -1
		case r < 0x20 && r != '\n' && r != '\t', r == 0x7F:
			return -1
		}
		return r
	}, s)
}
