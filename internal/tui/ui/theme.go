// Package ui holds presentation constants shared by the views.
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor        tcell.Color
	FgColor        tcell.Color
	BorderColor    tcell.Color
	TitleColor     tcell.Color
	HeaderColor    tcell.Color
	KeyColor       tcell.Color
	UnreadColor    tcell.Color
	SelfColor      tcell.Color
	PeerColor      tcell.Color
	TypingColor    tcell.Color
	OnlineColor    tcell.Color
	OfflineColor   tcell.Color
	FlashInfoColor tcell.Color
	FlashErrColor  tcell.Color
	StatusBgColor  tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:        tcell.ColorBlack,
		FgColor:        tcell.ColorCadetBlue,
		BorderColor:    tcell.ColorDodgerBlue,
		TitleColor:     tcell.ColorFuchsia,
		HeaderColor:    tcell.ColorWhite,
		KeyColor:       tcell.ColorDodgerBlue,
		UnreadColor:    tcell.ColorOrange,
		SelfColor:      tcell.ColorAqua,
		PeerColor:      tcell.ColorPapayaWhip,
		TypingColor:    tcell.ColorGray,
		OnlineColor:    tcell.ColorGreen,
		OfflineColor:   tcell.ColorOrangeRed,
		FlashInfoColor: tcell.ColorNavajoWhite,
		FlashErrColor:  tcell.ColorOrangeRed,
		StatusBgColor:  tcell.ColorDarkSlateGray,
	}
}

// Tag returns the tview color tag for c, e.g. "[#1e90ff]".
func Tag(c tcell.Color) string {
	return fmt.Sprintf("[#%06x]", c.Hex())
}
