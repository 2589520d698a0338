package ui

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestTag(t *testing.T) {
	if got := Tag(tcell.ColorDodgerBlue); got != "[#1e90ff]" {
		t.Errorf("Tag() = %q, want [#1e90ff]", got)
	}
	if got := Tag(tcell.NewRGBColor(0, 0, 1)); got != "[#000001]" {
		t.Errorf("Tag() = %q, want zero padded", got)
	}
}
