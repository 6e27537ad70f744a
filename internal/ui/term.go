// File: internal/ui/term.go
// Brief: Terminal detection for choosing between the pane and plain output.

package ui

import (
	"io"

	"golang.org/x/term"
)

type fdProvider interface {
	Fd() uintptr
}

// TerminalWidth returns the column count of w when it is a terminal.
func TerminalWidth(w io.Writer) (int, bool) {
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// IsTerminal reports whether w is attached to a terminal.
func IsTerminal(w io.Writer) bool {
	if v, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(v.Fd()))
	}
	return false
}

// fitLine truncates s so that s plus reserve columns fit on w's terminal.
// Non-terminal writers get s unchanged.
func fitLine(w io.Writer, s string, reserve int) string {
	cols, ok := TerminalWidth(w)
	if !ok {
		return s
	}
	return trimToWidth(s, cols-reserve)
}
