package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Download    key.Binding
	DownloadAll key.Binding
	Fullscreen  key.Binding
	Resume      key.Binding
	NextTask    key.Binding
	PrevTask    key.Binding
	Quit        key.Binding
}

var keys = keyMap{
	Download:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "download")),
	DownloadAll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "download all")),
	Fullscreen:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "fullscreen")),
	Resume:      key.NewBinding(key.WithKeys("r", "G", "end"), key.WithHelp("r", "resume log stream")),
	NextTask:    key.NewBinding(key.WithKeys("n", "tab"), key.WithHelp("n", "next task")),
	PrevTask:    key.NewBinding(key.WithKeys("p", "shift+tab"), key.WithHelp("p", "prev task")),
	Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"), key.WithHelp("q", "quit")),
}
