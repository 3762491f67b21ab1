package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	tap    key.Binding
	entry  key.Binding
	submit key.Binding
	back   key.Binding
	quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		tap:    key.NewBinding(key.WithKeys(" ", "enter"), key.WithHelp("space", "tap")),
		entry:  key.NewBinding(key.WithKeys("/", "e"), key.WithHelp("/", "enter card")),
		submit: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "load")),
		back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.tap, k.entry, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.tap, k.entry},
		{k.submit, k.back, k.quit},
	}
}
