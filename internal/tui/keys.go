package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the player's key bindings. It implements help.KeyMap.
type keyMap struct {
	Continue key.Binding
	Option1  key.Binding
	Option2  key.Binding
	Option3  key.Binding
	Subs     key.Binding
	Explain  key.Binding
	Voice    key.Binding
	Replay   key.Binding
	Restart  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Continue: key.NewBinding(key.WithKeys(" ", "space", "enter"), key.WithHelp("space", "continue")),
		Option1:  key.NewBinding(key.WithKeys("1"), key.WithHelp("1-3", "choose")),
		Option2:  key.NewBinding(key.WithKeys("2")),
		Option3:  key.NewBinding(key.WithKeys("3")),
		Subs:     key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "subtitles")),
		Explain:  key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "explain")),
		Voice:    key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "voice")),
		Replay:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "replay")),
		Restart:  key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "restart")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Continue, k.Option1, k.Replay, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Continue, k.Option1, k.Replay, k.Restart},
		{k.Subs, k.Explain, k.Voice},
		{k.Help, k.Quit},
	}
}

