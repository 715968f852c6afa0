package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the dashboard key bindings. It implements help.KeyMap.
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Focus      key.Binding
	PrevFilter key.Binding
	NextFilter key.Binding
	FilterMenu key.Binding
	Group      key.Binding
	ClearGroup key.Binding
	PrevPage   key.Binding
	NextPage   key.Binding
	Confirm    key.Binding
	Cancel     key.Binding
	Refresh    key.Binding
	Locks      key.Binding
	Help       key.Binding
	Back       key.Binding
	Accept     key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("↓/j", "down"),
		),
		Focus: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "tasks/logs"),
		),
		PrevFilter: key.NewBinding(
			key.WithKeys("[", "shift+left"),
			key.WithHelp("[", "prev status"),
		),
		NextFilter: key.NewBinding(
			key.WithKeys("]", "shift+right"),
			key.WithHelp("]", "next status"),
		),
		FilterMenu: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "status menu"),
		),
		Group: key.NewBinding(
			key.WithKeys("g", "/"),
			key.WithHelp("g", "group"),
		),
		ClearGroup: key.NewBinding(
			key.WithKeys("G"),
			key.WithHelp("G", "all groups"),
		),
		PrevPage: key.NewBinding(
			key.WithKeys("p", "pgup"),
			key.WithHelp("p", "prev page"),
		),
		NextPage: key.NewBinding(
			key.WithKeys("n", "pgdown"),
			key.WithHelp("n", "next page"),
		),
		Confirm: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "confirm"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "cancel task"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Locks: key.NewBinding(
			key.WithKeys("L"),
			key.WithHelp("L", "poisoned locks"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Accept: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "select"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.PrevFilter, k.NextFilter, k.Group, k.NextPage, k.Confirm, k.Cancel, k.Help, k.Quit}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Focus, k.Refresh},
		{k.PrevFilter, k.NextFilter, k.FilterMenu, k.Group, k.ClearGroup},
		{k.PrevPage, k.NextPage, k.Confirm, k.Cancel, k.Locks},
		{k.Help, k.Back, k.Quit},
	}
}
