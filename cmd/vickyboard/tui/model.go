package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/paginator"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/tuanbt/vickyboard/internal/dashboard"
)

type ViewMode int

const (
	ModeSelection ViewMode = iota
	ModeGroupSearch
)

type FocusArea int

const (
	FocusList FocusArea = iota
	FocusLogs
)

// Model is the bubbletea model of the dashboard. All server state lives in the session;
// the model only keeps what is needed to draw it.
type Model struct {
	Session *dashboard.Session
	Keys    KeyMap

	// Models
	TaskList list.Model
	LogView  viewport.Model
	Input    textinput.Model
	Pager    paginator.Model
	Spinner  spinner.Model
	Help     help.Model

	// State
	SelectedTaskID string
	GroupIdx       int
	StatusLine     string
	Width          int
	Height         int
	Ready          bool
	FocusArea      FocusArea
	Mode           ViewMode
	ShowModal      bool
	ShowLocks      bool
	LockIdx        int
	ConfirmUnlock  bool
	Quitting       bool

	ctx      context.Context
	logLines int // lines delivered so far, including dropped ones
}

// New creates the model for s. ctx bounds the confirm and cancel requests.
func New(ctx context.Context, s *dashboard.Session) Model {
	l := list.New([]list.Item{}, TaskDelegate{}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)

	ti := textinput.New()
	ti.Placeholder = "Search groups..."
	ti.Prompt = "" // Handled by View
	ti.Width = 40
	ti.Blur()

	pager := paginator.New()
	pager.Type = paginator.Dots
	pager.ActiveDot = StyleInputPrefix.Render("•")
	pager.InactiveDot = StyleDimmed.Render("•")

	return Model{
		Session:   s,
		Keys:      DefaultKeyMap(),
		TaskList:  l,
		LogView:   viewport.New(0, 0),
		Input:     ti,
		Pager:     pager,
		Spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(StyleInputPrefix)),
		Help:      help.New(),
		GroupIdx:  -1,
		FocusArea: FocusList,
		ctx:       ctx,
	}
}

// SelectedTask returns the task under the list cursor, if any.
func (m Model) SelectedTask() (TaskItem, bool) {
	it, ok := m.TaskList.SelectedItem().(TaskItem)
	return it, ok
}
