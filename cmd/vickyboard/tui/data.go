package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// waitForChange blocks until the session reports a change. It must be re-armed after
// every SessionChangedMsg.
func waitForChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return SessionChangedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// sync copies the session state into the bubbles models.
func (m *Model) sync() tea.Cmd {
	s := m.Session

	tasks := s.Tasks.Tasks()
	items := make([]list.Item, len(tasks))
	cursor := -1
	for i, t := range tasks {
		items[i] = TaskItem{Task: t}
		if t.ID == m.SelectedTaskID {
			cursor = i
		}
	}
	cmd := m.TaskList.SetItems(items)
	switch {
	case cursor >= 0:
		m.TaskList.Select(cursor)
	case len(items) > 0:
		m.TaskList.Select(0)
		m.selectCurrent()
	}

	m.Pager.SetTotalPages(max(s.Pages(), 1))
	m.Pager.Page = min(s.Page()-1, m.Pager.TotalPages-1)

	s.Picker.SetGroups(s.Groups.List())
	m.syncLogs()
	return cmd
}

// syncLogs refreshes the log pane, sticking to the bottom unless the user scrolled up.
func (m *Model) syncLogs() {
	lines := m.Session.Logs.Lines()
	seen := len(lines) + m.Session.Logs.Dropped()
	if seen == m.logLines && m.logLines > 0 {
		return
	}
	follow := m.logLines == 0 || m.LogView.AtBottom()
	m.logLines = seen

	if len(lines) == 0 {
		m.LogView.SetContent(StyleDimmed.Render(m.logPlaceholder()))
		return
	}
	m.LogView.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.LogView.GotoBottom()
	}
}

func (m *Model) logPlaceholder() string {
	if m.SelectedTaskID == "" {
		return "No task selected."
	}
	return "Waiting for logs..."
}

// selectCurrent follows the task under the cursor when it changed.
func (m *Model) selectCurrent() {
	it, ok := m.SelectedTask()
	if !ok || it.Task.ID == m.SelectedTaskID {
		return
	}
	m.SelectedTaskID = it.Task.ID
	m.StatusLine = ""
	m.logLines = 0
	m.LogView.SetContent(StyleDimmed.Render(m.logPlaceholder()))
	m.Session.Select(it.Task.ID)
}
