package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tuanbt/vickyboard/internal/task"
)

const (
	actionConfirm = "confirm"
	actionCancel  = "cancel"
)

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.Session.Changes()),
		m.Spinner.Tick,
		tick(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Ready = true
		m.updateLayout()

	case SessionChangedMsg:
		cmds = append(cmds, m.sync(), waitForChange(m.Session.Changes()))

	case ActionDoneMsg:
		if msg.Err != nil {
			m.StatusLine = StyleError.Render(fmt.Sprintf("%s failed: %v", msg.Action, msg.Err))
		} else {
			m.StatusLine = fmt.Sprintf("%s sent for %s", msg.Action, shortID(msg.TaskID))
		}

	case UnlockDoneMsg:
		if msg.Err != nil {
			m.StatusLine = StyleError.Render(msg.Err.Error())
		} else {
			m.StatusLine = "unlocked " + msg.Name
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		// running durations move on their own
		cmds = append(cmds, tick())
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.Quitting = true
		return m, tea.Quit
	}

	if m.ShowLocks {
		return m.handleLockKey(msg)
	}

	// Modal Handle
	if m.ShowModal {
		if key.Matches(msg, m.Keys.Back, m.Keys.Accept, m.Keys.Help) {
			m.ShowModal = false
		}
		return m, nil
	}

	if m.Mode == ModeGroupSearch {
		return m.handleGroupKey(msg)
	}

	slider := m.Session.Slider
	if slider.DropdownOpen() {
		if key.Matches(msg, m.Keys.Back, m.Keys.FilterMenu) {
			slider.CloseDropdown()
			m.updateLayout()
			return m, nil
		}
		if n, err := strconv.Atoi(msg.String()); err == nil && n >= 1 && n <= len(slider.Options()) {
			changed := slider.Select(n - 1)
			m.updateLayout()
			m.filterChanged(changed)
			return m, nil
		}
	}

	switch {
	case key.Matches(msg, m.Keys.Quit):
		m.Quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.Keys.Help):
		m.ShowModal = true
	case key.Matches(msg, m.Keys.Focus):
		if m.FocusArea == FocusList {
			m.FocusArea = FocusLogs
		} else {
			m.FocusArea = FocusList
		}
	case key.Matches(msg, m.Keys.PrevFilter):
		m.filterChanged(slider.Prev())
		return m, nil
	case key.Matches(msg, m.Keys.NextFilter):
		m.filterChanged(slider.Next())
		return m, nil
	case key.Matches(msg, m.Keys.FilterMenu):
		slider.ToggleDropdown()
		m.updateLayout()
	case key.Matches(msg, m.Keys.Group):
		m.Mode = ModeGroupSearch
		m.GroupIdx = -1
		m.Session.Picker.Toggle()
		m.Input.SetValue(m.Session.Picker.Query())
		m.Input.Focus()
		m.updateLayout()
		return m, textinput.Blink
	case key.Matches(msg, m.Keys.ClearGroup):
		if m.Session.Picker.Value() != "" {
			m.Session.Picker.Clear()
			m.filterChanged(true)
			return m, nil
		}
	case key.Matches(msg, m.Keys.PrevPage):
		m.changePage(-1)
	case key.Matches(msg, m.Keys.NextPage):
		m.changePage(1)
	case key.Matches(msg, m.Keys.Refresh):
		m.Session.Refresh()
		m.StatusLine = "refreshing..."
	case key.Matches(msg, m.Keys.Locks):
		m.ShowLocks = true
		m.LockIdx = 0
		m.ConfirmUnlock = false
		m.Session.Locks.Refresh()
	case key.Matches(msg, m.Keys.Confirm):
		return m, m.act(actionConfirm)
	case key.Matches(msg, m.Keys.Cancel):
		return m, m.act(actionCancel)
	case m.FocusArea == FocusLogs:
		var cmd tea.Cmd
		m.LogView, cmd = m.LogView.Update(msg)
		return m, cmd
	case key.Matches(msg, m.Keys.Up):
		m.TaskList.CursorUp()
		m.selectCurrent()
	case key.Matches(msg, m.Keys.Down):
		m.TaskList.CursorDown()
		m.selectCurrent()
	}
	return m, nil
}

// handleGroupKey drives the group search box. Up and down walk the matching groups;
// Enter picks the highlighted one, or the typed text when nothing is highlighted.
func (m Model) handleGroupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	picker := m.Session.Picker
	filtered := picker.Filtered()

	switch {
	case key.Matches(msg, m.Keys.Back):
		picker.Close()
		m.leaveGroupSearch()
		return m, nil
	case key.Matches(msg, m.Keys.Accept):
		if m.GroupIdx >= 0 && m.GroupIdx < len(filtered) {
			picker.Select(filtered[m.GroupIdx])
		} else {
			picker.Enter()
		}
		m.leaveGroupSearch()
		m.filterChanged(true)
		return m, nil
	case msg.Type == tea.KeyUp:
		if len(filtered) > 0 {
			m.GroupIdx = (m.GroupIdx - 1 + len(filtered)) % len(filtered)
		}
		return m, nil
	case msg.Type == tea.KeyDown || msg.Type == tea.KeyTab:
		if len(filtered) > 0 {
			m.GroupIdx = (m.GroupIdx + 1) % len(filtered)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	if m.Input.Value() != picker.Query() {
		picker.SetQuery(m.Input.Value())
		m.GroupIdx = -1
	}
	return m, cmd
}

// handleLockKey drives the poisoned lock resolver. Enter asks for confirmation, y clears
// the selected lock and n or esc backs out of the question.
func (m Model) handleLockKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	locks := m.Session.Locks.List()

	if m.ConfirmUnlock {
		switch {
		case msg.String() == "y" || key.Matches(msg, m.Keys.Accept):
			m.ConfirmUnlock = false
			if m.LockIdx >= len(locks) {
				return m, nil
			}
			return m, m.unlock(locks[m.LockIdx])
		case msg.String() == "n" || key.Matches(msg, m.Keys.Back):
			m.ConfirmUnlock = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.Keys.Back, m.Keys.Quit, m.Keys.Locks):
		m.ShowLocks = false
	case key.Matches(msg, m.Keys.Up):
		if m.LockIdx > 0 {
			m.LockIdx--
		}
	case key.Matches(msg, m.Keys.Down):
		if m.LockIdx < len(locks)-1 {
			m.LockIdx++
		}
	case key.Matches(msg, m.Keys.Refresh):
		m.Session.Locks.Refresh()
	case key.Matches(msg, m.Keys.Accept):
		if m.LockIdx < len(locks) {
			m.ConfirmUnlock = true
		}
	}
	return m, nil
}

func (m *Model) unlock(l task.PoisonedLock) tea.Cmd {
	ctx, locks := m.ctx, m.Session.Locks
	m.StatusLine = "unlocking " + l.Name + "..."
	return func() tea.Msg {
		return UnlockDoneMsg{Name: l.Name, Err: locks.Unlock(ctx, l.ID)}
	}
}

func (m *Model) leaveGroupSearch() {
	m.Mode = ModeSelection
	m.GroupIdx = -1
	m.Input.Blur()
	m.Input.SetValue("")
	m.updateLayout()
}

func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.ShowModal || m.ShowLocks || m.Mode == ModeGroupSearch {
		return m, nil
	}
	slider := m.Session.Slider
	x := float64(msg.X)
	width := float64(m.segmentWidth())

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			break
		}
		if msg.Y == sliderRow {
			slider.PointerDown(x)
			m.updateLayout()
			return m, nil
		}
		if row := msg.Y - sliderRow - 1; slider.DropdownOpen() && row >= 0 && row < len(slider.Options()) {
			changed := slider.Select(row)
			m.updateLayout()
			m.filterChanged(changed)
			return m, nil
		}

	case tea.MouseActionMotion:
		if !slider.Dragging() {
			break
		}
		if msg.Y != sliderRow {
			m.filterChanged(slider.PointerLeave())
			return m, nil
		}
		slider.PointerMove(x, width)
		return m, nil

	case tea.MouseActionRelease:
		if !slider.Dragging() {
			break
		}
		changed := slider.PointerUp(x, width)
		m.updateLayout()
		m.filterChanged(changed)
		return m, nil
	}

	if msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown {
		var cmd tea.Cmd
		if m.FocusArea == FocusLogs {
			m.LogView, cmd = m.LogView.Update(msg)
		} else if msg.Button == tea.MouseButtonWheelUp {
			m.TaskList.CursorUp()
			m.selectCurrent()
		} else {
			m.TaskList.CursorDown()
			m.selectCurrent()
		}
		return m, cmd
	}
	return m, nil
}

// filterChanged applies the slider and group selection when changed is set.
func (m *Model) filterChanged(changed bool) {
	if !changed {
		return
	}
	m.Session.ApplyFilter()
	m.StatusLine = ""
}

func (m *Model) changePage(delta int) {
	page := m.Session.Page() + delta
	if page < 1 || page > m.Session.Pages() {
		return
	}
	m.Session.SetPage(page)
}

// act runs a task action in the background. Actions the selected task cannot take are
// refused locally.
func (m *Model) act(action string) tea.Cmd {
	t := m.Session.Detail.Task()
	if t == nil {
		m.StatusLine = StyleWarn.Render("no task selected")
		return nil
	}
	switch {
	case action == actionConfirm && t.Status.State != task.StateNeedsUserValidation:
		m.StatusLine = StyleWarn.Render("task does not need validation")
		return nil
	case action == actionCancel && t.Status.IsFinished():
		m.StatusLine = StyleWarn.Render("task already finished")
		return nil
	}

	call := m.Session.Detail.Cancel
	if action == actionConfirm {
		call = m.Session.Detail.Confirm
	}
	ctx, id := m.ctx, t.ID
	m.StatusLine = action + "ing " + shortID(id) + "..."
	return func() tea.Msg {
		return ActionDoneMsg{Action: action, TaskID: id, Err: call(ctx)}
	}
}
