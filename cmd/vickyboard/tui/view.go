package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/tuanbt/vickyboard/internal/events"
	"github.com/tuanbt/vickyboard/internal/task"
)

const (
	headerHeight = 1
	sliderHeight = 1
	detailHeight = 9 // detail fields plus the log label
	minListWidth = 30
)

func (m Model) View() string {
	if m.Width == 0 || !m.Ready {
		return "Initialising dashboard..."
	}
	if m.Quitting {
		return ""
	}

	sections := []string{m.renderHeader(), m.renderSlider()}
	if m.Session.Slider.DropdownOpen() {
		sections = append(sections, m.renderDropdown())
	}
	sections = append(sections, m.renderMain(), m.renderFooter())
	ui := lipgloss.JoinVertical(lipgloss.Left, sections...)

	if m.ShowLocks {
		return m.overlay(StyleModal.Render(m.renderLocks()))
	}
	if m.ShowModal {
		return m.overlay(StyleModal.Render(m.Help.FullHelpView(m.Keys.FullHelp())))
	}
	return ui
}

func (m Model) renderHeader() string {
	s := m.Session
	user := "-"
	if u := s.User(); u != nil {
		user = u.FullName
	}
	total := "?"
	if n, ok := s.Count.Value(); ok {
		total = fmt.Sprint(n)
	}

	busy := " "
	if s.Tasks.Loading() {
		busy = m.Spinner.View()
	}
	headerStr := fmt.Sprintf(" VICKY %s | USER: %s | TASKS: %s | GROUP: %s | STREAM: %s ",
		busy, user, total, s.Picker.Label(), streamLabel(s.HubState()))
	if n := len(s.Locks.List()); n > 0 {
		headerStr += fmt.Sprintf("| POISONED: %d ", n)
	}
	return StyleHeader.Width(m.Width).Render(headerStr)
}

func streamLabel(c events.StateChange) string {
	switch c.State {
	case events.StateConnected:
		return "live"
	case events.StateWaiting:
		return fmt.Sprintf("retry in %s", c.Delay.Round(time.Second))
	case events.StateFailed:
		return "offline"
	default:
		return c.State.String()
	}
}

func (m Model) renderMain() string {
	listWidth, rightWidth, contentHeight := m.paneSizes()

	listBorder, logBorder := StylePaneBorderFocus, StylePaneBorder
	if m.FocusArea == FocusLogs {
		listBorder, logBorder = StylePaneBorder, StylePaneBorderFocus
	}

	var listBody string
	switch {
	case m.Session.Tasks.Err() != nil:
		listBody = StyleError.Render("failed to load tasks: " + m.Session.Tasks.Err().Error())
	case len(m.TaskList.Items()) == 0 && !m.Session.Tasks.Loading():
		listBody = StyleDimmed.Render("  No tasks match the filter.")
	default:
		listBody = m.TaskList.View()
	}
	sidebar := listBorder.Width(listWidth - 2).Height(contentHeight - 2).Render(listBody)

	right := logBorder.Width(rightWidth - 2).Height(contentHeight - 2).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.renderDetail(rightWidth-2),
			m.LogView.View(),
		),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, right)
}

func (m Model) renderDetail(width int) string {
	d := m.Session.Detail
	t := d.Task()
	lines := make([]string, 0, detailHeight)

	switch {
	case t == nil && d.Err() != nil:
		lines = append(lines, StyleError.Render("failed to load task: "+d.Err().Error()))
	case t == nil:
		lines = append(lines, StyleDimmed.Render("Select a task to see its details."))
	default:
		now := time.Now()
		field := func(label, value string) {
			lines = append(lines, StyleLabel.Render(label)+truncate(value, width-10))
		}
		field("name", t.DisplayName)
		field("id", t.ID)
		lines = append(lines, StyleLabel.Render("status")+statusStyle(t.Status).Render(t.Status.String()))
		field("group", orDash(t.Group))
		field("flake", orDash(strings.TrimSpace(t.FlakeRef.Flake+" "+strings.Join(t.FlakeRef.Args, " "))))
		field("created", ago(t.CreatedAt, now))
		field("runtime", elapsed(t, now))
		if msg := d.ActionError(); msg != "" {
			lines = append(lines, StyleError.Render(msg))
		} else if m.StatusLine != "" {
			lines = append(lines, m.StatusLine)
		}
	}

	for len(lines) < detailHeight-1 {
		lines = append(lines, "")
	}
	label := StyleGridLabel.Render(" LOGS ")
	if n := m.Session.Logs.Dropped(); n > 0 {
		label += StyleDimmed.Render(fmt.Sprintf(" %d older lines dropped", n))
	}
	return lipgloss.JoinVertical(lipgloss.Left, append(lines, label)...)
}

func (m Model) renderFooter() string {
	var rows []string
	if m.Mode == ModeGroupSearch {
		rows = append(rows,
			lipgloss.JoinHorizontal(lipgloss.Center, StyleInputPrefix.Render("group> "), m.Input.View()),
			m.renderGroupSuggestions(),
		)
	}

	pager := fmt.Sprintf(" %s  page %d/%d", m.Pager.View(), m.Session.Page(), max(m.Session.Pages(), 1))
	rows = append(rows, pager, m.Help.ShortHelpView(m.Keys.ShortHelp()))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderLocks draws the poisoned lock resolver.
func (m Model) renderLocks() string {
	l := m.Session.Locks
	rows := []string{StyleInputPrefix.Render("POISONED LOCKS"), ""}
	locks := l.List()

	switch {
	case l.Err() != nil:
		rows = append(rows, StyleError.Render("failed to load locks: "+l.Err().Error()))
	case locks == nil:
		rows = append(rows, m.Spinner.View()+" loading...")
	case len(locks) == 0:
		rows = append(rows, StyleDimmed.Render("No poisoned locks."))
	}

	width := max(m.Width-20, 40)
	for i, pl := range locks {
		owner := orDash(pl.Poisoned.DisplayName)
		if pl.Poisoned.ID != "" {
			owner += " (" + shortID(pl.Poisoned.ID) + ")"
		}
		line := truncate(fmt.Sprintf("%-20s %-5s %s  %s", pl.Name, pl.Kind, owner, orDash(pl.Poisoned.FlakeRef.Flake)), width)
		if i == m.LockIdx {
			rows = append(rows, StyleInputPrefix.Render("> "+line))
		} else {
			rows = append(rows, "  "+line)
		}
	}

	rows = append(rows, "")
	if m.ConfirmUnlock && m.LockIdx < len(locks) {
		rows = append(rows, StyleWarn.Render(fmt.Sprintf("Unlock %s? [y/n]", locks[m.LockIdx].Name)))
	} else {
		rows = append(rows, StyleDimmed.Render("enter unlock • r refresh • esc close"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderGroupSuggestions() string {
	picker := m.Session.Picker
	if hint := picker.Hint(); hint != "" {
		return StyleDimmed.Render(hint)
	}
	var b strings.Builder
	for i, g := range picker.Filtered() {
		if b.Len() > m.Width {
			break
		}
		if i == m.GroupIdx {
			b.WriteString(StyleInputPrefix.Render("[" + g + "]"))
		} else {
			b.WriteString(StyleDimmed.Render(" " + g + " "))
		}
		b.WriteString(" ")
	}
	return b.String()
}

func (m Model) footerHeight() int {
	if m.Mode == ModeGroupSearch {
		return 4
	}
	return 2
}

// paneSizes splits the area below the filters between the task list and the detail pane.
func (m Model) paneSizes() (listWidth, rightWidth, contentHeight int) {
	contentHeight = max(m.Height-headerHeight-sliderHeight-m.dropdownRows()-m.footerHeight(), 4)
	listWidth = max(m.Width*2/5, minListWidth)
	if listWidth > m.Width/2 {
		listWidth = m.Width / 2
	}
	return listWidth, m.Width - listWidth, contentHeight
}

func (m *Model) updateLayout() {
	if m.Width == 0 || m.Height == 0 {
		return
	}
	listWidth, rightWidth, contentHeight := m.paneSizes()

	// inside the border
	m.TaskList.SetSize(listWidth-4, contentHeight-2)
	m.LogView.Width = rightWidth - 4
	m.LogView.Height = max(contentHeight-2-detailHeight, 0)
	m.Input.Width = max(m.Width-10, 10)
	m.Help.Width = m.Width
}

func (m Model) overlay(content string) string {
	return lipgloss.Place(m.Width, m.Height,
		lipgloss.Center, lipgloss.Center,
		content,
		lipgloss.WithWhitespaceChars(" "),
		lipgloss.WithWhitespaceForeground(ColorBorder),
	)
}

func ago(ts task.Timestamp, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.RelTime(ts.Time, now, "ago", "from now")
}

func elapsed(t *task.Task, now time.Time) string {
	if t.ClaimedAt.IsZero() {
		return "-"
	}
	return t.Elapsed(now).Round(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
