package tui

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	sliderRow     = 1 // below the header
	minSegment    = 10
	sliderMarkers = 2 // "◀" and "▶"
)

// segmentWidth is the width of one slider option in cells. Dragging by one segment moves
// the selection by one option.
func (m Model) segmentWidth() int {
	n := len(m.Session.Slider.Options())
	if n == 0 {
		return minSegment
	}
	return max((m.Width-sliderMarkers)/n, minSegment)
}

// dropdownRows is the number of rows the open status menu takes.
func (m Model) dropdownRows() int {
	if !m.Session.Slider.DropdownOpen() {
		return 0
	}
	return len(m.Session.Slider.Options())
}

// renderSlider draws the options as a strip centred on the current, possibly fractional,
// position. The strip follows the pointer while dragging.
func (m Model) renderSlider() string {
	s := m.Session.Slider
	opts := s.Options()
	seg := m.segmentWidth()
	track := max(m.Width-sliderMarkers, 0)

	// x of the left edge of option i
	origin := float64(track)/2 - (s.Position()+0.5)*float64(seg)

	var b strings.Builder
	cursor := 0
	for i, o := range opts {
		label := truncate(o.Label, seg-2)
		x := int(math.Round(origin)) + i*seg + (seg-lipgloss.Width(label))/2
		if x < cursor || x+lipgloss.Width(label) > track {
			continue
		}
		b.WriteString(strings.Repeat(" ", x-cursor))

		style := StyleDimmed
		if i == s.Selected() && !s.Dragging() {
			style = lipgloss.NewStyle().Foreground(lipgloss.Color(s.Color())).Bold(true).Underline(true)
		} else if i == s.Selected() {
			style = lipgloss.NewStyle().Foreground(lipgloss.Color(s.Color()))
		}
		b.WriteString(style.Render(label))
		cursor = x + lipgloss.Width(label)
	}
	b.WriteString(strings.Repeat(" ", max(track-cursor, 0)))

	from, _, to := s.BorderColors()
	left := lipgloss.NewStyle().Foreground(lipgloss.Color(from)).Render("◀")
	right := lipgloss.NewStyle().Foreground(lipgloss.Color(to)).Render("▶")
	return left + b.String() + right
}

// renderDropdown draws the status menu opened by tapping the slider.
func (m Model) renderDropdown() string {
	s := m.Session.Slider
	rows := make([]string, 0, len(s.Options()))
	for i, o := range s.Options() {
		marker := "  "
		if i == s.Selected() {
			marker = "> "
		}
		dot := lipgloss.NewStyle().Foreground(lipgloss.Color(o.Color)).Render("●")
		rows = append(rows, fmt.Sprintf("%s%d %s %s", marker, i+1, dot, o.Label))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
