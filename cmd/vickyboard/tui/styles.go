package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/tuanbt/vickyboard/internal/filter"
	"github.com/tuanbt/vickyboard/internal/task"
)

var (
	// Colors
	ColorBg     = lipgloss.Color("#080808")
	ColorFg     = lipgloss.Color("#D1D1D1")
	ColorAccent = lipgloss.Color("#00E5FF")
	ColorError  = lipgloss.Color("#FF007A")
	ColorWarn   = lipgloss.Color("#F59E0B")
	ColorBorder = lipgloss.Color("#333333")
	ColorDimmed = lipgloss.Color("#666666")

	StyleHeader = lipgloss.NewStyle().
			Background(ColorBorder).
			Foreground(ColorAccent).
			Bold(true).
			Padding(0, 1)

	StylePaneBorder = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder)

	StylePaneBorderFocus = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(ColorAccent)

	StyleTaskSelected = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(ColorAccent).
				PaddingLeft(1).
				Foreground(ColorAccent)

	StyleTaskDimmed = lipgloss.NewStyle().
			Foreground(ColorFg).
			PaddingLeft(2)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)

	StyleWarn = lipgloss.NewStyle().
			Foreground(ColorWarn)

	StyleInputPrefix = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorDimmed).
			Width(10)

	StyleModal = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorAccent).
			Padding(1, 4).
			Background(ColorBg)

	StyleGridLabel = lipgloss.NewStyle().
			Foreground(ColorBg).
			Background(ColorAccent).
			Bold(true).
			Padding(0, 1)
)

// statusColor picks the slider colour of the first non-"All" option matching s.
// Results without an option of their own are drawn as warnings.
func statusColor(s task.Status) lipgloss.Color {
	for _, o := range filter.DefaultOptions() {
		if o.Value == task.AllStatuses {
			continue
		}
		if o.Value.Matches(s) {
			return lipgloss.Color(o.Color)
		}
	}
	if s.IsFinished() {
		return ColorWarn
	}
	return ColorDimmed
}

func statusStyle(s task.Status) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(statusColor(s))
}
