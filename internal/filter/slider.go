// Package filter holds the interaction state of the task filters: the status slider and
// the group picker. Rendering is left to the caller.
package filter

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/tuanbt/vickyboard/internal/task"
)

// TapThreshold is the largest displacement, in pointer units, still treated as a tap.
const TapThreshold = 4

const fallbackColor = "#6b7280"

// Option is one discrete value of the status slider.
type Option struct {
	Label string
	// Value is the status token, AllStatuses for "All".
	Value task.StatusFilter
	Color string
}

// DefaultOptions returns the status filters of the dashboard. "All" always comes first.
func DefaultOptions() []Option {
	return []Option{
		{Label: "All", Value: task.AllStatuses, Color: "#6b7280"},
		{Label: "Validation", Value: "NEEDS_USER_VALIDATION", Color: "#f59e0b"},
		{Label: "New", Value: "NEW", Color: "#22d3ee"},
		{Label: "Running", Value: "RUNNING", Color: "#7c3aed"},
		{Label: "Finished", Value: "FINISHED::SUCCESS", Color: "#22c55e"},
		{Label: "Error", Value: "FINISHED::ERROR", Color: "#ef4444"},
	}
}

type drag struct {
	startX float64
	moved  bool
}

// Slider maps a horizontal drag onto one of N options. It is idle, or dragging between a
// pointer press and its release; a release either commits the nearest option or, for a
// tap, toggles the dropdown.
type Slider struct {
	options  []Option
	colors   []colorful.Color
	selected int
	offset   float64
	drag     *drag
	dropdown bool
}

// NewSlider creates a slider positioned on value, or on the first option if value is unknown.
func NewSlider(options []Option, value task.StatusFilter) *Slider {
	s := &Slider{options: options, colors: make([]colorful.Color, len(options))}
	fallback, _ := colorful.Hex(fallbackColor)
	for i, o := range options {
		c, err := colorful.Hex(o.Color)
		if err != nil {
			c = fallback
		}
		s.colors[i] = c
	}
	s.SetValue(value)
	return s
}

// Options returns the options.
func (s *Slider) Options() []Option {
	return s.options
}

// Selected returns the index of the committed option.
func (s *Slider) Selected() int {
	return s.selected
}

// Current returns the committed option.
func (s *Slider) Current() Option {
	if len(s.options) == 0 {
		return Option{Label: "All"}
	}
	return s.options[s.selected]
}

// Value returns the committed status token.
func (s *Slider) Value() task.StatusFilter {
	return s.Current().Value
}

// SetValue moves to the option carrying value without reporting a change.
func (s *Slider) SetValue(value task.StatusFilter) {
	s.selected = 0
	for i, o := range s.options {
		if o.Value == value {
			s.selected = i
			break
		}
	}
}

// Dragging reports whether a pointer is pressed on the slider.
func (s *Slider) Dragging() bool {
	return s.drag != nil
}

// DropdownOpen reports whether the option list is shown.
func (s *Slider) DropdownOpen() bool {
	return s.dropdown
}

// Offset returns the in-progress drag as a fraction of the track width.
func (s *Slider) Offset() float64 {
	return s.offset
}

// Position returns the fractional option index currently under the track.
func (s *Slider) Position() float64 {
	return float64(s.selected) - s.offset
}

// PointerDown starts a drag at x and closes the dropdown.
func (s *Slider) PointerDown(x float64) {
	s.dropdown = false
	s.drag = &drag{startX: x}
	s.offset = 0
}

// PointerMove updates the drag. width is the track width; zero is treated as one.
func (s *Slider) PointerMove(x, width float64) {
	if s.drag == nil {
		return
	}
	delta := x - s.drag.startX
	if math.Abs(delta) > TapThreshold {
		s.drag.moved = true
	}
	s.offset = delta / trackWidth(width)
}

// PointerUp ends the drag. A tap toggles the dropdown; anything else commits
// clamp(round(selected - delta/width), 0, N-1). It reports whether the value changed.
func (s *Slider) PointerUp(x, width float64) bool {
	if s.drag == nil {
		return false
	}
	delta := x - s.drag.startX
	if !s.drag.moved && math.Abs(delta) < TapThreshold {
		s.dropdown = !s.dropdown
		s.reset()
		return false
	}
	return s.commit(round(float64(s.selected) - delta/trackWidth(width)))
}

// PointerLeave commits the in-progress drag position when the pointer leaves mid-drag.
func (s *Slider) PointerLeave() bool {
	if s.drag == nil {
		return false
	}
	return s.commit(round(float64(s.selected) - s.offset))
}

// Prev steps one option to the left.
func (s *Slider) Prev() bool {
	return s.commit(s.selected - 1)
}

// Next steps one option to the right.
func (s *Slider) Next() bool {
	return s.commit(s.selected + 1)
}

// Select commits option i from the dropdown and closes it.
func (s *Slider) Select(i int) bool {
	s.dropdown = false
	return s.commit(i)
}

// ToggleDropdown shows or hides the option list.
func (s *Slider) ToggleDropdown() {
	s.dropdown = !s.dropdown
}

// CloseDropdown hides the option list.
func (s *Slider) CloseDropdown() {
	s.dropdown = false
}

// Color returns the track colour at the current position, blending the two neighbouring
// options while dragging.
func (s *Slider) Color() string {
	if len(s.colors) == 0 {
		return fallbackColor
	}
	lo, hi := s.neighbours()
	t := s.Position() - math.Floor(s.Position())
	return s.colors[lo].BlendRgb(s.colors[hi], t).Clamped().Hex()
}

// BorderColors returns the gradient stops around the current position.
func (s *Slider) BorderColors() (from, mid, to string) {
	if len(s.colors) == 0 {
		return fallbackColor, fallbackColor, fallbackColor
	}
	lo, hi := s.neighbours()
	a, b := s.colors[lo], s.colors[hi]
	return a.Hex(), a.BlendRgb(b, 0.5).Clamped().Hex(), b.Hex()
}

func (s *Slider) neighbours() (lo, hi int) {
	pos := s.Position()
	return s.clamp(int(math.Floor(pos))), s.clamp(int(math.Ceil(pos)))
}

func (s *Slider) commit(i int) bool {
	if len(s.options) == 0 {
		return false
	}
	i = s.clamp(i)
	changed := i != s.selected
	s.selected = i
	s.reset()
	return changed
}

func (s *Slider) reset() {
	s.drag = nil
	s.offset = 0
}

func (s *Slider) clamp(i int) int {
	return max(0, min(len(s.options)-1, i))
}

func trackWidth(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}

// round rounds half up, so -0.5 becomes 0 and 1.5 becomes 2.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}
