package filter

import (
	"fmt"
	"slices"
	"strings"
)

// GroupPicker is a searchable single-select over group labels. The search text doubles as
// a manual entry: Enter selects it even if no known group matches.
type GroupPicker struct {
	groups []string
	value  string
	query  string
	open   bool
}

// NewGroupPicker creates a closed picker with no group selected.
func NewGroupPicker() *GroupPicker {
	return &GroupPicker{groups: []string{}}
}

// SetGroups replaces the known groups.
func (p *GroupPicker) SetGroups(groups []string) {
	p.groups = NormalizeGroups(groups)
}

// Groups returns the known groups, deduplicated and sorted.
func (p *GroupPicker) Groups() []string {
	return p.groups
}

// Value returns the selected group, "" for all groups.
func (p *GroupPicker) Value() string {
	return p.value
}

// SetValue selects a group without going through the picker.
func (p *GroupPicker) SetValue(group string) {
	p.value = group
}

// Label is the text of the picker trigger.
func (p *GroupPicker) Label() string {
	if p.value == "" {
		return "Groups"
	}
	return p.value
}

// Open reports whether the picker is shown.
func (p *GroupPicker) Open() bool {
	return p.open
}

// Toggle shows or hides the picker.
func (p *GroupPicker) Toggle() {
	p.open = !p.open
}

// Close hides the picker and keeps the search text.
func (p *GroupPicker) Close() {
	p.open = false
}

// Query returns the search text.
func (p *GroupPicker) Query() string {
	return p.query
}

// SetQuery updates the search text.
func (p *GroupPicker) SetQuery(q string) {
	p.query = q
}

// Filtered returns the known groups containing the trimmed search text, ignoring case.
func (p *GroupPicker) Filtered() []string {
	needle := strings.ToLower(strings.TrimSpace(p.query))
	if needle == "" {
		return p.groups
	}
	var out []string
	for _, g := range p.groups {
		if strings.Contains(strings.ToLower(g), needle) {
			out = append(out, g)
		}
	}
	return out
}

// Hint is shown when nothing matches the search text.
func (p *GroupPicker) Hint() string {
	if len(p.Filtered()) > 0 {
		return ""
	}
	trimmed := strings.TrimSpace(p.query)
	if trimmed == "" {
		return "No matching groups"
	}
	return fmt.Sprintf("No matching groups. Press Enter to use %q anyways", trimmed)
}

// Enter selects the trimmed search text; empty text selects all groups.
func (p *GroupPicker) Enter() string {
	return p.Select(strings.TrimSpace(p.query))
}

// Select picks group ("" for all groups), closes the picker and clears the search.
func (p *GroupPicker) Select(group string) string {
	p.value = group
	p.open = false
	p.query = ""
	return group
}

// Clear selects all groups.
func (p *GroupPicker) Clear() string {
	return p.Select("")
}

// NormalizeGroups drops empty and duplicate labels and sorts the rest, ignoring case first
// and falling back to byte order.
func NormalizeGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == "" {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	slices.SortFunc(out, func(a, b string) int {
		if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	return out
}
