package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tuanbt/vickyboard/internal/task"
)

// TaskItem implements list.Item
type TaskItem struct {
	Task task.Task
}

func (i TaskItem) FilterValue() string { return i.Task.DisplayName }

type TaskDelegate struct{}

func (d TaskDelegate) Height() int                               { return 2 }
func (d TaskDelegate) Spacing() int                              { return 0 }
func (d TaskDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d TaskDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	it, ok := listItem.(TaskItem)
	if !ok {
		return
	}
	t := &it.Task
	width := max(m.Width()-4, 10)

	titleStr := truncate(fmt.Sprintf("[%s] %s", shortID(t.ID), t.DisplayName), width)

	detail := t.Status.String()
	if t.Group != "" {
		detail += " · " + t.Group
	}
	if !t.ClaimedAt.IsZero() {
		detail += " · " + t.Elapsed(time.Now()).Round(time.Second).String()
	}
	detail = truncate(detail, width-2)

	if index == m.Index() {
		fmt.Fprint(w, StyleTaskSelected.Render("> "+titleStr)+"\n")
	} else {
		fmt.Fprint(w, StyleTaskDimmed.Render("  "+titleStr)+"\n")
	}
	fmt.Fprint(w, "    "+statusStyle(t.Status).Render(detail))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
