package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/tuanbt/vickyboard/internal/task"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printTasks(w io.Writer, tasks []task.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found.")
		return
	}
	table := newTable(w, "ID", "NAME", "STATUS", "GROUP", "CREATED", "DURATION")
	for i := range tasks {
		t := &tasks[i]
		table.Append([]string{
			t.ID,
			t.DisplayName,
			t.Status.String(),
			t.Group,
			ago(t.CreatedAt, now),
			duration(t, now),
		})
	}
	table.Render()
}

func printTask(w io.Writer, t *task.Task, now time.Time) {
	table := newTable(w, "FIELD", "VALUE")
	table.SetHeader(nil)
	rows := [][]string{
		{"id", t.ID},
		{"name", t.DisplayName},
		{"status", t.Status.String()},
		{"group", t.Group},
		{"flake", strings.TrimSpace(t.FlakeRef.Flake + " " + strings.Join(t.FlakeRef.Args, " "))},
		{"features", strings.Join(t.Features, ", ")},
		{"created", ago(t.CreatedAt, now)},
		{"claimed", ago(t.ClaimedAt, now)},
		{"finished", ago(t.FinishedAt, now)},
		{"heartbeat", ago(t.LastHeartbeat, now)},
		{"duration", duration(t, now)},
	}
	for _, l := range t.Locks {
		value := fmt.Sprintf("%s (%s)", l.Name, l.Kind)
		if l.IsPoisoned() {
			value += " poisoned by " + l.PoisonedBy
		}
		rows = append(rows, []string{"lock", value})
	}
	table.AppendBulk(rows)
	table.Render()
}

func printLocks(w io.Writer, locks []task.Lock) {
	if len(locks) == 0 {
		fmt.Fprintln(w, "No active locks.")
		return
	}
	table := newTable(w, "ID", "NAME", "TYPE", "POISONED BY")
	for _, l := range locks {
		table.Append([]string{l.ID, l.Name, string(l.Kind), orDash(l.PoisonedBy)})
	}
	table.Render()
}

func printPoisonedLocks(w io.Writer, locks []task.PoisonedLock) {
	if len(locks) == 0 {
		fmt.Fprintln(w, "No poisoned locks.")
		return
	}
	table := newTable(w, "ID", "NAME", "TYPE", "TASK", "FLAKE")
	for _, l := range locks {
		owner := orDash(l.Poisoned.DisplayName)
		if l.Poisoned.ID != "" {
			owner += " (" + l.Poisoned.ID + ")"
		}
		table.Append([]string{l.ID, l.Name, string(l.Kind), owner, orDash(l.Poisoned.FlakeRef.Flake)})
	}
	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func ago(ts task.Timestamp, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return humanize.RelTime(ts.Time, now, "ago", "from now")
}

func duration(t *task.Task, now time.Time) string {
	if t.ClaimedAt.IsZero() {
		return "-"
	}
	return t.Elapsed(now).Round(time.Second).String()
}
