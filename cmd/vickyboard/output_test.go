package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tuanbt/vickyboard/internal/task"
)

func TestPrintPoisonedLocks(t *testing.T) {
	var buf bytes.Buffer
	printPoisonedLocks(&buf, []task.PoisonedLock{{
		ID:       "l1",
		Name:     "db",
		Kind:     task.LockWrite,
		Poisoned: task.Task{ID: "t1", DisplayName: "migrate", FlakeRef: task.FlakeRef{Flake: "github:org/repo"}},
	}})

	out := buf.String()
	for _, want := range []string{"NAME", "l1", "db", "WRITE", "migrate (t1)", "github:org/repo"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	buf.Reset()
	printPoisonedLocks(&buf, nil)
	if got := buf.String(); got != "No poisoned locks.\n" {
		t.Errorf("expected empty message, got %q", got)
	}
}

func TestPrintLocks(t *testing.T) {
	var buf bytes.Buffer
	printLocks(&buf, []task.Lock{
		{ID: "l1", Name: "db", Kind: task.LockWrite, PoisonedBy: "t1"},
		{ID: "l2", Name: "cache", Kind: task.LockRead},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "t1") {
		t.Errorf("expected poisoning task in row, got %q", lines[1])
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[2]), "-") {
		t.Errorf("expected dash for a healthy lock, got %q", lines[2])
	}
}
