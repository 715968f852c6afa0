package tasklog

import (
	"testing"
	"time"
)

func TestBookLines(t *testing.T) {
	b := NewBook()
	b.Append("t1", "a")
	b.Append("t1", "b")
	b.Append("t1", "c")

	lines, done, _ := b.Lines("t1", 1)
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Errorf("expected [b c], got %v", lines)
	}
	if done {
		t.Error("expected open log")
	}

	if lines, _, _ := b.Lines("t1", 10); len(lines) != 0 {
		t.Errorf("expected no lines past the end, got %v", lines)
	}
	if lines, _, _ := b.Lines("other", 0); len(lines) != 0 {
		t.Errorf("expected unknown task to have no lines, got %v", lines)
	}
}

func TestBookWaitAndClose(t *testing.T) {
	b := NewBook()
	_, _, wait := b.Lines("t1", 0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.Append("t1", "hello")
	}()

	select {
	case <-wait:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a new line")
	}

	_, _, wait = b.Lines("t1", 1)
	b.Close("t1")
	select {
	case <-wait:
	default:
		t.Fatal("expected close to wake readers")
	}

	b.Append("t1", "late")
	lines, done, _ := b.Lines("t1", 0)
	if !done || len(lines) != 1 {
		t.Errorf("expected closed log with 1 line, got %v (done %v)", lines, done)
	}

	b.Reset("t1")
	if b.Len("t1") != 0 {
		t.Errorf("expected reset log to be empty, got %d", b.Len("t1"))
	}
}
