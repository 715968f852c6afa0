// Package tasklog keeps the output lines of tasks in memory and lets readers wait for
// new lines.
package tasklog

import "sync"

// Book holds the log of every task the backend ran since it started.
type Book struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	lines []string
	done  bool

	// changed is closed and replaced whenever the entry changes.
	changed chan struct{}
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{entries: make(map[string]*entry)}
}

func (b *Book) get(id string) *entry {
	e, ok := b.entries[id]
	if !ok {
		e = &entry{changed: make(chan struct{})}
		b.entries[id] = e
	}
	return e
}

func (e *entry) broadcast() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// Append adds a line to the log of the task with id. Lines of a closed log are dropped.
func (b *Book) Append(id, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.get(id)
	if e.done {
		return
	}
	e.lines = append(e.lines, line)
	e.broadcast()
}

// Close marks the log of id complete. Readers waiting on it wake up.
func (b *Book) Close(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.get(id)
	if e.done {
		return
	}
	e.done = true
	e.broadcast()
}

// Reset discards the log of id so a rerun starts from an empty log.
func (b *Book) Reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok {
		e.broadcast()
		delete(b.entries, id)
	}
}

// Lines returns the lines of id from offset start on, whether the log is complete, and
// a channel that is closed on the next change. A start beyond the end yields no lines.
func (b *Book) Lines(id string, start int) ([]string, bool, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.get(id)

	start = max(0, start)
	if start >= len(e.lines) {
		return nil, e.done, e.changed
	}
	lines := make([]string, len(e.lines)-start)
	copy(lines, e.lines[start:])
	return lines, e.done, e.changed
}

// Len returns the number of lines of id.
func (b *Book) Len(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[id]; ok {
		return len(e.lines)
	}
	return 0
}
