package viewmodel

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuanbt/vickyboard/internal/events"
)

// DefaultLogCapacity bounds the lines kept in memory per task.
const DefaultLogCapacity = 5000

// Logs follows the log of the selected task. Only the newest lines up to the capacity are
// kept; the stream offset still counts every line.
type Logs struct {
	base
	opener   events.Opener
	api      TaskAPI
	capacity int
	opts     []events.Option

	mu      sync.Mutex
	taskID  string
	stream  *events.LogStream
	gen     uint64
	lines   []string
	dropped int
	state   events.StateChange
}

// NewLogs creates a log view-model with no task selected. opts configure every stream it opens.
func NewLogs(ctx context.Context, opener events.Opener, api TaskAPI, capacity int, logger *slog.Logger, notify func(), opts ...events.Option) *Logs {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	l := &Logs{opener: opener, api: api, capacity: capacity, opts: opts}
	l.init(ctx, logger, notify)
	return l
}

// SetTask switches the followed task. An empty id stops following.
func (l *Logs) SetTask(id string) {
	l.mu.Lock()
	if id == l.taskID {
		l.mu.Unlock()
		return
	}
	old := l.stream
	l.gen++
	gen := l.gen
	l.taskID = id
	l.stream = nil
	l.lines = nil
	l.dropped = 0
	l.state = events.StateChange{}
	l.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	if id != "" && !l.closed() {
		opts := append(slices.Clone(l.opts),
			events.WithLogger(l.logger.With("task_id", id)),
			events.WithStateHandler(func(change events.StateChange) { l.onState(gen, change) }))
		stream := events.NewLogStream(l.opener, id, func(line string) { l.append(gen, line) }, opts...)

		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			return
		}
		l.stream = stream
		l.mu.Unlock()
		stream.Start(l.ctx)
	}
	l.changed()
}

// TaskID returns the followed task.
func (l *Logs) TaskID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.taskID
}

// Lines returns the buffered lines, oldest first.
func (l *Logs) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.lines)
}

// Dropped returns how many old lines were evicted from the buffer.
func (l *Logs) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// State returns the last connection state of the stream.
func (l *Logs) State() events.StateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close stops following and cancels background work.
func (l *Logs) Close() {
	l.SetTask("")
	l.base.Close()
}

func (l *Logs) append(gen uint64, line string) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.lines = append(l.lines, line)
	if over := len(l.lines) - l.capacity; over > 0 {
		l.lines = slices.Delete(l.lines, 0, over)
		l.dropped += over
	}
	l.mu.Unlock()
	l.changed()
}

func (l *Logs) onState(gen uint64, change events.StateChange) {
	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		return
	}
	l.state = change
	id := l.taskID
	empty := len(l.lines) == 0 && l.dropped == 0
	l.mu.Unlock()
	l.changed()

	if change.State == events.StateFailed && empty && l.api != nil {
		l.loadSnapshot(gen, id)
	}
}

// loadSnapshot falls back to the one-shot log endpoint once the stream gave up.
func (l *Logs) loadSnapshot(gen uint64, id string) {
	l.spawn(func(ctx context.Context) {
		lines, err := l.api.GetTaskLogs(ctx, id)
		if err != nil {
			l.logger.Warn("failed to load log snapshot", "task_id", id, "error", err)
			return
		}
		for _, line := range lines {
			l.append(gen, line)
		}
	})
}
