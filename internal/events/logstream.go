package events

import (
	"context"
	"net/url"
	"strconv"
	"sync/atomic"
)

// LogPath returns the stream path of a task's log.
func LogPath(taskID string) string {
	return "/tasks/" + url.PathEscape(taskID) + "/logs"
}

// LogStream follows the log of one task. Every message is one log line. On reconnect it
// resumes with start set to the number of lines already delivered, so no line is seen
// twice.
type LogStream struct {
	taskID   string
	sub      *Subscription
	seen     atomic.Int64
	consumer atomic.Pointer[func(string)]
}

// NewLogStream creates a stopped log stream for taskID.
func NewLogStream(opener Opener, taskID string, consumer func(line string), opts ...Option) *LogStream {
	ls := &LogStream{taskID: taskID}
	ls.SetConsumer(consumer)
	opts = append(opts, WithQuery(ls.query))
	ls.sub = NewSubscription(opener, LogPath(taskID), ls.handle, opts...)
	return ls
}

// TaskID returns the followed task.
func (l *LogStream) TaskID() string {
	return l.taskID
}

// Seen returns how many lines have been delivered so far.
func (l *LogStream) Seen() int {
	return int(l.seen.Load())
}

// Skip marks the first n lines as already seen, so the next connection starts after
// them. Call it before Start.
func (l *LogStream) Skip(n int) {
	l.seen.Store(int64(max(n, 0)))
}

// SetConsumer swaps the line consumer without reconnecting.
func (l *LogStream) SetConsumer(fn func(line string)) {
	if fn == nil {
		l.consumer.Store(nil)
		return
	}
	l.consumer.Store(&fn)
}

// OnState replaces the connection state callback.
func (l *LogStream) OnState(fn func(StateChange)) {
	l.sub.OnState(fn)
}

// Start opens the stream in the background.
func (l *LogStream) Start(ctx context.Context) {
	l.sub.Start(ctx)
}

// Stop closes the stream and waits for it to exit.
func (l *LogStream) Stop() {
	l.sub.Stop()
}

// SetEnabled starts or stops the stream.
func (l *LogStream) SetEnabled(ctx context.Context, enabled bool) {
	l.sub.SetEnabled(ctx, enabled)
}

func (l *LogStream) query() url.Values {
	v := url.Values{}
	v.Set("start", strconv.FormatInt(l.seen.Load(), 10))
	return v
}

func (l *LogStream) handle(msg Message) {
	// Count first so a reconnect triggered from the consumer already skips this line.
	l.seen.Add(1)
	if fn := l.consumer.Load(); fn != nil {
		(*fn)(msg.Data)
	}
}
