package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/vickyboard/internal/task"
)

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error)

func (f OpenerFunc) OpenStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	return f(ctx, path, query)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

var fastBackoff = Backoff{Cooldowns: []time.Duration{time.Millisecond}}

// heldBody delivers data and then stays open until ctx is done.
func heldBody(ctx context.Context, data string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		io.WriteString(pw, data)
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type collector struct {
	mu     sync.Mutex
	data   []string
	states []StateChange
}

func (c *collector) message(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, msg.Data)
}

func (c *collector) state(change StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, change)
}

func (c *collector) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.data...)
}

func (c *collector) waits() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var attempts []int
	for _, s := range c.states {
		if s.State == StateWaiting {
			attempts = append(attempts, s.Attempt)
		}
	}
	return attempts
}

func (c *collector) last() (StateChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return StateChange{}, false
	}
	return c.states[len(c.states)-1], true
}

func TestSubscriptionReconnectsAndResetsBackoff(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	opener := OpenerFunc(func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if path != "/events" {
			t.Errorf("expected path /events, got %s", path)
		}
		switch n {
		case 1:
			return io.NopCloser(strings.NewReader("data: a\n\n")), nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return heldBody(ctx, "data: b\n\n"), nil
		}
	})

	c := &collector{}
	sub := NewSubscription(opener, "/events", c.message,
		WithBackoff(fastBackoff), WithLogger(testLogger()), WithStateHandler(c.state))

	sub.Start(context.Background())
	waitFor(t, "second message", func() bool { return len(c.messages()) == 2 })
	sub.Stop()

	if got := c.messages(); got[0] != "a" || got[1] != "b" {
		t.Errorf("expected messages [a b], got %v", got)
	}
	// The first drop followed a message so it restarts the schedule; the refused
	// connection is the second consecutive failure.
	waits := c.waits()
	if len(waits) != 2 || waits[0] != 1 || waits[1] != 2 {
		t.Errorf("expected waiting attempts [1 2], got %v", waits)
	}
	if last, ok := c.last(); !ok || last.State != StateIdle {
		t.Errorf("expected idle after stop, got %+v", last)
	}
	if sub.Running() {
		t.Error("expected subscription to be stopped")
	}
}

func TestSubscriptionGivesUp(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	opener := OpenerFunc(func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, errors.New("unreachable")
	})

	c := &collector{}
	sub := NewSubscription(opener, "/events", c.message,
		WithBackoff(Backoff{Cooldowns: []time.Duration{time.Millisecond}, MaxAttempts: 2}),
		WithStateHandler(c.state))

	sub.Start(context.Background())
	waitFor(t, "subscription to give up", func() bool { return !sub.Running() })

	last, _ := c.last()
	if last.State != StateFailed {
		t.Fatalf("expected failed state, got %v", last.State)
	}
	if !errors.Is(last.Err, ErrRetriesExhausted) {
		t.Errorf("expected ErrRetriesExhausted, got %v", last.Err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("expected 3 connection attempts, got %d", calls)
	}
}

func TestSubscriptionSetEnabledAndHandlerSwap(t *testing.T) {
	connected := make(chan struct{}, 4)
	opener := OpenerFunc(func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
		connected <- struct{}{}
		return heldBody(ctx, "data: x\n\n"), nil
	})

	first := &collector{}
	second := &collector{}
	sub := NewSubscription(opener, "/events", first.message, WithBackoff(fastBackoff))

	ctx := context.Background()
	sub.SetEnabled(ctx, true)
	sub.SetEnabled(ctx, true) // already running, no second connection
	<-connected
	waitFor(t, "first message", func() bool { return len(first.messages()) == 1 })

	sub.SetHandler(second.message)
	sub.Restart(ctx)
	waitFor(t, "message on swapped handler", func() bool { return len(second.messages()) == 1 })
	sub.SetEnabled(ctx, false)

	if len(connected) != 1 {
		t.Errorf("expected exactly one more connection after restart, got %d", len(connected))
	}
	if len(first.messages()) != 1 {
		t.Errorf("expected the replaced handler to see nothing more, got %v", first.messages())
	}
	if sub.Running() {
		t.Error("expected subscription to be disabled")
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Cooldowns: []time.Duration{time.Second, 5 * time.Second}}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 5 * time.Second},
		{9, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d): expected %v, got %v", tt.attempt, tt.want, got)
		}
	}

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Delay(1)
		if d < time.Second || d > 1500*time.Millisecond {
			t.Fatalf("expected jittered delay within [1s, 1.5s], got %v", d)
		}
	}
}

func TestHubFanOut(t *testing.T) {
	opener := OpenerFunc(func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
		return heldBody(ctx, strings.Join([]string{
			`data: {"type":"TaskAdd"}`, "",
			`data: not json`, "",
			`data: {"type":"TaskUpdate","uuid":"t-1"}`, "",
			"",
		}, "\n")), nil
	})

	hub := NewHub(opener, testLogger(), WithBackoff(fastBackoff))

	var (
		mu         sync.Mutex
		a, b       []task.GlobalEvent
		removedHit int
	)
	hub.Subscribe(func(evt task.GlobalEvent) {
		mu.Lock()
		defer mu.Unlock()
		a = append(a, evt)
	})
	hub.Subscribe(func(evt task.GlobalEvent) {
		mu.Lock()
		defer mu.Unlock()
		b = append(b, evt)
	})
	unsubscribe := hub.Subscribe(func(task.GlobalEvent) {
		mu.Lock()
		defer mu.Unlock()
		removedHit++
	})
	unsubscribe()
	unsubscribe()

	if hub.Listeners() != 2 {
		t.Fatalf("expected 2 listeners, got %d", hub.Listeners())
	}

	hub.Start(context.Background())
	defer hub.Stop()

	waitFor(t, "both events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(a) == 2 && len(b) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	want := []task.GlobalEvent{task.TaskAdded(), task.TaskUpdated("t-1")}
	for i := range want {
		if a[i] != want[i] || b[i] != want[i] {
			t.Errorf("event %d: expected %+v, got %+v and %+v", i, want[i], a[i], b[i])
		}
	}
	if removedHit != 0 {
		t.Errorf("expected unsubscribed listener to see nothing, got %d events", removedHit)
	}
}

func TestLogStreamSkip(t *testing.T) {
	starts := make(chan string, 1)
	opener := OpenerFunc(func(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
		select {
		case starts <- query.Get("start"):
		default:
		}
		return heldBody(ctx, "data: x\n\n"), nil
	})

	ls := NewLogStream(opener, "t1", nil, WithBackoff(fastBackoff))
	ls.Skip(7)
	ls.Start(context.Background())
	defer ls.Stop()

	select {
	case got := <-starts:
		if got != "7" {
			t.Errorf("expected start=7, got %s", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream was not opened")
	}
	waitFor(t, "line count", func() bool { return ls.Seen() == 8 })
}
