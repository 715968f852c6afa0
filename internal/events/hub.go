package events

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// EventsPath is the global task event stream.
const EventsPath = "/events"

// Listener receives global task events.
type Listener func(task.GlobalEvent)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Hub shares one /events connection between any number of listeners. Every listener
// sees every event in delivery order.
type Hub struct {
	sub    *Subscription
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []listenerEntry
	nextID    uint64
}

// NewHub creates a stopped hub.
func NewHub(opener Opener, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Hub{logger: logger}
	opts = append([]Option{WithLogger(logger)}, opts...)
	h.sub = NewSubscription(opener, EventsPath, h.dispatch, opts...)
	return h
}

// Subscribe registers fn and returns a function removing it again.
func (h *Hub) Subscribe(fn Listener) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, listenerEntry{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.listeners = slices.DeleteFunc(h.listeners, func(e listenerEntry) bool { return e.id == id })
		})
	}
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// OnState replaces the connection state callback.
func (h *Hub) OnState(fn func(StateChange)) {
	h.sub.OnState(fn)
}

// Start connects in the background.
func (h *Hub) Start(ctx context.Context) {
	h.sub.Start(ctx)
}

// Stop disconnects and waits for the connection goroutine to exit.
func (h *Hub) Stop() {
	h.sub.Stop()
}

// SetEnabled connects or disconnects, e.g. when the user signs in or out.
func (h *Hub) SetEnabled(ctx context.Context, enabled bool) {
	h.sub.SetEnabled(ctx, enabled)
}

// Publish delivers evt to the listeners as if it came from the server.
func (h *Hub) Publish(evt task.GlobalEvent) {
	h.mu.RLock()
	listeners := slices.Clone(h.listeners)
	h.mu.RUnlock()

	for _, l := range listeners {
		l.fn(evt)
	}
}

func (h *Hub) dispatch(msg Message) {
	evt, err := task.ParseGlobalEvent([]byte(msg.Data))
	if err != nil {
		h.logger.Warn("dropping malformed event", "data", msg.Data, "error", err)
		return
	}
	h.Publish(evt)
}
