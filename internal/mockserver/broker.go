package mockserver

import (
	"log/slog"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// clientBuffer is how many events a slow client may lag behind before events are
// dropped for it.
const clientBuffer = 64

// Broker fans global events out to every connected /events client.
type Broker struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan task.GlobalEvent]struct{}
}

// NewBroker creates a Broker without clients.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:  logger,
		clients: make(map[chan task.GlobalEvent]struct{}),
	}
}

// Subscribe registers a client. The returned function unregisters it and closes the
// channel.
func (b *Broker) Subscribe() (<-chan task.GlobalEvent, func()) {
	ch := make(chan task.GlobalEvent, clientBuffer)

	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends evt to every client without blocking.
func (b *Broker) Publish(evt task.GlobalEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			b.logger.Warn("event client lagging, dropping event", "type", evt.Type, "uuid", evt.UUID)
		}
	}
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
