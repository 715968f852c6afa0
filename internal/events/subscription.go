package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// ErrRetriesExhausted is reported once a subscription gives up reconnecting.
var ErrRetriesExhausted = errors.New("stream reconnect attempts exhausted")

// Opener opens an authenticated text/event-stream. *api.Client implements it.
type Opener interface {
	OpenStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error)
}

// Handler receives every message of a subscription, in delivery order.
type Handler func(Message)

// State is the connection state of a subscription.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	// StateWaiting means the stream dropped and a reconnect is scheduled.
	StateWaiting
	// StateFailed means the subscription gave up; Start it again to retry.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange describes a connection state transition.
type StateChange struct {
	State   State
	Attempt int
	Err     error
	// Delay is the wait before the next attempt, set with StateWaiting.
	Delay time.Duration
}

// Backoff is the reconnect policy of a subscription.
type Backoff struct {
	// Cooldowns is the wait before each consecutive attempt; the last entry repeats.
	Cooldowns []time.Duration
	// Jitter adds up to this fraction of the cooldown at random.
	Jitter float64
	// MaxAttempts gives up after this many consecutive failed reconnects. 0 never gives up.
	MaxAttempts int
}

// DefaultBackoff is used when no policy is configured.
var DefaultBackoff = Backoff{
	Cooldowns: []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
	Jitter:    0.2,
}

// Delay returns the wait before the given 1-based consecutive attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if len(b.Cooldowns) == 0 || attempt < 1 {
		return 0
	}
	idx := attempt - 1
	if idx >= len(b.Cooldowns) {
		idx = len(b.Cooldowns) - 1
	}
	d := b.Cooldowns[idx]
	if b.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// Subscription keeps one server-push connection open while started, handing every
// message to the current handler and reconnecting per its Backoff.
type Subscription struct {
	opener  Opener
	path    string
	query   func() url.Values
	backoff Backoff
	logger  *slog.Logger

	handler atomic.Pointer[Handler]
	onState atomic.Pointer[func(StateChange)]
	retry   atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithQuery sets a function computing the query string on every (re)connect.
func WithQuery(fn func() url.Values) Option {
	return func(s *Subscription) { s.query = fn }
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) Option {
	return func(s *Subscription) { s.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscription) { s.logger = logger }
}

// WithStateHandler registers a callback for connection state changes.
func WithStateHandler(fn func(StateChange)) Option {
	return func(s *Subscription) { s.OnState(fn) }
}

// NewSubscription creates a stopped subscription to path.
func NewSubscription(opener Opener, path string, handler Handler, opts ...Option) *Subscription {
	s := &Subscription{
		opener:  opener,
		path:    path,
		query:   func() url.Values { return nil },
		backoff: DefaultBackoff,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	s.SetHandler(handler)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the subscribed path.
func (s *Subscription) Path() string {
	return s.path
}

// SetHandler swaps the message handler without touching the connection.
func (s *Subscription) SetHandler(h Handler) {
	if h == nil {
		s.handler.Store(nil)
		return
	}
	s.handler.Store(&h)
}

// OnState replaces the state change callback.
func (s *Subscription) OnState(fn func(StateChange)) {
	if fn == nil {
		s.onState.Store(nil)
		return
	}
	s.onState.Store(&fn)
}

// Start opens the connection in the background. It is a no-op while already running.
func (s *Subscription) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		select {
		case <-s.done:
			// previous run gave up, start over
		default:
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, done)
}

// Stop aborts the connection and waits for the subscription goroutine to exit.
// It must not be called from the handler.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SetEnabled starts or stops the subscription.
func (s *Subscription) SetEnabled(ctx context.Context, enabled bool) {
	if enabled {
		s.Start(ctx)
		return
	}
	s.Stop()
}

// Restart tears down the current connection and opens a new one, e.g. after the
// query inputs changed.
func (s *Subscription) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// Running reports whether the subscription goroutine is alive.
func (s *Subscription) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		s.emit(StateChange{State: StateConnecting, Attempt: attempt})

		received, err := s.connect(ctx)
		if ctx.Err() != nil {
			s.emit(StateChange{State: StateIdle})
			return
		}
		if received {
			attempt = 0
		}
		attempt++
		if err == nil {
			err = io.EOF
		}

		if s.backoff.MaxAttempts > 0 && attempt > s.backoff.MaxAttempts {
			s.logger.Error("giving up on stream", "path", s.path, "attempts", attempt-1, "error", err)
			s.emit(StateChange{State: StateFailed, Attempt: attempt - 1, Err: fmt.Errorf("%w: %v", ErrRetriesExhausted, err)})
			return
		}

		delay := s.backoff.Delay(attempt)
		if hint := time.Duration(s.retry.Load()); hint > delay {
			delay = hint
		}
		s.logger.Debug("stream disconnected", "path", s.path, "attempt", attempt, "retry_in", delay, "error", err)
		s.emit(StateChange{State: StateWaiting, Attempt: attempt, Err: err, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.emit(StateChange{State: StateIdle})
			return
		case <-timer.C:
		}
	}
}

// connect runs one connection until it ends. received reports whether any message
// arrived, which resets the backoff.
func (s *Subscription) connect(ctx context.Context) (received bool, err error) {
	body, err := s.opener.OpenStream(ctx, s.path, s.query())
	if err != nil {
		return false, err
	}
	defer body.Close()

	s.logger.Debug("stream connected", "path", s.path)
	s.emit(StateChange{State: StateConnected})

	dec := NewDecoder(body)
	for {
		msg, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			return received, err
		}
		received = true
		if msg.Retry > 0 {
			s.retry.Store(int64(msg.Retry))
		}
		if h := s.handler.Load(); h != nil {
			(*h)(msg)
		}
	}
}

func (s *Subscription) emit(change StateChange) {
	if fn := s.onState.Load(); fn != nil {
		(*fn)(change)
	}
}
