// Package dashboard wires the API client, the global event hub, the view-models and the
// filter state into one session used by the terminal UI.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tuanbt/vickyboard/internal/api"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/events"
	"github.com/tuanbt/vickyboard/internal/filter"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/viewmodel"
	"golang.org/x/sync/errgroup"
)

// ErrNotSignedIn is returned by Bootstrap when the server does not accept the token.
var ErrNotSignedIn = errors.New("not signed in")

// API is everything a session needs from the vicky API. *api.Client implements it.
type API interface {
	viewmodel.TaskAPI
	viewmodel.LockAPI
	events.Opener
	GetUser(ctx context.Context) (*task.User, error)
	GetWebConfig(ctx context.Context) (*task.WebConfig, error)
}

// Session is one signed-in dashboard.
type Session struct {
	api      API
	logger   *slog.Logger
	pageSize int

	Hub    *events.Hub
	Tasks  *viewmodel.Collection
	Count  *viewmodel.Count
	Detail *viewmodel.Detail
	Groups *viewmodel.Groups
	Logs   *viewmodel.Logs
	Locks  *viewmodel.Locks
	Slider *filter.Slider
	Picker *filter.GroupPicker

	changes     chan struct{}
	unsubscribe []func()

	mu        sync.Mutex
	user      *task.User
	webConfig *task.WebConfig
	hubState  events.StateChange
	connected bool
}

// Backoff builds the stream reconnect policy from the configuration.
func Backoff(cfg *config.Config) events.Backoff {
	return events.Backoff{
		Cooldowns:   cfg.ReconnectCooldowns(),
		Jitter:      cfg.ReconnectJitter,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}
}

// NewSession creates the view-models and starts their first fetches. Call Start to
// connect the event hub.
func NewSession(ctx context.Context, client API, cfg *config.Config, logger *slog.Logger) *Session {
	s := &Session{
		api:      client,
		logger:   logger,
		pageSize: cfg.PageSize,
		Slider:   filter.NewSlider(filter.DefaultOptions(), task.AllStatuses),
		Picker:   filter.NewGroupPicker(),
		changes:  make(chan struct{}, 1),
	}

	backoff := events.WithBackoff(Backoff(cfg))
	s.Hub = events.NewHub(client, logger.With("component", "events"), backoff, events.WithStateHandler(s.onHubState))

	q := task.Query{Limit: cfg.PageSize}
	s.Tasks = viewmodel.NewCollection(ctx, client, q, logger, s.notify)
	s.Count = viewmodel.NewCount(ctx, client, q, logger, s.notify)
	s.Detail = viewmodel.NewDetail(ctx, client, logger, s.notify)
	s.Groups = viewmodel.NewGroups(ctx, client, cfg.GroupSampleLimit, logger, s.notify)
	s.Logs = viewmodel.NewLogs(ctx, client, client, cfg.LogBufferLines, logger, s.notify, backoff)
	s.Locks = viewmodel.NewLocks(ctx, client, logger, s.notify)

	for _, h := range []viewmodel.EventHandler{s.Tasks, s.Count, s.Detail, s.Groups, s.Locks} {
		s.unsubscribe = append(s.unsubscribe, s.Hub.Subscribe(h.HandleEvent))
	}
	return s
}

// Bootstrap loads the web config and the signed-in user in parallel. Only a failure to
// load the user is fatal.
func (s *Session) Bootstrap(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wc, err := s.api.GetWebConfig(ctx)
		if err != nil {
			s.logger.Warn("failed to load web config", "error", err)
			return nil
		}
		s.mu.Lock()
		s.webConfig = wc
		s.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		user, err := s.api.GetUser(ctx)
		if err != nil {
			if api.IsUnauthorized(err) || api.IsNotFound(err) {
				return fmt.Errorf("%w: %v", ErrNotSignedIn, err)
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return ErrNotSignedIn
		}
		s.mu.Lock()
		s.user = user
		s.mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Start connects the global event hub.
func (s *Session) Start(ctx context.Context) {
	s.Hub.Start(ctx)
}

// Changes delivers a value whenever any part of the session changed. Bursts coalesce into
// one value.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// User returns the signed-in user, nil before Bootstrap.
func (s *Session) User() *task.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// WebConfig returns the identity-provider configuration if it could be loaded.
func (s *Session) WebConfig() *task.WebConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webConfig
}

// HubState returns the connection state of the event hub.
func (s *Session) HubState() events.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hubState
}

// PageSize returns the number of tasks per page.
func (s *Session) PageSize() int {
	return s.pageSize
}

// Page returns the current 1-based page.
func (s *Session) Page() int {
	return s.Tasks.Query().Page()
}

// Pages returns the number of pages for the current filter.
func (s *Session) Pages() int {
	return s.Count.Pages(s.pageSize)
}

// ApplyFilter pushes the slider and group picker selection into the task list and count.
// The list goes back to the first page.
func (s *Session) ApplyFilter() {
	s.Tasks.SetFilter(s.Slider.Value(), s.Picker.Value())
	s.Count.SetFilter(s.Tasks.Query())
	s.notify()
}

// SetPage moves the list to page, clamped to the known page range.
func (s *Session) SetPage(page int) {
	page = max(1, min(page, s.Pages()))
	s.Tasks.SetPage(page)
}

// Select shows the task with id in the detail pane and follows its log.
func (s *Session) Select(id string) {
	s.Detail.SetID(id)
	s.Logs.SetTask(id)
}

// Refresh refetches everything.
func (s *Session) Refresh() {
	s.Tasks.Refresh()
	s.Count.Refresh()
	s.Groups.Refresh()
	s.Detail.Refresh()
	s.Locks.Refresh()
}

// Reconnect refetches everything and starts the event hub again if it gave up, e.g.
// after the access token changed. A running hub is left alone.
func (s *Session) Reconnect(ctx context.Context) {
	s.Refresh()
	s.Hub.Start(ctx)
}

// Close disconnects every stream and cancels pending fetches.
func (s *Session) Close() {
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.Hub.Stop()
	s.Logs.Close()
	s.Tasks.Close()
	s.Count.Close()
	s.Detail.Close()
	s.Groups.Close()
	s.Locks.Close()
}

func (s *Session) onHubState(change events.StateChange) {
	s.mu.Lock()
	s.hubState = change
	reconnected := change.State == events.StateConnected && s.connected
	if change.State == events.StateConnected {
		s.connected = true
	}
	s.mu.Unlock()

	if reconnected {
		// Events may have been missed while disconnected.
		s.Refresh()
	}
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
