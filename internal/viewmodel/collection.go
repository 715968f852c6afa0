package viewmodel

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// Collection is the current page of tasks for a query.
type Collection struct {
	base
	api TaskAPI

	mu      sync.Mutex
	query   task.Query
	tasks   []task.Task
	err     error
	loading bool
	// gen identifies the latest page request; older responses are dropped.
	gen uint64
	// seq and entries sequence the single-task refreshes of TaskUpdate events.
	seq     uint64
	entries map[string]uint64
}

// NewCollection creates a collection and starts fetching the first page of q.
func NewCollection(ctx context.Context, api TaskAPI, q task.Query, logger *slog.Logger, notify func()) *Collection {
	c := &Collection{
		api:     api,
		query:   q,
		entries: make(map[string]uint64),
	}
	c.init(ctx, logger, notify)
	c.fetch()
	return c
}

// Query returns the active query.
func (c *Collection) Query() task.Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// SetQuery replaces the query and refetches when it changed.
func (c *Collection) SetQuery(q task.Query) {
	c.mu.Lock()
	if q == c.query {
		c.mu.Unlock()
		return
	}
	c.query = q
	c.mu.Unlock()
	c.fetch()
}

// SetFilter changes the status and group filter and goes back to the first page.
func (c *Collection) SetFilter(status task.StatusFilter, group string) {
	q := c.Query()
	q.Status = status
	q.Group = group
	c.SetQuery(q.WithPage(1))
}

// SetPage moves to the given 1-based page.
func (c *Collection) SetPage(page int) {
	c.SetQuery(c.Query().WithPage(page))
}

// Refresh refetches the current page.
func (c *Collection) Refresh() {
	c.fetch()
}

// Tasks returns a copy of the current page, or nil until the first fetch succeeded.
func (c *Collection) Tasks() []task.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tasks == nil {
		return nil
	}
	return slices.Clone(c.tasks)
}

// Err returns the error of the last page fetch.
func (c *Collection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Loading reports whether a page fetch is in flight.
func (c *Collection) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// HandleEvent refetches the page on TaskAdd and refreshes a single entry on TaskUpdate.
// A TaskAdd always refetches even if the new task falls outside the page.
func (c *Collection) HandleEvent(evt task.GlobalEvent) {
	switch evt.Type {
	case task.EventTaskAdd:
		c.fetch()
	case task.EventTaskUpdate:
		c.refreshEntry(evt.UUID)
	}
}

func (c *Collection) fetch() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	q := c.query
	c.loading = true
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) {
		tasks, err := c.api.GetTasks(ctx, q)

		c.mu.Lock()
		if gen != c.gen || c.closed() {
			c.mu.Unlock()
			return
		}
		c.loading = false
		if err != nil {
			c.err = err
			c.mu.Unlock()
			c.logger.Warn("failed to fetch tasks", "status", q.Status, "group", q.Group, "offset", q.Offset, "error", err)
			c.changed()
			return
		}
		if tasks == nil {
			tasks = []task.Task{}
		}
		c.tasks = tasks
		c.err = nil
		for id := range c.entries {
			if indexOf(tasks, id) < 0 {
				delete(c.entries, id)
			}
		}
		c.mu.Unlock()
		c.changed()
	})
}

func (c *Collection) refreshEntry(id string) {
	c.mu.Lock()
	if indexOf(c.tasks, id) < 0 {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	c.entries[id] = seq
	gen := c.gen
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) {
		t, err := c.api.GetTask(ctx, id)
		if err != nil {
			c.logger.Warn("failed to refresh task", "task_id", id, "error", err)
			return
		}
		if t == nil {
			return
		}

		c.mu.Lock()
		if gen != c.gen || c.entries[id] != seq || c.closed() {
			c.mu.Unlock()
			return
		}
		i := indexOf(c.tasks, id)
		if i < 0 {
			c.mu.Unlock()
			return
		}
		c.tasks[i] = *t
		c.mu.Unlock()
		c.changed()
	})
}

func indexOf(tasks []task.Task, id string) int {
	return slices.IndexFunc(tasks, func(t task.Task) bool { return t.ID == id })
}
