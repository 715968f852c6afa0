package viewmodel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// Count is the number of tasks matching a filter.
type Count struct {
	base
	api TaskAPI

	mu      sync.Mutex
	filter  task.Query
	count   int
	fetched bool
	err     error
	gen     uint64
}

// NewCount creates a count for the filter part of q and starts fetching it.
func NewCount(ctx context.Context, api TaskAPI, q task.Query, logger *slog.Logger, notify func()) *Count {
	c := &Count{api: api, filter: q.Filter()}
	c.init(ctx, logger, notify)
	c.fetch()
	return c
}

// SetFilter changes the filter and refetches when it changed. Paging is ignored.
func (c *Count) SetFilter(q task.Query) {
	q = q.Filter()
	c.mu.Lock()
	if q == c.filter {
		c.mu.Unlock()
		return
	}
	c.filter = q
	c.mu.Unlock()
	c.fetch()
}

// Value returns the count; ok is false until the first fetch succeeded.
func (c *Count) Value() (n int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.fetched
}

// Pages returns the number of pages of size pageSize, at least 1.
func (c *Count) Pages(pageSize int) int {
	n, _ := c.Value()
	if pageSize <= 0 || n <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

// Err returns the error of the last fetch.
func (c *Count) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Refresh refetches the count.
func (c *Count) Refresh() {
	c.fetch()
}

// HandleEvent refetches on TaskAdd. Updates never change the cardinality.
func (c *Count) HandleEvent(evt task.GlobalEvent) {
	if evt.Type == task.EventTaskAdd {
		c.fetch()
	}
}

func (c *Count) fetch() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	q := c.filter
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) {
		n, err := c.api.CountTasks(ctx, q)

		c.mu.Lock()
		if gen != c.gen || c.closed() {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.err = err
			c.mu.Unlock()
			c.logger.Warn("failed to count tasks", "status", q.Status, "group", q.Group, "error", err)
			c.changed()
			return
		}
		c.count = n
		c.fetched = true
		c.err = nil
		c.mu.Unlock()
		c.changed()
	})
}
