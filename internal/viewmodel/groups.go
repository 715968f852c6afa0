package viewmodel

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuanbt/vickyboard/internal/filter"
	"github.com/tuanbt/vickyboard/internal/task"
)

// DefaultGroupSampleLimit is how many of the newest tasks are scanned for group labels.
const DefaultGroupSampleLimit = 400

// Groups is the set of group labels seen in a sample of recent tasks.
type Groups struct {
	base
	api   TaskAPI
	limit int

	mu     sync.Mutex
	groups []string
	gen    uint64
}

// NewGroups creates the group list and starts fetching the sample.
func NewGroups(ctx context.Context, api TaskAPI, limit int, logger *slog.Logger, notify func()) *Groups {
	if limit <= 0 {
		limit = DefaultGroupSampleLimit
	}
	g := &Groups{api: api, limit: limit, groups: []string{}}
	g.init(ctx, logger, notify)
	g.fetch()
	return g
}

// List returns the sorted group labels.
func (g *Groups) List() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.groups)
}

// Refresh refetches the sample.
func (g *Groups) Refresh() {
	g.fetch()
}

// HandleEvent refetches on every task event since either may introduce a group.
func (g *Groups) HandleEvent(evt task.GlobalEvent) {
	switch evt.Type {
	case task.EventTaskAdd, task.EventTaskUpdate:
		g.fetch()
	}
}

func (g *Groups) fetch() {
	g.mu.Lock()
	g.gen++
	gen := g.gen
	g.mu.Unlock()

	g.spawn(func(ctx context.Context) {
		tasks, err := g.api.GetTasks(ctx, task.Query{Limit: g.limit})
		if err != nil {
			g.logger.Warn("failed to fetch task groups", "error", err)
			return
		}
		groups := ExtractGroups(tasks)

		g.mu.Lock()
		if gen != g.gen || g.closed() {
			g.mu.Unlock()
			return
		}
		changed := !slices.Equal(groups, g.groups)
		g.groups = groups
		g.mu.Unlock()
		if changed {
			g.changed()
		}
	})
}

// ExtractGroups returns the distinct non-empty groups of tasks, sorted case-insensitively.
func ExtractGroups(tasks []task.Task) []string {
	groups := make([]string, 0, len(tasks))
	for _, t := range tasks {
		groups = append(groups, t.Group)
	}
	return filter.NormalizeGroups(groups)
}
