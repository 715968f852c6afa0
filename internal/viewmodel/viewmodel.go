// Package viewmodel keeps client-side caches of vicky server state in sync with the global
// event stream. View-models are safe for concurrent use; every change is reported through
// the notify callback passed at construction.
package viewmodel

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// TaskAPI is the part of the vicky API the view-models read from. *api.Client implements it.
type TaskAPI interface {
	GetTasks(ctx context.Context, q task.Query) ([]task.Task, error)
	CountTasks(ctx context.Context, q task.Query) (int, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ConfirmTask(ctx context.Context, id string) (*task.Task, error)
	CancelTask(ctx context.Context, id string) (*task.Task, error)
	GetTaskLogs(ctx context.Context, id string) ([]string, error)
}

// EventHandler is implemented by view-models that react to global events.
type EventHandler interface {
	HandleEvent(evt task.GlobalEvent)
}

// base runs background fetches bound to the view-model lifetime.
type base struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	notify func()
	wg     sync.WaitGroup
}

func (b *base) init(ctx context.Context, logger *slog.Logger, notify func()) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.logger = logger
	b.notify = notify
}

// spawn runs fn on its own goroutine unless the view-model was closed.
func (b *base) spawn(fn func(ctx context.Context)) {
	if b.ctx.Err() != nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

func (b *base) changed() {
	if b.notify != nil {
		b.notify()
	}
}

// Wait blocks until every fetch started so far has been applied or dropped.
func (b *base) Wait() {
	b.wg.Wait()
}

// Close cancels in-flight fetches and waits for them. Results arriving afterwards are
// discarded.
func (b *base) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *base) closed() bool {
	return b.ctx.Err() != nil
}
