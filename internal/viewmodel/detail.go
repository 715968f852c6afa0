package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// Inline messages shown when an action fails.
const (
	ConfirmFailedMessage = "Could not confirm task"
	CancelFailedMessage  = "Could not cancel task"
)

// ErrNoTask is returned by actions while no task is selected.
var ErrNoTask = errors.New("no task selected")

// Detail is the single selected task.
type Detail struct {
	base
	api TaskAPI

	mu        sync.Mutex
	id        string
	task      *task.Task
	err       error
	actionErr string
	gen       uint64
}

// NewDetail creates a detail view-model with no task selected.
func NewDetail(ctx context.Context, api TaskAPI, logger *slog.Logger, notify func()) *Detail {
	d := &Detail{api: api}
	d.init(ctx, logger, notify)
	return d
}

// SetID selects a task. An empty id clears the selection.
func (d *Detail) SetID(id string) {
	d.mu.Lock()
	if id == d.id {
		d.mu.Unlock()
		return
	}
	d.id = id
	d.task = nil
	d.err = nil
	d.actionErr = ""
	d.gen++
	d.mu.Unlock()

	if id == "" {
		d.changed()
		return
	}
	d.fetch()
}

// ID returns the selected id.
func (d *Detail) ID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.id
}

// Task returns the selected task, or nil while unfetched.
func (d *Detail) Task() *task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.task == nil {
		return nil
	}
	t := *d.task
	return &t
}

// Err returns the error of the last fetch.
func (d *Detail) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// ActionError returns the inline message of the last failed action, or "".
func (d *Detail) ActionError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.actionErr
}

// Refresh refetches the selected task.
func (d *Detail) Refresh() {
	d.fetch()
}

// HandleEvent refetches on a TaskUpdate for the selected id.
func (d *Detail) HandleEvent(evt task.GlobalEvent) {
	if evt.Type != task.EventTaskUpdate {
		return
	}
	d.mu.Lock()
	match := d.id != "" && evt.UUID == d.id
	d.mu.Unlock()
	if match {
		d.fetch()
	}
}

// Confirm confirms the selected task. On failure the inline message is set and the error
// is returned.
func (d *Detail) Confirm(ctx context.Context) error {
	return d.act(ctx, d.api.ConfirmTask, ConfirmFailedMessage)
}

// Cancel cancels the selected task.
func (d *Detail) Cancel(ctx context.Context) error {
	return d.act(ctx, d.api.CancelTask, CancelFailedMessage)
}

func (d *Detail) act(ctx context.Context, call func(context.Context, string) (*task.Task, error), failure string) error {
	d.mu.Lock()
	id := d.id
	d.actionErr = ""
	d.mu.Unlock()
	if id == "" {
		return ErrNoTask
	}

	t, err := call(ctx, id)

	d.mu.Lock()
	if id != d.id {
		d.mu.Unlock()
		return err
	}
	if err != nil {
		d.actionErr = failure
		d.mu.Unlock()
		d.logger.Warn("task action failed", "task_id", id, "action", failure, "error", err)
		d.changed()
		return err
	}
	if t == nil {
		d.mu.Unlock()
		// Empty answer; the TaskUpdate event will follow but fetch now anyway.
		d.fetch()
		return nil
	}
	d.gen++
	d.task = t
	d.mu.Unlock()
	d.changed()
	return nil
}

func (d *Detail) fetch() {
	d.mu.Lock()
	id := d.id
	if id == "" {
		d.mu.Unlock()
		return
	}
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.spawn(func(ctx context.Context) {
		t, err := d.api.GetTask(ctx, id)

		d.mu.Lock()
		if gen != d.gen || d.closed() {
			d.mu.Unlock()
			return
		}
		if err != nil {
			d.err = err
			d.mu.Unlock()
			d.logger.Warn("failed to fetch task", "task_id", id, "error", err)
			d.changed()
			return
		}
		d.task = t
		d.err = nil
		d.mu.Unlock()
		d.changed()
	})
}
