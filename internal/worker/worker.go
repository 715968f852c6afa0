package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/tuanbt/vickyboard/internal/agent"
	"github.com/tuanbt/vickyboard/internal/task"
)

// Runner executes a single task. *agent.Driver implements it.
type Runner interface {
	Run(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error) {
	return f(ctx, t, sink)
}

// TaskResult is the outcome of one task run.
type TaskResult struct {
	Task     *task.Task
	WorkerID int
	Result   task.Result
	Error    error
	Duration time.Duration

	// Interrupted is set when the pool shut down while the task ran. Such a task has no
	// result and stays RUNNING until it is recovered.
	Interrupted bool
}

// Worker takes tasks from the pool queue and runs them one at a time.
type Worker struct {
	ID     int
	pool   *Pool
	logger *slog.Logger
}

func newWorker(id int, pool *Pool) *Worker {
	return &Worker{
		ID:     id,
		pool:   pool,
		logger: pool.logger.With("worker_id", id),
	}
}

// Start processes tasks until the queue is closed or ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-w.pool.taskChan:
			if !ok {
				return nil
			}
			w.pool.resultChan <- w.process(ctx, t)
		}
	}
}

func (w *Worker) process(ctx context.Context, t *task.Task) *TaskResult {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.pool.track(t.ID, cancel)
	defer w.pool.untrack(t.ID)

	w.pool.busy.Add(1)
	defer w.pool.busy.Add(-1)

	stopHeartbeat := w.heartbeat(taskCtx, t.ID)
	defer stopHeartbeat()

	w.logger.Info("running task", "task_id", t.ID, "name", t.DisplayName)
	start := time.Now()
	result, err := w.pool.runner.Run(taskCtx, t, func(line agent.OutputLine) {
		if w.pool.hooks.OnLine != nil {
			w.pool.hooks.OnLine(t.ID, line)
		}
	})

	r := &TaskResult{
		Task:        t,
		WorkerID:    w.ID,
		Result:      result,
		Error:       err,
		Duration:    time.Since(start),
		Interrupted: ctx.Err() != nil,
	}
	w.logger.Info("task done", "task_id", t.ID, "result", result, "duration", r.Duration, "interrupted", r.Interrupted)
	return r
}

// heartbeat calls the heartbeat hook periodically until the returned stop function runs.
func (w *Worker) heartbeat(ctx context.Context, id string) func() {
	if w.pool.hooks.OnHeartbeat == nil || w.pool.heartbeatInterval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.pool.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.pool.hooks.OnHeartbeat(id)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
