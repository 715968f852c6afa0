// Package orchestrator schedules the tasks of the development backend: it claims NEW
// tasks, runs them on the worker pool, records their results and publishes a global
// event for every change.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tuanbt/vickyboard/internal/agent"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/metrics"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/tasklog"
	"github.com/tuanbt/vickyboard/internal/worker"
)

// Publisher receives the global events emitted on task changes.
type Publisher interface {
	Publish(evt task.GlobalEvent)
}

// Orchestrator manages the task lifecycle of the development backend.
type Orchestrator struct {
	config      *config.MockConfig
	taskManager *task.Manager
	workerPool  *worker.Pool
	runner      worker.Runner
	events      Publisher
	logs        *tasklog.Book
	metrics     *metrics.Metrics
	logger      *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New initializes an Orchestrator. m may be nil.
func New(cfg *config.MockConfig, store *task.Manager, runner worker.Runner, events Publisher, logs *tasklog.Book, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		config:      cfg,
		taskManager: store,
		runner:      runner,
		events:      events,
		logs:        logs,
		metrics:     m,
		logger:      logger,
	}
	o.workerPool = worker.NewPool(cfg.NumWorkers, worker.RunnerFunc(o.run), worker.Hooks{
		OnLine: func(id string, line agent.OutputLine) {
			o.logs.Append(id, line.Line)
		},
		OnHeartbeat: func(id string) {
			if err := o.taskManager.Heartbeat(id); err != nil {
				o.logger.Warn("failed to record heartbeat", "task_id", id, "error", err)
			}
		},
	}, logger)
	return o
}

// Pool returns the worker pool.
func (o *Orchestrator) Pool() *worker.Pool {
	return o.workerPool
}

// Run starts the orchestrator and blocks until context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		"num_workers", o.config.NumWorkers,
		"tasks_file", o.config.TasksFile,
	)

	if o.config.RecoverRunningOnStartup {
		recovered, err := o.taskManager.RecoverRunning()
		if err != nil {
			o.logger.Error("failed to recover running tasks", "error", err)
		} else if len(recovered) > 0 {
			for _, id := range recovered {
				o.logs.Reset(id)
			}
			o.logger.Info("recovered stuck tasks", "count", len(recovered))
		}
	}
	o.logSummary(slog.LevelInfo, "task status summary")

	if err := o.workerPool.Start(ctx); err != nil {
		return err
	}

	o.wg.Add(1)
	go o.dispatchTasks(ctx)

	o.wg.Add(1)
	go o.handleResults()

	<-ctx.Done()
	o.logger.Info("shutdown signal received")

	return o.Shutdown()
}

// Create stores a new task and announces it. A missing id is generated.
func (o *Orchestrator) Create(t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := o.taskManager.AddTask(t); err != nil {
		return err
	}
	o.metrics.TaskCreated()
	o.logger.Info("task created", "task_id", t.ID, "name", t.DisplayName, "state", t.Status.State)
	o.events.Publish(task.TaskAdded())
	return nil
}

// Confirm moves a task awaiting validation to NEW.
func (o *Orchestrator) Confirm(id string) (*task.Task, error) {
	t, err := o.taskManager.Confirm(id)
	if err != nil {
		return nil, err
	}
	o.logger.Info("task confirmed", "task_id", id)
	o.events.Publish(task.TaskUpdated(id))
	return t, nil
}

// Cancel finishes a task with CANCEL and stops its process if it is running.
func (o *Orchestrator) Cancel(id string) (*task.Task, error) {
	t, err := o.taskManager.Cancel(id)
	if err != nil {
		return nil, err
	}
	o.workerPool.Cancel(id)
	o.logs.Close(id)
	o.logger.Info("task cancelled", "task_id", id)
	o.events.Publish(task.TaskUpdated(id))
	return t, nil
}

// Unlock clears a poisoned lock so tasks waiting on its name can be claimed again.
func (o *Orchestrator) Unlock(lockID string) error {
	owner, err := o.taskManager.Unlock(lockID)
	if err != nil {
		return err
	}
	o.logger.Info("lock cleared", "lock_id", lockID, "task_id", owner.ID)
	o.events.Publish(task.TaskUpdated(owner.ID))
	return nil
}

// run executes a claimed task unless it was cancelled while queued.
func (o *Orchestrator) run(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error) {
	current, err := o.taskManager.GetByID(t.ID)
	if err != nil {
		return task.ResultError, err
	}
	if current.Status.IsFinished() {
		return current.Status.Result, nil
	}
	return o.runner.Run(ctx, t, sink)
}

// dispatchTasks claims NEW tasks while the pool has idle workers.
func (o *Orchestrator) dispatchTasks(ctx context.Context) {
	defer o.wg.Done()

	interval := time.Duration(o.config.DispatchIntervalMillis) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	o.logger.Info("task dispatcher started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("task dispatcher stopping")
			return
		case <-ticker.C:
			for o.workerPool.HasCapacity() {
				if !o.dispatchNext() {
					break
				}
			}
		}
	}
}

// dispatchNext claims and submits one task. Returns false when nothing was dispatched.
func (o *Orchestrator) dispatchNext() bool {
	t, err := o.taskManager.ClaimNext()
	if err != nil {
		o.logger.Error("failed to claim task", "error", err)
		return false
	}
	if t == nil {
		return false
	}
	o.logs.Reset(t.ID)
	o.events.Publish(task.TaskUpdated(t.ID))

	if !o.workerPool.Submit(t) {
		o.logger.Warn("failed to submit task to pool", "task_id", t.ID)
		o.finish(t.ID, task.ResultError, 0)
		return false
	}

	o.logger.Info("task dispatched", "task_id", t.ID, "name", t.DisplayName)
	return true
}

// handleResults processes results from the worker pool until it is stopped.
func (o *Orchestrator) handleResults() {
	defer o.wg.Done()

	o.logger.Info("result handler started")
	for result := range o.workerPool.Results() {
		o.processResult(result)
	}
	o.logger.Info("result handler stopped")
}

func (o *Orchestrator) processResult(result *worker.TaskResult) {
	t := result.Task
	if result.Interrupted {
		o.logger.Warn("task interrupted by shutdown", "task_id", t.ID)
		return
	}
	if result.Error != nil {
		o.logger.Warn("task failed", "task_id", t.ID, "result", result.Result, "error", result.Error)
	}
	o.finish(t.ID, result.Result, result.Duration)
	o.logSummary(slog.LevelDebug, "task status summary")
}

func (o *Orchestrator) finish(id string, result task.Result, elapsed time.Duration) {
	defer o.logs.Close(id)

	if _, err := o.taskManager.Finish(id, result); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			// Cancelled while running; Cancel already announced it.
			o.metrics.TaskFinished(task.ResultCancel, elapsed)
			return
		}
		o.logger.Error("failed to record task result", "task_id", id, "error", err)
		return
	}
	o.metrics.TaskFinished(result, elapsed)
	o.logger.Info("task finished", "task_id", id, "result", result, "duration", elapsed)
	o.events.Publish(task.TaskUpdated(id))
}

// Shutdown stops the pool and waits for the dispatcher and result handler.
func (o *Orchestrator) Shutdown() error {
	var err error
	o.stopOnce.Do(func() {
		o.logger.Info("shutting down orchestrator")
		o.workerPool.Stop()

		done := make(chan struct{})
		go func() {
			o.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			o.logger.Info("orchestrator shutdown complete")
		case <-time.After(30 * time.Second):
			err = fmt.Errorf("orchestrator shutdown timed out")
			o.logger.Warn("shutdown timeout, forcing exit")
		}
		o.logSummary(slog.LevelInfo, "final task status")
	})
	return err
}

func (o *Orchestrator) logSummary(level slog.Level, msg string) {
	counts, err := o.taskManager.CountByState()
	if err != nil {
		return
	}
	o.logger.Log(context.Background(), level, msg,
		"needs_validation", counts[task.StateNeedsUserValidation],
		"new", counts[task.StateNew],
		"running", counts[task.StateRunning],
		"finished", counts[task.StateFinished],
	)
}
