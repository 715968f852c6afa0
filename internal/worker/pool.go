// Package worker runs tasks in parallel on a fixed number of workers.
package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tuanbt/vickyboard/internal/agent"
	"github.com/tuanbt/vickyboard/internal/task"
)

// Hooks are callbacks invoked by workers while a task runs. Both are optional.
type Hooks struct {
	// OnLine receives every output line of a task.
	OnLine func(taskID string, line agent.OutputLine)

	// OnHeartbeat is called periodically while a task runs.
	OnHeartbeat func(taskID string)
}

// Pool manages a pool of workers for parallel task execution.
type Pool struct {
	workers    []*Worker
	numWorkers int
	taskChan   chan *task.Task
	resultChan chan *TaskResult
	runner     Runner
	hooks      Hooks
	logger     *slog.Logger

	heartbeatInterval time.Duration

	activeCount atomic.Int32
	busy        atomic.Int32
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex

	runMu   sync.Mutex
	running map[string]context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(numWorkers int, runner Runner, hooks Hooks, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers:        numWorkers,
		taskChan:          make(chan *task.Task, numWorkers), // one queued task per worker
		resultChan:        make(chan *TaskResult, numWorkers*2),
		runner:            runner,
		hooks:             hooks,
		logger:            logger,
		heartbeatInterval: 5 * time.Second,
		running:           make(map[string]context.CancelFunc),
	}
}

// SetHeartbeatInterval changes how often OnHeartbeat fires. It must be called before Start.
func (p *Pool) SetHeartbeatInterval(d time.Duration) {
	p.heartbeatInterval = d
}

// Start launches all workers in the pool.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting worker pool", "num_workers", p.numWorkers)

	for i := 1; i <= p.numWorkers; i++ {
		worker := newWorker(i, p)
		p.workers = append(p.workers, worker)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			p.activeCount.Add(1)
			defer p.activeCount.Add(-1)

			if err := w.Start(ctx); err != nil {
				if ctx.Err() == nil {
					p.logger.Error("worker exited with error", "worker_id", w.ID, "error", err)
				}
			}
		}(worker)
	}

	p.logger.Info("worker pool started", "active_workers", p.numWorkers)
	return nil
}

// Stop closes the queue, waits for running tasks and closes the result channel.
// Cancel the context passed to Start first to interrupt running tasks.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")

	close(p.taskChan)
	p.wg.Wait()
	close(p.resultChan)

	p.logger.Info("worker pool stopped")
}

// Submit sends a task to the pool for processing.
// Returns false if the queue is full.
func (p *Pool) Submit(t *task.Task) bool {
	select {
	case p.taskChan <- t:
		p.logger.Debug("task submitted", "task_id", t.ID)
		return true
	default:
		p.logger.Warn("task channel full, task not submitted", "task_id", t.ID)
		return false
	}
}

// SubmitBlocking sends a task to the pool, blocking until accepted.
func (p *Pool) SubmitBlocking(ctx context.Context, t *task.Task) error {
	select {
	case p.taskChan <- t:
		p.logger.Debug("task submitted", "task_id", t.ID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel interrupts the running task with id. The task finishes with CANCEL.
// Returns false if the task is not running on this pool.
func (p *Pool) Cancel(id string) bool {
	p.runMu.Lock()
	cancel, ok := p.running[id]
	p.runMu.Unlock()
	if ok {
		p.logger.Info("cancelling running task", "task_id", id)
		cancel()
	}
	return ok
}

// Running returns the ids of the tasks currently executing, sorted.
func (p *Pool) Running() []string {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Results returns the channel for receiving task results.
func (p *Pool) Results() <-chan *TaskResult {
	return p.resultChan
}

// ActiveWorkers returns the number of currently active workers.
func (p *Pool) ActiveWorkers() int {
	return int(p.activeCount.Load())
}

// BusyWorkers returns the number of workers running a task.
func (p *Pool) BusyWorkers() int {
	return int(p.busy.Load())
}

// PendingTasks returns the number of tasks waiting in the queue.
func (p *Pool) PendingTasks() int {
	return len(p.taskChan)
}

// IsFull returns true if the task channel is full.
func (p *Pool) IsFull() bool {
	return len(p.taskChan) >= cap(p.taskChan)
}

// HasCapacity returns true if a submitted task would start without waiting behind
// another queued task.
func (p *Pool) HasCapacity() bool {
	return p.BusyWorkers()+p.PendingTasks() < p.numWorkers
}

func (p *Pool) track(id string, cancel context.CancelFunc) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	p.running[id] = cancel
}

func (p *Pool) untrack(id string) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	delete(p.running, id)
}
