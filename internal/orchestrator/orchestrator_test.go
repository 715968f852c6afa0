package orchestrator_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/vickyboard/internal/agent"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/metrics"
	"github.com/tuanbt/vickyboard/internal/orchestrator"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/tasklog"
	"github.com/tuanbt/vickyboard/internal/worker"
)

// MockPublisher records published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []task.GlobalEvent
}

func (m *MockPublisher) Publish(evt task.GlobalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *MockPublisher) count(evt task.GlobalEvent) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e == evt {
			n++
		}
	}
	return n
}

type fixture struct {
	cfg    *config.MockConfig
	store  *task.Manager
	events *MockPublisher
	logs   *tasklog.Book
	o      *orchestrator.Orchestrator
}

func setupTest(t *testing.T, runner worker.Runner) *fixture {
	t.Helper()

	cfg := config.DefaultConfig().Mock
	cfg.TasksFile = filepath.Join(t.TempDir(), "tasks.json")
	cfg.NumWorkers = 1
	cfg.DispatchIntervalMillis = 10

	store := task.NewManager(cfg.TasksFile)
	if err := store.EnsureFile(); err != nil {
		t.Fatalf("failed to create tasks file: %v", err)
	}

	f := &fixture{
		cfg:    &cfg,
		store:  store,
		events: &MockPublisher{},
		logs:   tasklog.NewBook(),
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.o = orchestrator.New(f.cfg, store, runner, f.events, f.logs, metrics.New(), logger)
	return f
}

// start runs the orchestrator until the test ends.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := f.o.Run(ctx); err != nil {
			t.Logf("Run() returned: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func (f *fixture) waitState(t *testing.T, id string, want task.Status) *task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := f.store.GetByID(id)
		if err == nil && got.Status == want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := f.store.GetByID(id)
	t.Fatalf("task %s did not reach %s, last %+v", id, want, got)
	return nil
}

var succeed = worker.RunnerFunc(func(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error) {
	sink(agent.OutputLine{Source: "stdout", Line: "building " + t.DisplayName})
	sink(agent.OutputLine{Source: "stdout", Line: "done"})
	return task.ResultSuccess, nil
})

func TestRun_Lifecycle(t *testing.T) {
	f := setupTest(t, succeed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.o.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not exit after context cancellation")
	}
}

func TestRun_TaskProcessing(t *testing.T) {
	f := setupTest(t, succeed)
	f.start(t)

	tk := task.NewTask("", "unit test", false)
	if err := f.o.Create(tk); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if tk.ID == "" {
		t.Fatal("expected an id to be generated")
	}

	done := f.waitState(t, tk.ID, task.Status{State: task.StateFinished, Result: task.ResultSuccess})
	if done.ClaimedAt.IsZero() || done.FinishedAt.IsZero() {
		t.Errorf("expected claim and finish timestamps, got %+v", done)
	}

	lines, closed, _ := f.logs.Lines(tk.ID, 0)
	if len(lines) != 2 || lines[0] != "building unit test" {
		t.Errorf("expected task output in the log, got %v", lines)
	}
	if !closed {
		t.Error("expected the log to be closed after the task finished")
	}

	if n := f.events.count(task.TaskAdded()); n != 1 {
		t.Errorf("expected 1 TaskAdd, got %d", n)
	}
	// Claimed and finished.
	if n := f.events.count(task.TaskUpdated(tk.ID)); n != 2 {
		t.Errorf("expected 2 TaskUpdate events, got %d", n)
	}
}

func TestValidationGate(t *testing.T) {
	f := setupTest(t, succeed)
	f.start(t)

	tk := task.NewTask("gated", "needs approval", true)
	f.o.Create(tk)

	time.Sleep(100 * time.Millisecond)
	got, _ := f.store.GetByID("gated")
	if got.Status.State != task.StateNeedsUserValidation {
		t.Fatalf("expected task to wait for validation, got %s", got.Status)
	}

	if _, err := f.o.Confirm("gated"); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	f.waitState(t, "gated", task.Status{State: task.StateFinished, Result: task.ResultSuccess})

	if _, err := f.o.Confirm("gated"); err == nil {
		t.Error("expected confirming a finished task to fail")
	}
}

func TestCancelRunningTask(t *testing.T) {
	started := make(chan struct{})
	block := worker.RunnerFunc(func(ctx context.Context, t *task.Task, sink func(agent.OutputLine)) (task.Result, error) {
		close(started)
		<-ctx.Done()
		return task.ResultCancel, ctx.Err()
	})
	f := setupTest(t, block)
	f.start(t)

	f.o.Create(task.NewTask("long", "long", false))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}

	if _, err := f.o.Cancel("long"); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}
	f.waitState(t, "long", task.Status{State: task.StateFinished, Result: task.ResultCancel})

	deadline := time.Now().Add(2 * time.Second)
	for len(f.o.Pool().Running()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if running := f.o.Pool().Running(); len(running) != 0 {
		t.Errorf("expected the process to be stopped, still running %v", running)
	}

	if _, err := f.o.Cancel("long"); err == nil {
		t.Error("expected cancelling a finished task to fail")
	}
}

func TestRecoverRunningOnStartup(t *testing.T) {
	f := setupTest(t, succeed)
	f.cfg.RecoverRunningOnStartup = true

	stuck := task.NewTask("stuck-1", "stuck", false)
	stuck.Status = task.Status{State: task.StateRunning}
	stuck.ClaimedAt = task.Now()
	if err := f.store.AddTask(stuck); err != nil {
		t.Fatalf("failed to add task: %v", err)
	}

	f.start(t)

	// Recovered to NEW, then claimed and run again.
	f.waitState(t, "stuck-1", task.Status{State: task.StateFinished, Result: task.ResultSuccess})
}
