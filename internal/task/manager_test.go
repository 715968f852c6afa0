package task

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func seedTask(id, name string, state State, created int64) Task {
	return Task{
		ID:          id,
		DisplayName: name,
		Status:      Status{State: state},
		Locks:       []Lock{},
		CreatedAt:   Timestamp{Time: time.Unix(created, 0)},
	}
}

func TestManagerLoadSave(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "tasks.json"))

	task1 := NewTask("task-1", "First Task", false)
	task2 := NewTask("task-2", "Second Task", true)

	if err := mgr.SaveAll([]Task{*task1, *task2}); err != nil {
		t.Fatalf("failed to save tasks: %v", err)
	}

	tasks, err := mgr.LoadAll()
	if err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}

	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "task-1" {
		t.Errorf("expected first task ID=task-1, got %s", tasks[0].ID)
	}
	if tasks[1].Status.State != StateNeedsUserValidation {
		t.Errorf("expected second task to need validation, got %s", tasks[1].Status.State)
	}
}

func TestManagerEnsureFile(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "nested", "tasks.json"))

	if err := mgr.EnsureFile(); err != nil {
		t.Fatalf("failed to ensure file: %v", err)
	}

	tasks, err := mgr.LoadAll()
	if err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("expected empty task list, got %d", len(tasks))
	}
}

func TestManagerListFiltersAndPages(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "tasks.json"))

	seed := []Task{
		seedTask("a", "A", StateNew, 100),
		seedTask("b", "B", StateRunning, 200),
		seedTask("c", "C", StateNew, 300),
		seedTask("d", "D", StateFinished, 400),
	}
	seed[0].Group = "nightly"
	seed[2].Group = "nightly"
	seed[3].Status.Result = ResultError
	if err := mgr.SaveAll(seed); err != nil {
		t.Fatalf("failed to save tasks: %v", err)
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "all newest first", query: Query{}, want: []string{"d", "c", "b", "a"}},
		{name: "status", query: Query{Status: "NEW"}, want: []string{"c", "a"}},
		{name: "finished with result", query: Query{Status: "FINISHED::ERROR"}, want: []string{"d"}},
		{name: "finished wrong result", query: Query{Status: "FINISHED::SUCCESS"}, want: []string{}},
		{name: "group", query: Query{Group: "nightly"}, want: []string{"c", "a"}},
		{name: "limit", query: Query{Limit: 2}, want: []string{"d", "c"}},
		{name: "offset", query: Query{Limit: 2, Offset: 2}, want: []string{"b", "a"}},
		{name: "offset past end", query: Query{Limit: 2, Offset: 10}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mgr.List(tt.query)
			if err != nil {
				t.Fatalf("failed to list tasks: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d tasks, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("expected task %d to be %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}

	count, err := mgr.Count(Query{Status: "NEW", Limit: 1})
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count=2 ignoring paging, got %d", count)
	}
}

func TestManagerLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "tasks.json"))

	if err := mgr.AddTask(NewTask("gated", "Gated", true)); err != nil {
		t.Fatalf("failed to add task: %v", err)
	}

	// Nothing to claim while the only task waits for validation
	next, err := mgr.ClaimNext()
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nothing to claim, got %s", next.ID)
	}

	confirmed, err := mgr.Confirm("gated")
	if err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	if confirmed.Status.State != StateNew {
		t.Errorf("expected NEW after confirm, got %s", confirmed.Status.State)
	}

	if _, err := mgr.Confirm("gated"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on second confirm, got %v", err)
	}

	claimed, err := mgr.ClaimNext()
	if err != nil {
		t.Fatalf("failed to claim: %v", err)
	}
	if claimed == nil || claimed.ID != "gated" {
		t.Fatalf("expected to claim gated, got %+v", claimed)
	}
	if claimed.ClaimedAt.IsZero() {
		t.Error("expected claimed_at to be set")
	}

	finished, err := mgr.Finish("gated", ResultSuccess)
	if err != nil {
		t.Fatalf("failed to finish: %v", err)
	}
	if finished.Status.Token() != "FINISHED::SUCCESS" {
		t.Errorf("expected FINISHED::SUCCESS, got %s", finished.Status.Token())
	}

	if _, err := mgr.Cancel("gated"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition when cancelling finished task, got %v", err)
	}
	if _, err := mgr.GetByID("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestManagerRecoverRunning(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "tasks.json"))

	running := seedTask("r", "Running", StateRunning, 1)
	running.ClaimedAt = Now()
	if err := mgr.SaveAll([]Task{running, seedTask("n", "New", StateNew, 2)}); err != nil {
		t.Fatalf("failed to save tasks: %v", err)
	}

	ids, err := mgr.RecoverRunning()
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r" {
		t.Fatalf("expected [r] recovered, got %v", ids)
	}

	got, err := mgr.GetByID("r")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status.State != StateNew || !got.ClaimedAt.IsZero() {
		t.Errorf("expected recovered task to be NEW and unclaimed, got %s claimed=%v", got.Status.State, got.ClaimedAt)
	}
}

func TestManagerConcurrentClaims(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(filepath.Join(tmpDir, "tasks.json"))

	for i, id := range []string{"t1", "t2", "t3", "t4"} {
		task := seedTask(id, id, StateNew, int64(i))
		if err := mgr.AddTask(&task); err != nil {
			t.Fatalf("failed to add task: %v", err)
		}
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := mgr.ClaimNext()
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			if next != nil {
				mu.Lock()
				claimed[next.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != 4 {
		t.Errorf("expected 4 distinct claims, got %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("task %s claimed %d times", id, n)
		}
	}
}
