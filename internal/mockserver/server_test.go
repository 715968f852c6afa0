package mockserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tuanbt/vickyboard/internal/api"
	"github.com/tuanbt/vickyboard/internal/auth"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/events"
	"github.com/tuanbt/vickyboard/internal/mockserver"
	"github.com/tuanbt/vickyboard/internal/task"
)

type testBackend struct {
	backend *mockserver.Backend
	server  *httptest.Server
	token   string
	client  *api.Client
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func setupBackend(t *testing.T, command ...string) *testBackend {
	t.Helper()

	cfg := config.DefaultConfig().Mock
	dir := t.TempDir()
	cfg.TasksFile = filepath.Join(dir, "tasks.json")
	cfg.DispatchIntervalMillis = 10
	cfg.NumWorkers = 1
	if len(command) > 0 {
		cfg.TaskCommand = command
	}

	b, err := mockserver.NewBackend(&cfg, testLogger(), dir)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	b.Server.SetKeepAlive(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Orchestrator.Run(ctx)
	}()

	ts := httptest.NewServer(b.Server.Handler())
	t.Cleanup(func() {
		cancel()
		ts.CloseClientConnections()
		ts.Close()
		wg.Wait()
	})

	token, _, err := b.Auth.Issue("admin")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	client, err := api.New(ts.URL+mockserver.APIPrefix, auth.StaticToken(token))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return &testBackend{backend: b, server: ts, token: token, client: client}
}

func (tb *testBackend) create(t *testing.T, req mockserver.CreateRequest) *task.Task {
	t.Helper()
	body, _ := json.Marshal(req)
	r, _ := http.NewRequest(http.MethodPost, tb.server.URL+"/api/tasks", bytes.NewReader(body))
	r.Header.Set("Authorization", "Bearer "+tb.token)
	resp, err := http.DefaultClient.Do(r)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created task.Task
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	return &created
}

func (tb *testBackend) waitStatus(t *testing.T, id string, want task.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got, err := tb.client.GetTask(context.Background(), id)
		if err == nil && got != nil && got.Status == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach %s", id, want)
}

func TestAuthRequired(t *testing.T) {
	tb := setupBackend(t)

	resp, err := http.Get(tb.server.URL + "/api/tasks")
	if err != nil {
		t.Fatalf("failed to request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	anonymous, _ := api.New(tb.server.URL+mockserver.APIPrefix, auth.StaticToken(""))
	wc, err := anonymous.GetWebConfig(context.Background())
	if err != nil {
		t.Fatalf("failed to get web config: %v", err)
	}
	if wc.ClientID != "vicky-dashboard" {
		t.Errorf("expected configured client id, got %+v", wc)
	}

	user, err := tb.client.GetUser(context.Background())
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if user.FullName != "admin" || user.Role != task.RoleAdmin {
		t.Errorf("unexpected user: %+v", user)
	}
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "echo ok")
	ctx := context.Background()

	gated := tb.create(t, mockserver.CreateRequest{DisplayName: "deploy", Group: "prod", NeedsValidation: true})
	tb.create(t, mockserver.CreateRequest{DisplayName: "test", Group: "ci"})

	tasks, err := tb.client.GetTasks(ctx, task.Query{Status: "NEEDS_USER_VALIDATION"})
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != gated.ID {
		t.Errorf("expected only the gated task, got %+v", tasks)
	}

	n, err := tb.client.CountTasks(ctx, task.Query{Group: "ci"})
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 ci task, got %d", n)
	}

	if _, err := tb.client.ConfirmTask(ctx, gated.ID); err != nil {
		t.Fatalf("failed to confirm: %v", err)
	}
	tb.waitStatus(t, gated.ID, task.Status{State: task.StateFinished, Result: task.ResultSuccess})

	_, err = tb.client.CancelTask(ctx, gated.ID)
	var httpErr *api.HTTPError
	if err == nil || !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 when cancelling a finished task, got %v", err)
	}

	if _, err := tb.client.GetTask(ctx, "nope"); !api.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := tb.client.GetTasks(ctx, task.Query{Status: "BOGUS"}); err == nil {
		t.Error("expected invalid status filter to be rejected")
	}
}

func TestLocksOverAPI(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "exit 1")
	ctx := context.Background()

	failed := tb.create(t, mockserver.CreateRequest{
		DisplayName: "migrate",
		Locks:       []task.Lock{{Name: "db", Kind: task.LockWrite}},
	})
	tb.waitStatus(t, failed.ID, task.Status{State: task.StateFinished, Result: task.ResultError})

	poisoned, err := tb.client.GetPoisonedLocks(ctx)
	if err != nil {
		t.Fatalf("failed to list poisoned locks: %v", err)
	}
	if len(poisoned) != 1 || poisoned[0].Name != "db" || poisoned[0].Poisoned.ID != failed.ID {
		t.Fatalf("expected db poisoned by %s, got %+v", failed.ID, poisoned)
	}

	active, err := tb.client.GetLocks(ctx, false)
	if err != nil {
		t.Fatalf("failed to list active locks: %v", err)
	}
	if len(active) != 1 || active[0].PoisonedBy != failed.ID {
		t.Errorf("expected the poisoned lock to be active, got %+v", active)
	}

	if err := tb.client.UnlockLock(ctx, poisoned[0].ID); err != nil {
		t.Fatalf("failed to unlock: %v", err)
	}
	locks, err := tb.client.GetLocks(ctx, true)
	if err != nil {
		t.Fatalf("failed to list poisoned locks: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("expected no poisoned locks after unlock, got %+v", locks)
	}

	if err := tb.client.UnlockLock(ctx, "nope"); !api.IsNotFound(err) {
		t.Errorf("expected not found for an unknown lock, got %v", err)
	}
}

func TestCancelRunningOverAPI(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "echo started; sleep 30")
	ctx := context.Background()

	created := tb.create(t, mockserver.CreateRequest{DisplayName: "long"})
	tb.waitStatus(t, created.ID, task.Status{State: task.StateRunning})

	cancelled, err := tb.client.CancelTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}
	if cancelled.Status.Result != task.ResultCancel {
		t.Errorf("expected CANCEL, got %s", cancelled.Status)
	}
	tb.waitStatus(t, created.ID, task.Status{State: task.StateFinished, Result: task.ResultCancel})
}

func TestLogStreamOverAPI(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "echo one; echo two; echo three")
	created := tb.create(t, mockserver.CreateRequest{DisplayName: "logs"})
	tb.waitStatus(t, created.ID, task.Status{State: task.StateFinished, Result: task.ResultSuccess})

	var (
		mu    sync.Mutex
		lines []string
	)
	stream := events.NewLogStream(tb.client, created.ID, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})
	stream.Start(context.Background())
	defer stream.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 streamed lines, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	got := strings.Join(lines, ",")
	mu.Unlock()
	if got != "one,two,three" {
		t.Errorf("expected one,two,three, got %s", got)
	}

	snapshot, err := tb.client.GetTaskLogs(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("failed to get logs: %v", err)
	}
	if len(snapshot) != 3 {
		t.Errorf("expected 3 lines in snapshot, got %v", snapshot)
	}
}

func TestLogStreamStartOffset(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "echo a; echo b; echo c")
	created := tb.create(t, mockserver.CreateRequest{DisplayName: "offset"})
	tb.waitStatus(t, created.ID, task.Status{State: task.StateFinished, Result: task.ResultSuccess})

	r, _ := http.NewRequest(http.MethodGet, tb.server.URL+"/api/tasks/"+created.ID+"/logs?start=2", nil)
	r.Header.Set("Authorization", "Bearer "+tb.token)
	r.Header.Set("Accept", "text/event-stream")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := http.DefaultClient.Do(r.WithContext(ctx))
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	msg, err := events.NewDecoder(resp.Body).Next()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if msg.Data != "c" || msg.ID != "3" {
		t.Errorf("expected line c with id 3, got %+v", msg)
	}
}

func TestEventsOverAPI(t *testing.T) {
	tb := setupBackend(t, "sh", "-c", "echo ok")

	hub := events.NewHub(tb.client, testLogger())
	received := make(chan task.GlobalEvent, 10)
	hub.Subscribe(func(evt task.GlobalEvent) { received <- evt })

	connected := make(chan struct{})
	var once sync.Once
	hub.OnState(func(c events.StateChange) {
		if c.State == events.StateConnected {
			once.Do(func() { close(connected) })
		}
	})
	hub.Start(context.Background())
	defer hub.Stop()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not connect")
	}

	created := tb.create(t, mockserver.CreateRequest{DisplayName: "evented"})

	want := map[task.GlobalEvent]bool{task.TaskAdded(): false, task.TaskUpdated(created.ID): false}
	deadline := time.After(5 * time.Second)
	for remaining := len(want); remaining > 0; {
		select {
		case evt := <-received:
			if seen, ok := want[evt]; ok && !seen {
				want[evt] = true
				remaining--
			}
		case <-deadline:
			t.Fatalf("missing events: %v", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	tb := setupBackend(t)
	tb.create(t, mockserver.CreateRequest{DisplayName: "counted", NeedsValidation: true})

	resp, err := http.Get(tb.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("failed to get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), "vicky_tasks_created_total 1") {
		t.Error("expected created task counter")
	}
	if !strings.Contains(string(body), `route="/api/tasks"`) {
		t.Error("expected request metrics by route template")
	}
}
