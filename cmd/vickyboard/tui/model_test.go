package tui

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/dashboard"
	"github.com/tuanbt/vickyboard/internal/task"
)

const pageSize = 10

// fakeAPI serves two tasks and records page queries and actions.
type fakeAPI struct {
	ConfirmTaskFunc func(ctx context.Context, id string) (*task.Task, error)

	mu        sync.Mutex
	tasks     []task.Task
	queries   []task.Query
	confirmed []string
	poisoned  []task.PoisonedLock
	unlocked  []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tasks: []task.Task{
			{ID: "t1", DisplayName: "deploy prod", Group: "ci", Status: task.Status{State: task.StateNeedsUserValidation}},
			{ID: "t2", DisplayName: "run tests", Group: "deploy", Status: task.Status{State: task.StateNew}},
		},
		poisoned: []task.PoisonedLock{
			{ID: "l1", Name: "db", Kind: task.LockWrite, Poisoned: task.Task{ID: "t9", DisplayName: "migrate"}},
			{ID: "l2", Name: "cache", Kind: task.LockRead, Poisoned: task.Task{ID: "t8", DisplayName: "warmup"}},
		},
	}
}

func (f *fakeAPI) GetTasks(ctx context.Context, q task.Query) ([]task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.Limit == pageSize {
		f.queries = append(f.queries, q)
	}
	return append([]task.Task(nil), f.tasks...), nil
}

func (f *fakeAPI) CountTasks(ctx context.Context, q task.Query) (int, error) {
	return 25, nil
}

func (f *fakeAPI) GetTask(ctx context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) ConfirmTask(ctx context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	f.confirmed = append(f.confirmed, id)
	f.mu.Unlock()
	if f.ConfirmTaskFunc != nil {
		return f.ConfirmTaskFunc(ctx, id)
	}
	return &task.Task{ID: id, Status: task.Status{State: task.StateNew}}, nil
}

func (f *fakeAPI) CancelTask(ctx context.Context, id string) (*task.Task, error) {
	return nil, nil
}

func (f *fakeAPI) GetTaskLogs(ctx context.Context, id string) ([]string, error) {
	return []string{}, nil
}

func (f *fakeAPI) GetUser(ctx context.Context) (*task.User, error) {
	return &task.User{FullName: "Ada", Role: task.RoleAdmin}, nil
}

func (f *fakeAPI) GetWebConfig(ctx context.Context) (*task.WebConfig, error) {
	return &task.WebConfig{}, nil
}

func (f *fakeAPI) OpenStream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func (f *fakeAPI) GetPoisonedLocks(ctx context.Context) ([]task.PoisonedLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]task.PoisonedLock(nil), f.poisoned...), nil
}

func (f *fakeAPI) UnlockLock(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, id)
	for i, l := range f.poisoned {
		if l.ID == id {
			f.poisoned = append(f.poisoned[:i], f.poisoned[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) lastQuery() task.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func testSession(t *testing.T, fake *fakeAPI) *dashboard.Session {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PageSize = pageSize
	cfg.ReconnectCooldownSeconds = []int{0}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := dashboard.NewSession(context.Background(), fake, cfg, logger)
	t.Cleanup(s.Close)
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("failed to bootstrap session: %v", err)
	}
	return s
}

// settle waits for every fetch in flight and feeds the result to the model.
func settle(m Model) Model {
	s := m.Session
	s.Tasks.Wait()
	s.Count.Wait()
	s.Groups.Wait()
	s.Detail.Wait()
	s.Locks.Wait()
	return update(m, SessionChangedMsg{})
}

// update applies msg and drops the returned command, which may block on the session.
func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func keyPress(k string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func setupModel(t *testing.T, fake *fakeAPI) Model {
	t.Helper()
	m := New(context.Background(), testSession(t, fake))
	m = update(m, tea.WindowSizeMsg{Width: 120, Height: 40})
	// the first sync selects a task, the second one sees its detail
	return settle(settle(m))
}

func TestModelSelectsFirstTask(t *testing.T) {
	m := setupModel(t, newFakeAPI())

	if !m.Ready {
		t.Fatal("expected model to be ready after a window size")
	}
	if got := len(m.TaskList.Items()); got != 2 {
		t.Fatalf("expected 2 items, got %d", got)
	}
	if m.SelectedTaskID != "t1" {
		t.Errorf("expected t1 to be selected, got %q", m.SelectedTaskID)
	}
	if m.Session.Detail.ID() != "t1" {
		t.Errorf("expected detail to follow t1, got %q", m.Session.Detail.ID())
	}
	if m.Pager.TotalPages != 3 {
		t.Errorf("expected 3 pages, got %d", m.Pager.TotalPages)
	}

	m = update(m, keyPress("j"))
	if m.SelectedTaskID != "t2" || m.Session.Detail.ID() != "t2" {
		t.Errorf("expected cursor down to select t2, got %q", m.SelectedTaskID)
	}

	view := m.View()
	if !strings.Contains(view, "run tests") || !strings.Contains(view, "USER: Ada") {
		t.Errorf("expected view to show tasks and user, got:\n%s", view)
	}
}

func TestFilterKeysResetPage(t *testing.T) {
	fake := newFakeAPI()
	m := setupModel(t, fake)

	m = update(m, keyPress("n"))
	m = settle(m)
	if got := fake.lastQuery().Page(); got != 2 {
		t.Fatalf("expected page 2, got %d", got)
	}

	m = update(m, keyPress("]"))
	settle(m)
	q := fake.lastQuery()
	if q.Status != "NEEDS_USER_VALIDATION" {
		t.Errorf("expected validation filter, got %q", q.Status)
	}
	if q.Page() != 1 {
		t.Errorf("expected filter change to go back to page 1, got %d", q.Page())
	}
}

func TestMouseDragMovesSlider(t *testing.T) {
	m := setupModel(t, newFakeAPI())
	slider := m.Session.Slider
	seg := m.segmentWidth()

	m = update(m, tea.MouseMsg{X: 60, Y: sliderRow, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if !slider.Dragging() {
		t.Fatal("expected a press on the slider row to start a drag")
	}
	m = update(m, tea.MouseMsg{X: 60 - seg/2, Y: sliderRow, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft})
	m = update(m, tea.MouseMsg{X: 60 - seg, Y: sliderRow, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})

	if slider.Dragging() {
		t.Error("expected drag to end on release")
	}
	if slider.Selected() != 1 {
		t.Errorf("expected dragging one segment left to select option 1, got %d", slider.Selected())
	}
	if got := m.Session.Tasks.Query().Status; got != "NEEDS_USER_VALIDATION" {
		t.Errorf("expected filter to be applied, got %q", got)
	}
}

func TestMouseTapOpensDropdown(t *testing.T) {
	m := setupModel(t, newFakeAPI())
	slider := m.Session.Slider

	m = update(m, tea.MouseMsg{X: 60, Y: sliderRow, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	m = update(m, tea.MouseMsg{X: 61, Y: sliderRow, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	if !slider.DropdownOpen() {
		t.Fatal("expected a tap to open the dropdown")
	}
	if m.dropdownRows() != len(slider.Options()) {
		t.Errorf("expected layout to reserve %d rows, got %d", len(slider.Options()), m.dropdownRows())
	}

	// third option
	m = update(m, tea.MouseMsg{X: 5, Y: sliderRow + 3, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if slider.DropdownOpen() {
		t.Error("expected selecting an option to close the dropdown")
	}
	if got := m.Session.Tasks.Query().Status; got != "NEW" {
		t.Errorf("expected NEW filter, got %q", got)
	}
}

func TestGroupSearch(t *testing.T) {
	fake := newFakeAPI()
	m := setupModel(t, fake)
	picker := m.Session.Picker

	m = update(m, keyPress("g"))
	if m.Mode != ModeGroupSearch || !picker.Open() {
		t.Fatal("expected g to open the group search")
	}

	m = update(m, keyPress("dep"))
	if picker.Query() != "dep" {
		t.Errorf("expected query dep, got %q", picker.Query())
	}
	if got := picker.Filtered(); len(got) != 1 || got[0] != "deploy" {
		t.Errorf("expected only deploy to match, got %v", got)
	}

	m = update(m, tea.KeyMsg{Type: tea.KeyDown})
	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.Mode != ModeSelection || picker.Open() {
		t.Error("expected enter to close the group search")
	}
	if picker.Value() != "deploy" {
		t.Errorf("expected deploy to be selected, got %q", picker.Value())
	}
	settle(m)
	if got := fake.lastQuery().Group; got != "deploy" {
		t.Errorf("expected group filter deploy, got %q", got)
	}

	m = update(m, keyPress("G"))
	if picker.Value() != "" {
		t.Errorf("expected G to clear the group, got %q", picker.Value())
	}
}

func TestConfirmOnlyForValidationTasks(t *testing.T) {
	fake := newFakeAPI()
	m := setupModel(t, fake)

	next, cmd := m.Update(keyPress("c"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected confirm to start a request")
	}
	msg, ok := cmd().(ActionDoneMsg)
	if !ok {
		t.Fatalf("expected ActionDoneMsg, got %T", msg)
	}
	if msg.Err != nil || msg.TaskID != "t1" {
		t.Errorf("unexpected result: %+v", msg)
	}
	if len(fake.confirmed) != 1 || fake.confirmed[0] != "t1" {
		t.Errorf("expected t1 to be confirmed, got %v", fake.confirmed)
	}
	m = update(m, msg)
	if !strings.Contains(m.StatusLine, "confirm sent") {
		t.Errorf("expected status line, got %q", m.StatusLine)
	}

	m = update(m, keyPress("j"))
	m = settle(m)
	_, cmd = m.Update(keyPress("c"))
	if cmd != nil {
		t.Error("expected confirm to be refused for a NEW task")
	}
}

func TestQuitAndHelp(t *testing.T) {
	m := setupModel(t, newFakeAPI())

	m = update(m, keyPress("?"))
	if !m.ShowModal {
		t.Fatal("expected ? to show help")
	}
	_, cmd := m.Update(keyPress("q"))
	if cmd != nil {
		t.Error("expected q to be swallowed by the help modal")
	}
	m = update(m, tea.KeyMsg{Type: tea.KeyEsc})

	_, cmd = m.Update(keyPress("q"))
	if cmd == nil {
		t.Fatal("expected q to quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected a quit message")
	}
}

func TestLockResolverUnlocksSelected(t *testing.T) {
	fake := newFakeAPI()
	m := setupModel(t, fake)
	if !strings.Contains(m.View(), "POISONED: 2") {
		t.Errorf("expected header to count poisoned locks, got:\n%s", m.View())
	}

	m = settle(update(m, keyPress("L")))
	if !m.ShowLocks {
		t.Fatal("expected L to open the lock resolver")
	}
	if view := m.View(); !strings.Contains(view, "migrate") || !strings.Contains(view, "cache") {
		t.Errorf("expected both locks to be listed, got:\n%s", view)
	}

	m = update(m, keyPress("j"))
	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.ConfirmUnlock {
		t.Fatal("expected enter to ask for confirmation")
	}
	if !strings.Contains(m.View(), "Unlock cache?") {
		t.Errorf("expected confirmation for cache, got:\n%s", m.View())
	}

	m = update(m, keyPress("n"))
	if m.ConfirmUnlock || !m.ShowLocks {
		t.Fatal("expected n to back out of the confirmation only")
	}

	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	next, cmd := m.Update(keyPress("y"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected y to start an unlock")
	}
	msg, ok := cmd().(UnlockDoneMsg)
	if !ok {
		t.Fatalf("expected UnlockDoneMsg, got %T", msg)
	}
	if msg.Err != nil || msg.Name != "cache" {
		t.Errorf("unexpected result: %+v", msg)
	}
	if len(fake.unlocked) != 1 || fake.unlocked[0] != "l2" {
		t.Errorf("expected l2 to be unlocked, got %v", fake.unlocked)
	}

	m = settle(update(m, msg))
	if got := m.Session.Locks.List(); len(got) != 1 || got[0].ID != "l1" {
		t.Errorf("expected only l1 to remain, got %+v", got)
	}
	if m.StatusLine != "unlocked cache" {
		t.Errorf("expected status line, got %q", m.StatusLine)
	}

	m = update(m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.ShowLocks {
		t.Error("expected esc to close the lock resolver")
	}
}
