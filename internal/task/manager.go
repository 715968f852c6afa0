package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTaskNotFound is returned when no task has the requested id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned when a task cannot move to the requested state.
	ErrInvalidTransition = errors.New("invalid task state transition")
)

// Manager persists tasks in a JSON file. It backs the development backend.
type Manager struct {
	filePath string
	mu       sync.RWMutex
}

// NewManager creates a new task manager for the given file path.
func NewManager(filePath string) *Manager {
	return &Manager{
		filePath: filePath,
	}
}

// EnsureFile creates the tasks file if it doesn't exist.
func (m *Manager) EnsureFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.filePath); !os.IsNotExist(err) {
		return nil
	}

	if dir := filepath.Dir(m.filePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(m.filePath, []byte("[]"), 0644); err != nil {
		return fmt.Errorf("failed to create tasks file: %w", err)
	}
	return nil
}

// LoadAll reads all tasks from the file.
func (m *Manager) LoadAll() ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.loadAllLocked()
}

// SaveAll replaces the file contents with tasks.
func (m *Manager) SaveAll(tasks []Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saveAllLocked(tasks)
}

// List returns the tasks matching q, newest first, paged by q.Offset and q.Limit.
// A non-positive limit returns everything after the offset.
func (m *Manager) List(q Query) ([]Task, error) {
	tasks, err := m.LoadAll()
	if err != nil {
		return nil, err
	}

	matched := filterTasks(tasks, q)
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt.Time) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt.Time)
		}
		return matched[i].ID < matched[j].ID
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Task{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Count returns the number of tasks matching the filter part of q.
func (m *Manager) Count(q Query) (int, error) {
	tasks, err := m.LoadAll()
	if err != nil {
		return 0, err
	}
	return len(filterTasks(tasks, q)), nil
}

// CountByState returns the count of tasks in each state.
func (m *Manager) CountByState() (map[State]int, error) {
	tasks, err := m.LoadAll()
	if err != nil {
		return nil, err
	}

	counts := make(map[State]int)
	for _, t := range tasks {
		counts[t.Status.State]++
	}
	return counts, nil
}

// GetByID returns a task by its ID.
func (m *Manager) GetByID(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		if tasks[i].ID == id {
			result := tasks[i]
			return &result, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// AddTask adds a new task to the file.
func (m *Manager) AddTask(t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return err
	}

	for _, existing := range tasks {
		if existing.ID == t.ID {
			return fmt.Errorf("task with ID %s already exists", t.ID)
		}
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = Now()
	}
	if t.Locks == nil {
		t.Locks = []Lock{}
	}
	for i := range t.Locks {
		if t.Locks[i].ID == "" {
			t.Locks[i].ID = uuid.NewString()
		}
	}
	tasks = append(tasks, *t)
	return m.saveAllLocked(tasks)
}

// Confirm moves a task awaiting validation to NEW.
func (m *Manager) Confirm(id string) (*Task, error) {
	return m.update(id, func(t *Task) error {
		if t.Status.State != StateNeedsUserValidation {
			return fmt.Errorf("%w: cannot confirm task in state %s", ErrInvalidTransition, t.Status.State)
		}
		t.Status = Status{State: StateNew}
		return nil
	})
}

// Cancel finishes an unfinished task with the CANCEL result.
func (m *Manager) Cancel(id string) (*Task, error) {
	return m.update(id, func(t *Task) error {
		if t.Status.IsFinished() {
			return fmt.Errorf("%w: task already finished", ErrInvalidTransition)
		}
		t.Status = Status{State: StateFinished, Result: ResultCancel}
		t.FinishedAt = Now()
		poisonLocks(t)
		return nil
	})
}

// ClaimNext marks the oldest NEW task as RUNNING and returns it. Tasks whose locks
// conflict with a running task or a poisoned lock are passed over.
// Returns nil if no task can run.
func (m *Manager) ClaimNext() (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}

	best := -1
	for i := range tasks {
		if tasks[i].Status.State != StateNew || lockBlocked(tasks[i], tasks) {
			continue
		}
		if best == -1 || tasks[i].CreatedAt.Before(tasks[best].CreatedAt.Time) {
			best = i
		}
	}
	if best == -1 {
		return nil, nil
	}

	now := Now()
	tasks[best].Status = Status{State: StateRunning}
	tasks[best].ClaimedAt = now
	tasks[best].LastHeartbeat = now
	if err := m.saveAllLocked(tasks); err != nil {
		return nil, err
	}

	result := tasks[best]
	return &result, nil
}

// Finish records the result of a running task. Cancelled tasks keep their result.
func (m *Manager) Finish(id string, result Result) (*Task, error) {
	return m.update(id, func(t *Task) error {
		if t.Status.IsFinished() {
			return fmt.Errorf("%w: task already finished with %s", ErrInvalidTransition, t.Status.Result)
		}
		t.Status = Status{State: StateFinished, Result: result}
		t.FinishedAt = Now()
		poisonLocks(t)
		return nil
	})
}

// Heartbeat refreshes the last heartbeat of a task.
func (m *Manager) Heartbeat(id string) error {
	_, err := m.update(id, func(t *Task) error {
		t.LastHeartbeat = Now()
		return nil
	})
	return err
}

// RecoverRunning resets all RUNNING tasks to NEW.
// Returns the ids of the recovered tasks.
func (m *Manager) RecoverRunning() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}

	var ids []string
	for i := range tasks {
		if tasks[i].Status.State == StateRunning {
			tasks[i].Status = Status{State: StateNew}
			tasks[i].ClaimedAt = Timestamp{}
			tasks[i].LastHeartbeat = Timestamp{}
			ids = append(ids, tasks[i].ID)
		}
	}

	if len(ids) > 0 {
		if err := m.saveAllLocked(tasks); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// update applies fn to the task with id under the write lock and persists the result.
func (m *Manager) update(id string, fn func(*Task) error) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		if err := fn(&tasks[i]); err != nil {
			return nil, err
		}
		if err := m.saveAllLocked(tasks); err != nil {
			return nil, err
		}
		result := tasks[i]
		return &result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// saveAllLocked writes tasks without acquiring the lock (caller must hold lock).
func (m *Manager) saveAllLocked(tasks []Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := m.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, m.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// loadAllLocked reads tasks without acquiring lock (caller must hold lock).
func (m *Manager) loadAllLocked() ([]Task, error) {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Task{}, nil
		}
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse tasks file: %w", err)
	}
	return tasks, nil
}

func filterTasks(tasks []Task, q Query) []Task {
	matched := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if !q.Status.Matches(t.Status) {
			continue
		}
		if q.Group != "" && t.Group != q.Group {
			continue
		}
		matched = append(matched, t)
	}
	return matched
}

// NewTask creates a task awaiting a worker. Tasks created with needsValidation wait for a
// user confirmation first.
func NewTask(id, displayName string, needsValidation bool) *Task {
	state := StateNew
	if needsValidation {
		state = StateNeedsUserValidation
	}
	return &Task{
		ID:          id,
		DisplayName: displayName,
		Status:      Status{State: state},
		Locks:       []Lock{},
		CreatedAt:   NewTimestamp(time.Now()),
	}
}
