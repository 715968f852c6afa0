package task

import (
	"errors"
	"fmt"
)

// ErrLockNotFound is returned when no lock has the requested id.
var ErrLockNotFound = errors.New("lock not found")

// poisonLocks marks every lock of a failed task as poisoned by it.
func poisonLocks(t *Task) {
	if !t.Status.IsFailed() {
		return
	}
	for i := range t.Locks {
		t.Locks[i].PoisonedBy = t.ID
	}
}

// lockBlocked reports whether any lock of candidate conflicts with a lock held by a
// running task or left poisoned by a failed one.
func lockBlocked(candidate Task, tasks []Task) bool {
	for _, want := range candidate.Locks {
		for _, other := range tasks {
			if other.ID == candidate.ID {
				continue
			}
			for _, held := range other.Locks {
				if other.Status.State != StateRunning && !held.IsPoisoned() {
					continue
				}
				if want.ConflictsWith(held) {
					return true
				}
			}
		}
	}
	return false
}

// ActiveLocks returns the locks held by running tasks plus every poisoned lock.
func (m *Manager) ActiveLocks() ([]Lock, error) {
	return m.collectLocks(func(t *Task, l Lock) bool {
		return t.Status.State == StateRunning || l.IsPoisoned()
	})
}

// PoisonedLocks returns every poisoned lock.
func (m *Manager) PoisonedLocks() ([]Lock, error) {
	return m.collectLocks(func(t *Task, l Lock) bool {
		return l.IsPoisoned()
	})
}

// PoisonedLocksDetailed returns every poisoned lock with the task that poisoned it.
func (m *Manager) PoisonedLocksDetailed() ([]PoisonedLock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Task, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
	}

	locks := []PoisonedLock{}
	for _, t := range tasks {
		for _, l := range t.Locks {
			if !l.IsPoisoned() {
				continue
			}
			poisoner, ok := byID[l.PoisonedBy]
			if !ok {
				continue
			}
			locks = append(locks, PoisonedLock{ID: l.ID, Name: l.Name, Kind: l.Kind, Poisoned: *poisoner})
		}
	}
	return locks, nil
}

// Unlock clears the poison of the lock with id and returns the task holding it.
func (m *Manager) Unlock(lockID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		for j := range tasks[i].Locks {
			if tasks[i].Locks[j].ID != lockID {
				continue
			}
			tasks[i].Locks[j].PoisonedBy = ""
			if err := m.saveAllLocked(tasks); err != nil {
				return nil, err
			}
			result := tasks[i]
			return &result, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLockNotFound, lockID)
}

func (m *Manager) collectLocks(keep func(t *Task, l Lock) bool) ([]Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks, err := m.loadAllLocked()
	if err != nil {
		return nil, err
	}
	locks := []Lock{}
	for i := range tasks {
		for _, l := range tasks[i].Locks {
			if keep(&tasks[i], l) {
				locks = append(locks, l)
			}
		}
	}
	return locks, nil
}
