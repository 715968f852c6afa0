package viewmodel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuanbt/vickyboard/internal/task"
)

// LockAPI is the part of the vicky API used to resolve poisoned locks.
type LockAPI interface {
	GetPoisonedLocks(ctx context.Context) ([]task.PoisonedLock, error)
	UnlockLock(ctx context.Context, id string) error
}

// Locks is the list of poisoned locks together with the tasks that poisoned them.
type Locks struct {
	base
	api LockAPI

	mu     sync.Mutex
	locks  []task.PoisonedLock
	err    error
	loaded bool
	gen    uint64
}

// NewLocks creates the poisoned lock list and starts fetching it.
func NewLocks(ctx context.Context, api LockAPI, logger *slog.Logger, notify func()) *Locks {
	l := &Locks{api: api}
	l.init(ctx, logger, notify)
	l.fetch()
	return l
}

// List returns the poisoned locks, nil until the first fetch completed.
func (l *Locks) List() []task.PoisonedLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		return nil
	}
	return slices.Clone(l.locks)
}

// Err returns the error of the last fetch.
func (l *Locks) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Refresh refetches the list.
func (l *Locks) Refresh() {
	l.fetch()
}

// HandleEvent refetches when a task changed, since a failing task poisons its locks.
func (l *Locks) HandleEvent(evt task.GlobalEvent) {
	if evt.Type == task.EventTaskUpdate {
		l.fetch()
	}
}

// Unlock clears the lock with id and refetches the list.
func (l *Locks) Unlock(ctx context.Context, id string) error {
	if err := l.api.UnlockLock(ctx, id); err != nil {
		l.logger.Warn("failed to unlock", "lock_id", id, "error", err)
		return fmt.Errorf("failed to unlock %s: %w", id, err)
	}
	l.fetch()
	return nil
}

func (l *Locks) fetch() {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	l.spawn(func(ctx context.Context) {
		locks, err := l.api.GetPoisonedLocks(ctx)

		l.mu.Lock()
		if gen != l.gen || l.closed() {
			l.mu.Unlock()
			return
		}
		if err != nil {
			l.logger.Warn("failed to fetch poisoned locks", "error", err)
			l.err = err
		} else {
			if locks == nil {
				locks = []task.PoisonedLock{}
			}
			l.locks, l.err, l.loaded = locks, nil, true
		}
		l.mu.Unlock()
		l.changed()
	})
}
