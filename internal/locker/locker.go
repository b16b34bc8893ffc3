// Package locker serializes report generation per project. Locks are
// context-aware semaphores created lazily per project and kept for the
// process lifetime, so the map is bounded by the number of distinct
// projects.
package locker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when the lock cannot be acquired within the wait
// timeout. The caller reports it instead of blocking indefinitely.
var ErrBusy = errors.New("project build lock busy")

type Manager struct {
	waitTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func New(waitTimeout time.Duration) *Manager {
	if waitTimeout <= 0 {
		waitTimeout = 10 * time.Minute
	}
	return &Manager{
		waitTimeout: waitTimeout,
		locks:       make(map[string]*semaphore.Weighted),
	}
}

func (m *Manager) lock(project string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[project]
	if !ok {
		sem = semaphore.NewWeighted(1)
		m.locks[project] = sem
	}
	return sem
}

// WithProjectLock runs fn while holding the exclusive lock for project. The
// lock is released on every exit path. Waiting is bounded by the manager's
// wait timeout; exhausting it yields ErrBusy. Locks for different projects
// are independent.
func (m *Manager) WithProjectLock(ctx context.Context, project string, fn func(context.Context) error) error {
	sem := m.lock(project)

	acquireCtx, cancel := context.WithTimeout(ctx, m.waitTimeout)
	defer cancel()

	if err := sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	defer sem.Release(1)

	return fn(ctx)
}
