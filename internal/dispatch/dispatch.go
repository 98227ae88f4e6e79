// Package dispatch runs expensive generation work in the background with a
// bounded worker pool. Each task is identified by its (user, cache key) pair,
// duplicate requests coalesce onto the running task, and requests whose
// result is already cached never start at all.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers bounds how many tasks run at once across all users.
const DefaultWorkers = 4

// State is a task's lifecycle stage.
type State string

const (
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Status is a point-in-time snapshot of a task.
type Status struct {
	UserID     string    `json:"-"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`

	// Coalesced reports that Dispatch joined an existing task or a cached
	// result instead of starting new work.
	Coalesced bool `json:"coalesced,omitempty"`
}

// CachedFunc reports whether the answer for (user, key) is already cached.
type CachedFunc func(userID, key string) (bool, error)

// Dispatcher owns the task registry and the worker pool.
type Dispatcher struct {
	cached CachedFunc
	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	tasks map[string]*Status
	wg    sync.WaitGroup
}

// New creates a Dispatcher with the given concurrency bound. cached may be
// nil, in which case every request starts work.
func New(workers int64, cached CachedFunc, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cached: cached,
		sem:    semaphore.NewWeighted(workers),
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*Status),
	}
}

func taskID(userID, key string) string {
	return userID + "\x00" + key
}

// Dispatch schedules run in the background and returns immediately with the
// task's status. If the result is already cached, or the same (user, key)
// task is still running, no new work starts and the returned status carries
// Coalesced. The task runs on a detached context so it outlives the request
// that triggered it.
func (d *Dispatcher) Dispatch(userID, key, name string, run func(ctx context.Context) error) Status {
	if d.cached != nil {
		if ok, err := d.cached(userID, key); err != nil {
			d.logger.Warn("cache pre-check failed, dispatching anyway",
				"user", userID, "key", key, "error", err)
		} else if ok {
			return Status{UserID: userID, Key: key, Name: name, State: StateDone, Coalesced: true}
		}
	}

	id := taskID(userID, key)

	d.mu.Lock()
	if t, ok := d.tasks[id]; ok && t.State == StateRunning {
		snap := *t
		snap.Coalesced = true
		d.mu.Unlock()
		return snap
	}
	t := &Status{
		UserID:    userID,
		Key:       key,
		Name:      name,
		State:     StateRunning,
		StartedAt: d.now(),
	}
	d.tasks[id] = t
	// Snapshot under the lock: once the goroutine starts, finish may write
	// to the registry entry at any moment.
	snap := *t
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx := context.Background()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			d.finish(id, err)
			return
		}
		defer d.sem.Release(1)

		d.logger.Info("background task started", "user", userID, "task", name, "key", key)
		d.finish(id, run(ctx))
	}()

	return snap
}

func (d *Dispatcher) finish(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tasks[id]
	if !ok {
		return
	}
	t.FinishedAt = d.now()
	if err != nil {
		t.State = StateFailed
		t.Error = err.Error()
		d.logger.Error("background task failed", "user", t.UserID, "task", t.Name, "error", err)
		return
	}
	// Successful tasks leave their answer in the cache, which is the durable
	// record. Dropping the registry entry keeps the map from growing one
	// entry per completed key over the life of the process.
	delete(d.tasks, id)
	d.logger.Info("background task finished", "user", t.UserID, "task", t.Name,
		"elapsed", t.FinishedAt.Sub(t.StartedAt))
}

// Lookup returns the status of a running or failed task. Successful tasks
// are dropped from the registry on completion, so a miss here plus a cache
// hit means done.
func (d *Dispatcher) Lookup(userID, key string) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[taskID(userID, key)]
	if !ok {
		return Status{}, false
	}
	return *t, true
}

// Forget drops a failed task from the registry so the key can be
// dispatched fresh. Running tasks are left alone.
func (d *Dispatcher) Forget(userID, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := taskID(userID, key)
	if t, ok := d.tasks[id]; ok && t.State != StateRunning {
		delete(d.tasks, id)
	}
}

// Tasks returns snapshots of the user's running and failed tasks.
func (d *Dispatcher) Tasks(userID string) []Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Status
	for _, t := range d.tasks {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out
}

// Wait blocks until every dispatched task has finished. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
