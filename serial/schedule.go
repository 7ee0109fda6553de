package serial

import (
	"sync"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
)

// DefaultPullWorkers is the worker count used when a PooledSerialiser is
// created with workers <= 0.
const DefaultPullWorkers = 4

// PooledSerialiser upgrades any IterableSerialiser to a ScheduledSerialiser
// by running pulls on a pool of worker goroutines.
//
// The pool performs duplicate-work elimination on meta handles: a pull whose
// meta is already being fetched waits for the covering fetch and is then
// reported through the error map as TaskCompleteError; a pull whose meta has
// already been fetched is reported the same way immediately. A task is never
// deposited into both the inflated queue and the error map.
type PooledSerialiser struct {
	IterableSerialiser
	workers int
	tracker *ProgressTracker
}

func NewPooledSerialiser(inner IterableSerialiser, workers int) (pooled *PooledSerialiser) {
	if workers <= 0 {
		workers = DefaultPullWorkers
	}
	pooled = &PooledSerialiser{
		IterableSerialiser: inner,
		workers:            workers,
		tracker:            NewProgressTracker(),
	}
	return
}

// Tracker exposes pull progress; PooledSerialiser is Trackable.
func (pooled *PooledSerialiser) Tracker() (tracker *ProgressTracker) {
	tracker = pooled.tracker
	return
}

// metaState tracks duplicate elimination for one meta handle.
type metaState struct {
	done    bool        // covering fetch has completed
	waiters []*PullTask // duplicates awaiting the covering fetch
}

// poolSchedulerStruct implements Scheduler for PooledSerialiser.
//
// Workers are the only goroutines that touch the archiver; they never touch
// the caller's data structures other than by depositing into the inflated
// queue and the error map.
type poolSchedulerStruct struct {
	sync.Mutex // guards busy, metas, closed

	inner    Archiver
	tracker  *ProgressTracker
	tasks    <-chan *PullTask
	inflated chan<- *PullTask
	errors   *TaskErrors

	busy   int                   // workers currently processing a task
	metas  map[interface{}]*metaState
	closed bool

	closeOnce sync.Once
	closeChan chan struct{}
	waitGroup sync.WaitGroup
}

// PullSchedule starts the worker pool. The returned Scheduler drains tasks
// until Close is called; the caller retains ownership of all three queues.
func (pooled *PooledSerialiser) PullSchedule(tasks <-chan *PullTask, inflated chan<- *PullTask, errors *TaskErrors) (scheduler Scheduler, err error) {
	pool := &poolSchedulerStruct{
		inner:     pooled.IterableSerialiser,
		tracker:   pooled.tracker,
		tasks:     tasks,
		inflated:  inflated,
		errors:    errors,
		metas:     make(map[interface{}]*metaState),
		closeChan: make(chan struct{}),
	}

	pool.waitGroup.Add(pooled.workers)
	for i := 0; i < pooled.workers; i++ {
		go pool.worker()
	}

	scheduler = pool
	err = nil
	return
}

// IsActive reports whether the pool may still deposit work: it is closed, or
// idle with nothing queued, only when this returns false.
func (pool *poolSchedulerStruct) IsActive() (active bool) {
	pool.Lock()
	defer pool.Unlock()
	if pool.closed {
		active = false
		return
	}
	active = (pool.busy > 0) || (len(pool.tasks) > 0)
	return
}

// Close shuts the pool down and waits for workers to drain. Idempotent.
func (pool *poolSchedulerStruct) Close() (err error) {
	pool.closeOnce.Do(func() {
		pool.Lock()
		pool.closed = true
		pool.Unlock()
		close(pool.closeChan)
		pool.waitGroup.Wait()
	})
	err = nil
	return
}

func (pool *poolSchedulerStruct) worker() {
	defer pool.waitGroup.Done()

	for {
		select {
		case <-pool.closeChan:
			return
		case task := <-pool.tasks:
			if nil == task {
				// nil task is the caller closing the tasks channel
				return
			}
			pool.process(task)
		}
	}
}

// process performs one pull, with duplicate elimination on the task's meta.
func (pool *poolSchedulerStruct) process(task *PullTask) {
	pool.Lock()
	pool.busy++
	state, seen := pool.metas[task.Meta]
	if seen {
		if state.done {
			// covering fetch already completed
			pool.busy--
			pool.Unlock()
			pool.tracker.MarkDone(task, nil)
			pool.errors.Deposit(task, blunder.NewError(blunder.TaskCompleteError, "pull of %v covered by earlier task", task.Meta))
			return
		}
		// task-in-progress: park until the covering fetch finishes; the
		// completion path converts this to task-complete
		state.waiters = append(state.waiters, task)
		pool.busy--
		pool.Unlock()
		return
	}
	pool.metas[task.Meta] = &metaState{}
	pool.Unlock()

	pullErr := pool.inner.Pull(task)

	pool.Lock()
	state = pool.metas[task.Meta]
	state.done = true
	waiters := state.waiters
	state.waiters = nil
	pool.busy--
	pool.Unlock()

	pool.tracker.MarkDone(task, pullErr)

	if nil == pullErr {
		// a closing pool no longer owes deposits; do not hang on a full
		// queue the consumer has abandoned
		select {
		case pool.inflated <- task:
		case <-pool.closeChan:
		}
	} else {
		logger.WarnfWithError(pullErr, "pull of %v failed", task.Meta)
		pool.errors.Deposit(task, pullErr)
	}

	for _, waiter := range waiters {
		pool.tracker.MarkDone(waiter, pullErr)
		if nil == pullErr {
			pool.errors.Deposit(waiter, blunder.NewError(blunder.TaskCompleteError, "pull of %v covered by concurrent task", waiter.Meta))
		} else {
			// the covering fetch failed, so the duplicate's work was not done
			pool.errors.Deposit(waiter, pullErr)
		}
	}
}
