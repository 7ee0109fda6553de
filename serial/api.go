// Package serial provides the contracts through which skeletal data
// structures persist and retrieve their parts: tasks, archivers, batch and
// scheduled serialisers, translators, and progress tracking.
//
// An archiver stores opaque objects under opaque meta handles; it owns both
// the wire format and the naming scheme. The only structure this package
// imposes is the task: a (meta, data) pair, where pull fills in data from
// meta and push fills in meta from data.
package serial

import (
	"sync"

	"github.com/redwerk/plugin-Library/blunder"
)

// PullTask asks an archiver to retrieve the object identified by Meta and
// deposit it into Data.
type PullTask struct {
	Meta interface{} // identity handle of the object within the archive
	Data interface{} // the retrieved object; filled in by the archiver
	Err  error       // per-task failure, set by batch operations
}

// PushTask asks an archiver to store Data. The archiver may use the supplied
// Meta or invent one, writing it back into the task.
type PushTask struct {
	Data interface{} // the object to store
	Meta interface{} // identity handle; filled in (or honored) by the archiver
	Err  error       // per-task failure, set by batch operations
}

func NewPullTask(meta interface{}) (task *PullTask) {
	task = &PullTask{Meta: meta}
	return
}

func NewPushTask(data interface{}) (task *PushTask) {
	task = &PushTask{Data: data}
	return
}

// Archiver is the minimal persistence capability: one task at a time.
//
// Push is idempotent at the archiver level: pushing the same object twice
// yields the same meta and leaves the archive unchanged.
type Archiver interface {
	Pull(task *PullTask) (err error)
	Push(task *PushTask) (err error)
}

// IterableSerialiser adds batched variants with at-least-once semantics per
// task. A failure of one task attaches to that task (its Err field) and does
// not prevent the rest of the batch from being attempted; the returned error,
// if any, is a TaskAbortError summarizing the batch.
type IterableSerialiser interface {
	Archiver
	PullList(tasks []*PullTask) (err error)
	PushList(tasks []*PushTask) (err error)
}

// Scheduler is the handle to an asynchronous fetch pool obtained from
// ScheduledSerialiser.PullSchedule.
//
// IsActive reports whether the scheduler may still deposit work into the
// queues it was given. Close is idempotent and releases the pool; after
// Close returns, IsActive reports false and no further deposits occur.
type Scheduler interface {
	IsActive() (active bool)
	Close() (err error)
}

// ScheduledSerialiser adds asynchronous batch pulls.
//
// PullSchedule returns a Scheduler that drains tasks, performs the fetches in
// parallel, and deposits each completed task into inflated and each failed
// task into errors. A task is never deposited into both. Duplicate work
// detected while a covering task is still in flight (task-in-progress) must
// be surfaced as a TaskCompleteError deposit once the covering task is done.
type ScheduledSerialiser interface {
	IterableSerialiser
	PullSchedule(tasks <-chan *PullTask, inflated chan<- *PullTask, errors *TaskErrors) (scheduler Scheduler, err error)
}

// Translator converts between a domain object and an intermediate form
// suitable for an archiver's codec (typically map[string]interface{}).
//
// Implementations must be pure and total over in-range inputs, and
// Rev(App(x)) must be structurally equivalent to x.
type Translator interface {
	App(obj interface{}) (intermediate interface{}, err error)
	Rev(intermediate interface{}) (obj interface{}, err error)
}

// Trackable is implemented by archivers that expose pull progress.
type Trackable interface {
	Tracker() (tracker *ProgressTracker)
}

// TaskErrors is the concurrent error map shared between a Scheduler's workers
// and the single driver draining it. Workers deposit; the driver drains.
type TaskErrors struct {
	sync.Mutex
	errs map[*PullTask]error
}

func NewTaskErrors() (taskErrors *TaskErrors) {
	taskErrors = &TaskErrors{errs: make(map[*PullTask]error)}
	return
}

// Deposit records err against task. Depositing twice for the same task is a
// contract violation by the scheduler; the first error wins.
func (taskErrors *TaskErrors) Deposit(task *PullTask, err error) {
	taskErrors.Lock()
	defer taskErrors.Unlock()
	if _, ok := taskErrors.errs[task]; !ok {
		taskErrors.errs[task] = err
	}
}

// Drain removes and returns all recorded (task, error) pairs.
func (taskErrors *TaskErrors) Drain() (failed map[*PullTask]error) {
	taskErrors.Lock()
	defer taskErrors.Unlock()
	failed = taskErrors.errs
	taskErrors.errs = make(map[*PullTask]error)
	return
}

// IsEmpty reports whether any errors are pending.
func (taskErrors *TaskErrors) IsEmpty() (empty bool) {
	taskErrors.Lock()
	defer taskErrors.Unlock()
	empty = 0 == len(taskErrors.errs)
	return
}

// Len returns the number of pending errors.
func (taskErrors *TaskErrors) Len() (length int) {
	taskErrors.Lock()
	defer taskErrors.Unlock()
	length = len(taskErrors.errs)
	return
}

// abortBatch builds the summary error for a batch in which failed out of
// total tasks did not complete.
func abortBatch(op string, failed int, total int, firstErr error) (err error) {
	err = blunder.NewError(blunder.TaskAbortError, "%s batch aborted: %d of %d tasks failed (first: %v)", op, failed, total, firstErr)
	return
}
