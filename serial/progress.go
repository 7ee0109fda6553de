package serial

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PullProgress describes one registered pull.
type PullProgress struct {
	ID      string // stable identity for external observers
	Subject string // what is being pulled, for display
	Done    bool
	Failed  bool
}

// ProgressTracker records the state of registered pulls so external
// observers can report progress. Registration is done by whoever submits the
// task (the bulk inflater); completion is marked by the scheduler's workers.
type ProgressTracker struct {
	sync.Mutex
	pulls map[*PullTask]*PullProgress
}

func NewProgressTracker() (tracker *ProgressTracker) {
	tracker = &ProgressTracker{pulls: make(map[*PullTask]*PullProgress)}
	return
}

// Register adds a pull to the tracker. Registering the same task twice is a
// no-op.
func (tracker *ProgressTracker) Register(task *PullTask, subject string) {
	tracker.Lock()
	defer tracker.Unlock()
	if _, ok := tracker.pulls[task]; ok {
		return
	}
	tracker.pulls[task] = &PullProgress{
		ID:      uuid.New().String(),
		Subject: subject,
	}
}

// MarkDone records completion of a pull. Unregistered tasks are ignored, so
// schedulers may call this unconditionally.
func (tracker *ProgressTracker) MarkDone(task *PullTask, err error) {
	tracker.Lock()
	defer tracker.Unlock()
	progress, ok := tracker.pulls[task]
	if !ok {
		return
	}
	progress.Done = true
	progress.Failed = nil != err
}

// Snapshot returns the current counts.
func (tracker *ProgressTracker) Snapshot() (total int, done int, failed int) {
	tracker.Lock()
	defer tracker.Unlock()
	for _, progress := range tracker.pulls {
		total++
		if progress.Done {
			done++
		}
		if progress.Failed {
			failed++
		}
	}
	return
}

// String renders the tracker state for display.
func (tracker *ProgressTracker) String() string {
	total, done, failed := tracker.Snapshot()
	return fmt.Sprintf("pulled %d/%d (%d failed)", done, total, failed)
}
