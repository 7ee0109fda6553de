package serial

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redwerk/plugin-Library/blunder"
)

// memArchiverStruct is a trivial in-memory archiver for pool tests.
type memArchiverStruct struct {
	sync.Mutex
	objects   map[string]interface{}
	pullCalls map[string]int
	delay     time.Duration
}

func newMemArchiver() (archiver *memArchiverStruct) {
	archiver = &memArchiverStruct{
		objects:   make(map[string]interface{}),
		pullCalls: make(map[string]int),
	}
	return
}

func (archiver *memArchiverStruct) Push(task *PushTask) (err error) {
	archiver.Lock()
	defer archiver.Unlock()
	meta := task.Meta.(string)
	archiver.objects[meta] = task.Data
	err = nil
	return
}

func (archiver *memArchiverStruct) Pull(task *PullTask) (err error) {
	archiver.Lock()
	meta := task.Meta.(string)
	archiver.pullCalls[meta]++
	data, ok := archiver.objects[meta]
	delay := archiver.delay
	archiver.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "no object %s", meta)
		return
	}
	task.Data = data
	err = nil
	return
}

func (archiver *memArchiverStruct) PullList(tasks []*PullTask) (err error) {
	for _, task := range tasks {
		task.Err = archiver.Pull(task)
	}
	err = nil
	return
}

func (archiver *memArchiverStruct) PushList(tasks []*PushTask) (err error) {
	for _, task := range tasks {
		task.Err = archiver.Push(task)
	}
	err = nil
	return
}

func (archiver *memArchiverStruct) pullCount(meta string) (count int) {
	archiver.Lock()
	defer archiver.Unlock()
	count = archiver.pullCalls[meta]
	return
}

func startTestPool(t *testing.T, archiver IterableSerialiser, workers int) (pooled *PooledSerialiser, tasks chan *PullTask, inflated chan *PullTask, errors *TaskErrors, pool Scheduler) {
	pooled = NewPooledSerialiser(archiver, workers)
	tasks = make(chan *PullTask, 8)
	inflated = make(chan *PullTask, 8)
	errors = NewTaskErrors()

	pool, err := pooled.PullSchedule(tasks, inflated, errors)
	if nil != err {
		t.Fatalf("PullSchedule() failed: %v", err)
	}
	return
}

func TestPooledSchedulerPulls(t *testing.T) {
	require := require.New(t)

	archiver := newMemArchiver()
	for _, meta := range []string{"a", "b", "c"} {
		require.NoError(archiver.Push(&PushTask{Meta: meta, Data: "data-" + meta}))
	}

	_, tasks, inflated, errors, pool := startTestPool(t, archiver, 2)
	defer pool.Close()

	submitted := []*PullTask{NewPullTask("a"), NewPullTask("b"), NewPullTask("c")}
	for _, task := range submitted {
		tasks <- task
	}

	received := make(map[string]interface{})
	deadline := time.After(5 * time.Second)
	for len(received) < 3 {
		select {
		case task := <-inflated:
			received[task.Meta.(string)] = task.Data
		case <-deadline:
			t.Fatalf("timed out waiting for deposits; got %d", len(received))
		}
	}

	require.Equal("data-a", received["a"])
	require.Equal("data-b", received["b"])
	require.Equal("data-c", received["c"])
	require.True(errors.IsEmpty(), "no error deposits expected")

	require.NoError(pool.Close())
	require.NoError(pool.Close(), "Close() must be idempotent")
	require.False(pool.IsActive(), "pool inactive after Close()")
}

// Two pulls for the same meta: exactly one archiver fetch, one inflated
// deposit, and one task-complete through the error map.
func TestPooledSchedulerDuplicateElimination(t *testing.T) {
	require := require.New(t)

	archiver := newMemArchiver()
	require.NoError(archiver.Push(&PushTask{Meta: "dup", Data: "payload"}))
	archiver.delay = 50 * time.Millisecond // widen the in-flight window

	_, tasks, inflated, errors, pool := startTestPool(t, archiver, 2)
	defer pool.Close()

	winner := NewPullTask("dup")
	loser := NewPullTask("dup")
	tasks <- winner
	tasks <- loser

	var inflatedCount int
	var completeCount int
	deadline := time.After(5 * time.Second)
	for (inflatedCount + completeCount) < 2 {
		select {
		case task := <-inflated:
			require.Equal("payload", task.Data)
			inflatedCount++
		case <-deadline:
			t.Fatalf("timed out; inflated=%d complete=%d", inflatedCount, completeCount)
		default:
			for task, err := range errors.Drain() {
				require.True(blunder.Is(err, blunder.TaskCompleteError), "error deposit for %v: %v", task.Meta, err)
				completeCount++
			}
			time.Sleep(time.Millisecond)
		}
	}

	require.Equal(1, inflatedCount, "inflated deposits")
	require.Equal(1, completeCount, "task-complete deposits")
	require.Equal(1, archiver.pullCount("dup"), "archiver fetches")
}

// A pull failure lands in the error map, never the inflated queue.
func TestPooledSchedulerFailureRouting(t *testing.T) {
	require := require.New(t)

	archiver := newMemArchiver() // empty: every pull fails not-found

	_, tasks, inflated, errors, pool := startTestPool(t, archiver, 1)
	defer pool.Close()

	task := NewPullTask("missing")
	tasks <- task

	deadline := time.After(5 * time.Second)
	for {
		if !errors.IsEmpty() {
			break
		}
		select {
		case got := <-inflated:
			t.Fatalf("failed pull deposited into inflated: %v", got)
		case <-deadline:
			t.Fatalf("timed out waiting for error deposit")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	failed := errors.Drain()
	require.Equal(1, len(failed))
	for failedTask, err := range failed {
		require.Equal(task, failedTask)
		require.True(blunder.Is(err, blunder.NotFoundError), "deposit: %v", err)
	}
}
