package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/redwerk/plugin-Library/blunder"
)

func TestProgressTrackerCounts(t *testing.T) {
	assert := assert.New(t)

	tracker := NewProgressTracker()

	first := NewPullTask("m1")
	second := NewPullTask("m2")
	third := NewPullTask("m3")

	tracker.Register(first, "subtree [1, 10)")
	tracker.Register(second, "subtree [10, 20)")
	tracker.Register(third, "subtree [20, 30)")
	tracker.Register(third, "again") // no-op

	total, done, failed := tracker.Snapshot()
	assert.Equal(3, total)
	assert.Equal(0, done)
	assert.Equal(0, failed)

	tracker.MarkDone(first, nil)
	tracker.MarkDone(second, blunder.NewError(blunder.IOError, "boom"))
	tracker.MarkDone(NewPullTask("unregistered"), nil) // ignored

	total, done, failed = tracker.Snapshot()
	assert.Equal(3, total)
	assert.Equal(2, done)
	assert.Equal(1, failed)

	assert.Equal("pulled 2/3 (1 failed)", tracker.String())
}

func TestTaskErrorsDrain(t *testing.T) {
	assert := assert.New(t)

	taskErrors := NewTaskErrors()
	assert.True(taskErrors.IsEmpty())

	task := NewPullTask("x")
	taskErrors.Deposit(task, blunder.NewError(blunder.IOError, "first"))
	taskErrors.Deposit(task, blunder.NewError(blunder.IOError, "second")) // first wins

	assert.Equal(1, taskErrors.Len())
	drained := taskErrors.Drain()
	assert.Equal(1, len(drained))
	assert.Contains(drained[task].Error(), "first")
	assert.True(taskErrors.IsEmpty())
}
