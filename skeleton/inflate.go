package skeleton

import (
	"time"

	"github.com/google/btree"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
	"github.com/redwerk/plugin-Library/serial"
)

// pullTaskQueueDepth bounds the handoff queue to the scheduler; a full
// queue blocks the driver, which is the backpressure keeping it from
// racing ahead of the fetch pool.
const pullTaskQueueDepth = 0x10

// inflatedPollTimeout is how long the driver waits on the completion queue
// before re-inspecting the scheduler and the error map, so a silently dead
// pool cannot deadlock it.
const inflatedPollTimeout = time.Second

// nodeOrderItem wraps a pending node (or a completed pull carrying one) for
// the driver's priority queues. Ordering is the natural order on node
// ranges, which turns out-of-order fetch completions back into an in-order
// traversal: left boundary first, then right boundary, so an ancestor sorts
// directly after its leftmost descendant and ties are deterministic.
type nodeOrderItem struct {
	node *skeletonNodeStruct
	task *serial.PullTask // nil for nodequeue items
}

func (item nodeOrderItem) Less(than btree.Item) bool {
	other := than.(nodeOrderItem)
	tree := item.node.tree

	result, err := tree.compareLeft(item.node.lkey, other.node.lkey)
	if nil != err {
		logger.PanicfWithError(err, "node ordering: compare failed")
	}
	if 0 != result {
		return result < 0
	}
	result, err = tree.compareRight(item.node.rkey, other.node.rkey)
	if nil != err {
		logger.PanicfWithError(err, "node ordering: compare failed")
	}
	return result < 0
}

// bulkInflaterStruct is the driver state for a scheduled Inflate. A single
// goroutine (the caller) runs the loop; the scheduler's workers are the
// only other participants, and the tasks channel, the inflated channel, and
// the error map are the only data shared with them.
type bulkInflaterStruct struct {
	tree        *SkeletonBTreeMap
	nodequeue   *btree.BTree                           // live nodes pending expansion
	staging     *btree.BTree                           // completed pulls awaiting ordered attachment
	tasks       chan *serial.PullTask                  // bounded handoff to the scheduler
	inflated    chan *serial.PullTask                  // deposits from the scheduler's workers
	errors      *serial.TaskErrors                     // failed deposits
	taskGhosts  map[*serial.PullTask]*ghostNodeStruct  // which ghost each in-flight pull replaces
	tracker     *serial.ProgressTracker                // nil when the archiver is not Trackable
	outstanding int                                    // pulls submitted minus deposits consumed
	aborts      []error                                // terminal pull failures, reported together
}

// inflateScheduled materializes the whole tree through the archiver's
// scheduler: a breadth-ish walk that expands live nodes in range order,
// hands their ghost children to the fetch pool, and attaches results as
// they arrive.
func (tree *SkeletonBTreeMap) inflateScheduled(ssrl serial.ScheduledSerialiser) (err error) {
	inflater := &bulkInflaterStruct{
		tree:       tree,
		nodequeue:  btree.New(2),
		staging:    btree.New(2),
		tasks:      make(chan *serial.PullTask, pullTaskQueueDepth),
		inflated:   make(chan *serial.PullTask, pullTaskQueueDepth),
		errors:     serial.NewTaskErrors(),
		taskGhosts: make(map[*serial.PullTask]*ghostNodeStruct),
	}

	if trackable, ok := tree.nsrl.(serial.Trackable); ok {
		inflater.tracker = trackable.Tracker()
	}

	pool, err := ssrl.PullSchedule(inflater.tasks, inflater.inflated, inflater.errors)
	if nil != err {
		err = blunder.AddError(err, blunder.TaskAbortError)
		return
	}
	// the scheduler is released on every exit path
	defer func() {
		closeErr := pool.Close()
		if nil != closeErr {
			logger.WarnfWithError(closeErr, "scheduler close failed")
		}
	}()

	inflater.pushNode(tree.root)

	for {
		err = inflater.drainErrors()
		if nil != err {
			return
		}

		err = inflater.drainInflated()
		if nil != err {
			return
		}

		err = inflater.attachStaged()
		if nil != err {
			return
		}

		// a terminal failure stops new submissions, but in-flight pulls are
		// still drained (and attached) so every failure gets reported and
		// the tree is left in a consistent, partially-inflated state
		if 0 == len(inflater.aborts) {
			err = inflater.expandNodequeue()
			if nil != err {
				return
			}
		}

		if (len(inflater.aborts) > 0) && (0 == inflater.outstanding) &&
			(0 == len(inflater.inflated)) && inflater.errors.IsEmpty() {
			err = blunder.NewError(blunder.TaskAbortError, "%d pulls failed: %v", len(inflater.aborts), inflater.aborts)
			err = blunder.AddRangeContext(err, tree.root.rangeString())
			return
		}

		// nodequeue is drained, but pulls may still be in flight
		if (0 == inflater.outstanding) && !pool.IsActive() &&
			(0 == len(inflater.inflated)) && inflater.errors.IsEmpty() &&
			(0 == inflater.nodequeue.Len()) && (0 == inflater.staging.Len()) {
			break
		}

		if (0 == inflater.nodequeue.Len()) && (0 == inflater.staging.Len()) &&
			(0 == len(inflater.inflated)) && inflater.errors.IsEmpty() {
			if (inflater.outstanding > 0) && !pool.IsActive() && (0 == len(inflater.tasks)) {
				// the pool died under us with pulls unaccounted for
				err = blunder.NewError(blunder.TaskAbortError, "interrupted: scheduler stopped with %d pulls outstanding", inflater.outstanding)
				return
			}
			// nothing to do until a fetch lands; block briefly
			err = inflater.pollInflated()
			if nil != err {
				return
			}
		}
	}

	if !tree.root.isLive() {
		err = blunder.NewError(blunder.IllegalStateError, "bulk inflate finished but tree is not live")
		return
	}

	err = nil
	return
}

func (inflater *bulkInflaterStruct) pushNode(node *skeletonNodeStruct) {
	inflater.nodequeue.ReplaceOrInsert(nodeOrderItem{node: node})
}

// drainErrors empties the error map. Task-complete deposits are the benign
// signal that someone else covered the pull: if the covering result has
// already been attached, the now-live child goes back on the nodequeue;
// otherwise the attachment is still in flight and will arrive through the
// inflated queue. Anything else accumulates toward the final task-abort.
func (inflater *bulkInflaterStruct) drainErrors() (err error) {
	failed := inflater.errors.Drain()
	for task, taskErr := range failed {
		inflater.outstanding--
		ghost := inflater.taskGhosts[task]
		delete(inflater.taskGhosts, task)

		if blunder.Is(taskErr, blunder.TaskInProgressError) {
			// the scheduler contract converts these to task-complete
			err = blunder.NewError(blunder.IllegalStateError, "scheduler deposited task-in-progress for %s", ghost.rangeString())
			return
		}

		if blunder.Is(taskErr, blunder.TaskCompleteError) {
			parent := ghost.parent
			_, child, slotErr := parent.childSlotByLeftKey(ghost.lkey)
			if nil != slotErr {
				err = slotErr
				return
			}
			if !child.isGhost() {
				inflater.pushNode(child.(*skeletonNodeStruct))
			}
			// still ghosted: the covering pull has not attached yet; its
			// own deposit will reach the inflated queue and re-enqueue
			// the child then
			continue
		}

		inflater.aborts = append(inflater.aborts, blunder.AddRangeContext(taskErr, ghost.rangeString()))
		logger.ErrorfWithError(taskErr, "pull of %s failed", ghost.rangeString())
	}

	err = nil
	return
}

// drainInflated moves everything currently in the inflated queue into the
// ordered staging queue without blocking.
func (inflater *bulkInflaterStruct) drainInflated() (err error) {
	for {
		select {
		case task := <-inflater.inflated:
			err = inflater.stageTask(task)
			if nil != err {
				return
			}
		default:
			err = nil
			return
		}
	}
}

// pollInflated blocks for up to the poll timeout waiting for one deposit,
// so the driver wakes to re-inspect the pool even if fetches stall.
func (inflater *bulkInflaterStruct) pollInflated() (err error) {
	select {
	case task := <-inflater.inflated:
		if nil != task {
			err = inflater.stageTask(task)
			if nil != err {
				return
			}
		}
	case <-time.After(inflatedPollTimeout):
	}
	err = nil
	return
}

// stageTask validates a completed pull and parks it in range order until
// attachStaged runs.
func (inflater *bulkInflaterStruct) stageTask(task *serial.PullTask) (err error) {
	inflater.outstanding--
	ghost := inflater.taskGhosts[task]
	delete(inflater.taskGhosts, task)
	if nil == ghost {
		err = blunder.NewError(blunder.IllegalStateError, "scheduler deposited a task the driver never submitted")
		return
	}

	skel, err := inflater.tree.adoptPulledNode(task.Data, ghost)
	if nil != err {
		if blunder.IsNot(err, blunder.DataFormatError) {
			err = blunder.AddError(err, blunder.TaskAbortError)
		}
		err = blunder.AddRangeContext(err, ghost.rangeString())
		return
	}

	inflater.staging.ReplaceOrInsert(nodeOrderItem{node: skel, task: task})
	// remember the ghost through the staging queue
	inflater.taskGhosts[task] = ghost
	err = nil
	return
}

// attachStaged attaches staged nodes to their parents in range order and
// queues each for expansion.
func (inflater *bulkInflaterStruct) attachStaged() (err error) {
	for inflater.staging.Len() > 0 {
		item := inflater.staging.DeleteMin().(nodeOrderItem)
		ghost := inflater.taskGhosts[item.task]
		delete(inflater.taskGhosts, item.task)

		err = ghost.parent.attachSkeleton(item.node)
		if nil != err {
			err = blunder.AddError(err, blunder.TaskAbortError)
			err = blunder.AddRangeContext(err, ghost.rangeString())
			return
		}
		inflater.pushNode(item.node)
	}
	err = nil
	return
}

// expandNodequeue inflates the local entries of each queued node and hands
// its ghost children to the fetch pool. Submission blocks when the task
// queue is full; while blocked, the driver keeps consuming completions so
// the pool never deadlocks against it.
func (inflater *bulkInflaterStruct) expandNodequeue() (err error) {
	for inflater.nodequeue.Len() > 0 {
		item := inflater.nodequeue.DeleteMin().(nodeOrderItem)
		node := item.node

		node.entries.Inflate()

		if node.leaf {
			continue
		}
		for _, child := range node.nodes {
			if !child.isGhost() {
				skel := child.(*skeletonNodeStruct)
				if !skel.isLive() {
					inflater.pushNode(skel)
				}
				continue
			}
			ghost := child.(*ghostNodeStruct)
			task := serial.NewPullTask(ghost.meta)
			inflater.taskGhosts[task] = ghost
			if nil != inflater.tracker {
				inflater.tracker.Register(task, ghost.rangeString())
			}
			err = inflater.submit(task)
			if nil != err {
				return
			}
		}
	}
	err = nil
	return
}

// submit hands one pull to the scheduler, draining completions whenever the
// bounded queue pushes back.
func (inflater *bulkInflaterStruct) submit(task *serial.PullTask) (err error) {
	for {
		select {
		case inflater.tasks <- task:
			inflater.outstanding++
			err = nil
			return
		case done := <-inflater.inflated:
			err = inflater.stageTask(done)
			if nil != err {
				return
			}
		}
	}
}
