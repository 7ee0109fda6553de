package skeleton

import (
	"fmt"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
	"github.com/redwerk/plugin-Library/serial"
)

// treeNode is the tagged child slot: each slot of a non-leaf node holds
// either a live *skeletonNodeStruct or a *ghostNodeStruct. Modeling the slot
// as a two-variant interface keeps the ghosts counter a derived fact that
// assertions can check, instead of a pointer whose target is polymorphic.
type treeNode interface {
	leftKey() (lkey Key)
	rightKey() (rkey Key)
	totalSize() (size int)
	isGhost() (ghost bool)
	rangeString() (str string)
}

// skeletonNodeStruct is a live node.
//
// Invariants:
//   - the key range [lkey, rkey) is half-open and boundary keys never
//     appear as entries;
//   - a non-leaf node with n entries has n+1 children, arranged between
//     consecutive entry keys;
//   - nodeMin <= n <= 2*nodeMin except for the root;
//   - size is the total entry count of the subtree;
//   - leaf is immutable after construction.
type skeletonNodeStruct struct {
	tree    *SkeletonBTreeMap
	lkey    Key
	rkey    Key
	leaf    bool
	entries *skeletonTreeMapStruct
	nodes   []treeNode // child slots; nil iff leaf
	size    int
	ghosts  int // immediate children currently ghosted
}

// ghostNodeStruct is a placeholder for an archived subtree. It carries no
// owned resources beyond the meta handle naming its storage location.
//
// parent is a back-reference for lookup, not ownership, and is mutated
// during restructuring (split, steal, merge, reattach). The container's
// single-writer contract is what makes that safe: only the goroutine
// driving mutations ever touches it.
type ghostNodeStruct struct {
	lkey   Key
	rkey   Key
	size   int
	parent *skeletonNodeStruct
	meta   interface{}
}

func (tree *SkeletonBTreeMap) newNode(lkey Key, rkey Key, leaf bool) (node *skeletonNodeStruct) {
	node = &skeletonNodeStruct{
		tree:    tree,
		lkey:    lkey,
		rkey:    rkey,
		leaf:    leaf,
		entries: newSkeletonTreeMap(tree.compare),
	}
	if !leaf {
		node.nodes = make([]treeNode, 0, 2*tree.nodeMin+1)
	}
	return
}

func (node *skeletonNodeStruct) leftKey() (lkey Key) {
	lkey = node.lkey
	return
}

func (node *skeletonNodeStruct) rightKey() (rkey Key) {
	rkey = node.rkey
	return
}

func (node *skeletonNodeStruct) totalSize() (size int) {
	size = node.size
	return
}

func (node *skeletonNodeStruct) isGhost() (ghost bool) {
	ghost = false
	return
}

func (node *skeletonNodeStruct) rangeString() (str string) {
	str = rangeString(node.lkey, node.rkey)
	return
}

func (node *skeletonNodeStruct) childCount() (count int) {
	count = len(node.nodes)
	return
}

func (ghost *ghostNodeStruct) leftKey() (lkey Key) {
	lkey = ghost.lkey
	return
}

func (ghost *ghostNodeStruct) rightKey() (rkey Key) {
	rkey = ghost.rkey
	return
}

func (ghost *ghostNodeStruct) totalSize() (size int) {
	size = ghost.size
	return
}

func (ghost *ghostNodeStruct) isGhost() (isGhost bool) {
	isGhost = true
	return
}

func (ghost *ghostNodeStruct) rangeString() (str string) {
	str = rangeString(ghost.lkey, ghost.rkey)
	return
}

// Meta returns the ghost's storage handle.
func (ghost *ghostNodeStruct) Meta() (meta interface{}) {
	meta = ghost.meta
	return
}

// notLoaded is the error every structural query on a ghost resolves to. It
// carries the parent, the ghost's left boundary key, and the ghost itself,
// which is what a caller needs to request an inflate and retry.
func (ghost *ghostNodeStruct) notLoaded() (err error) {
	err = blunder.NewError(blunder.NotLoadedError, "node not loaded: %s", ghost.rangeString())
	err = blunder.AddNotLoadedContext(err, ghost.parent, ghost.lkey, ghost)
	return
}

func rangeString(lkey Key, rkey Key) (str string) {
	lstr := "-inf"
	if nil != lkey {
		lstr = fmt.Sprintf("%v", lkey)
	}
	rstr := "+inf"
	if nil != rkey {
		rstr = fmt.Sprintf("%v", rkey)
	}
	str = fmt.Sprintf("[%s, %s)", lstr, rstr)
	return
}

// makeGhost creates the ghost that represents this node under the given
// storage handle. The ghost's parent is set when it is attached.
func (node *skeletonNodeStruct) makeGhost(meta interface{}) (ghost *ghostNodeStruct) {
	ghost = &ghostNodeStruct{
		lkey: node.lkey,
		rkey: node.rkey,
		size: node.size,
		meta: meta,
	}
	return
}

// isLive reports whether this subtree is fully materialized: no ghost
// children, a live entries map, and every child recursively live.
func (node *skeletonNodeStruct) isLive() (live bool) {
	if (node.ghosts > 0) || !node.entries.IsLive() {
		live = false
		return
	}
	if !node.leaf {
		for _, child := range node.nodes {
			if child.isGhost() {
				live = false
				return
			}
			if !child.(*skeletonNodeStruct).isLive() {
				live = false
				return
			}
		}
	}
	live = true
	return
}

// isBare reports whether this node is exactly the unit the archiver stores:
// a bare entries map, and (unless leaf) nothing but ghost children.
func (node *skeletonNodeStruct) isBare() (bare bool) {
	if !node.leaf {
		if node.ghosts < node.childCount() {
			bare = false
			return
		}
	}
	bare = node.entries.IsBare()
	return
}

// childSlotByLeftKey locates the child slot whose left boundary equals key,
// i.e. the child immediately to the right of key. key == node.lkey selects
// the leftmost slot.
func (node *skeletonNodeStruct) childSlotByLeftKey(key Key) (index int, child treeNode, err error) {
	var (
		found  bool
		result int
	)

	if node.leaf {
		err = blunder.NewError(blunder.InvalidArgError, "leaf node has no child slots")
		return
	}

	result, err = node.tree.compareLeft(key, node.lkey)
	if nil != err {
		return
	}
	if 0 == result {
		index = 0
		child = node.nodes[0]
		return
	}

	index, found, err = node.entries.bisectLeftInternal(key)
	if nil != err {
		return
	}
	if !found {
		err = blunder.NewError(blunder.InvalidArgError, "no child slot to the right of key %v in %s", key, node.rangeString())
		return
	}

	index++ // child to the right of entry at rank index
	child = node.nodes[index]
	err = nil
	return
}

// keyPairs returns the (lkey, rkey) boundary pair of every child slot:
// slot i spans from entry i-1 (or the node's own lkey) to entry i (or the
// node's own rkey).
func (node *skeletonNodeStruct) keyPairs() (lkeys []Key, rkeys []Key, err error) {
	var (
		key Key
		ok  bool
	)

	count := node.entries.Len()
	lkeys = make([]Key, count+1)
	rkeys = make([]Key, count+1)

	lkeys[0] = node.lkey
	rkeys[count] = node.rkey
	for index := 0; index < count; index++ {
		key, _, ok, err = node.entries.getByIndexInternal(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "entry rank %d missing in %s", index, node.rangeString())
			return
		}
		rkeys[index] = key
		lkeys[index+1] = key
	}

	err = nil
	return
}

// attachGhost replaces a live child with its ghost. It is assumed that a
// live node currently occupies the slot; the caller ensures it.
func (node *skeletonNodeStruct) attachGhost(ghost *ghostNodeStruct) (err error) {
	var (
		child treeNode
		index int
	)

	index, child, err = node.childSlotByLeftKey(ghost.lkey)
	if nil != err {
		return
	}
	if child.isGhost() {
		err = blunder.NewError(blunder.IllegalStateError, "attachGhost: slot %s already ghosted", ghost.rangeString())
		return
	}

	ghost.parent = node
	node.nodes[index] = ghost
	node.ghosts++

	err = nil
	return
}

// attachSkeleton replaces a ghost child with its live form. It is assumed
// that a ghost currently occupies the slot; the caller ensures it.
func (node *skeletonNodeStruct) attachSkeleton(skel *skeletonNodeStruct) (err error) {
	var (
		child treeNode
		index int
	)

	index, child, err = node.childSlotByLeftKey(skel.lkey)
	if nil != err {
		return
	}
	if !child.isGhost() {
		err = blunder.NewError(blunder.IllegalStateError, "attachSkeleton: slot %s not ghosted", skel.rangeString())
		return
	}

	node.nodes[index] = skel
	node.ghosts--

	err = nil
	return
}

// deflateChild deflates the child immediately to the right of the given
// key: pushes it through the archiver as a single task and swaps it for the
// resulting ghost. No-op on leaves and on slots already ghosted. The child
// must already be bare.
func (node *skeletonNodeStruct) deflateChild(key Key) (err error) {
	var (
		child treeNode
	)

	if node.leaf {
		err = nil
		return
	}
	_, child, err = node.childSlotByLeftKey(key)
	if nil != err {
		return
	}
	if child.isGhost() {
		err = nil
		return
	}

	skel := child.(*skeletonNodeStruct)
	if !skel.isBare() {
		err = blunder.NewError(blunder.IllegalStateError, "cannot deflate non-bare node %s", skel.rangeString())
		return
	}

	task := serial.NewPushTask(skel)
	err = node.tree.nsrl.Push(task)
	if nil != err {
		if blunder.Is(err, blunder.TaskCompleteError) {
			// the object was already persisted concurrently; if its ghost
			// was attached too there is nothing left to do, otherwise the
			// swap below is still ours
			_, child, slotErr := node.childSlotByLeftKey(key)
			if nil != slotErr {
				err = slotErr
				return
			}
			if child.isGhost() {
				err = nil
				return
			}
			err = nil
		} else {
			err = blunder.AddError(err, blunder.TaskAbortError)
			err = blunder.AddRangeContext(err, skel.rangeString())
			return
		}
	}

	err = node.attachGhost(skel.makeGhost(task.Meta))
	if nil != err {
		err = blunder.AddError(err, blunder.TaskAbortError)
		err = blunder.AddRangeContext(err, skel.rangeString())
		return
	}

	err = nil
	return
}

// inflateChild materializes the child immediately to the right of the given
// key. No-op on leaves and on slots already live. If auto is set, the newly
// attached node's own subtree is inflated recursively.
func (node *skeletonNodeStruct) inflateChild(key Key, auto bool) (err error) {
	var (
		child treeNode
		index int
	)

	if node.leaf {
		err = nil
		return
	}
	index, child, err = node.childSlotByLeftKey(key)
	if nil != err {
		return
	}
	if !child.isGhost() {
		err = nil
		return
	}

	ghost := child.(*ghostNodeStruct)
	task := serial.NewPullTask(ghost.meta)
	err = node.tree.nsrl.Pull(task)
	if nil != err {
		if blunder.Is(err, blunder.TaskCompleteError) {
			// a concurrent pull covered this one; the winner attaches
			err = nil
			return
		}
		err = blunder.AddError(err, blunder.TaskAbortError)
		err = blunder.AddRangeContext(err, ghost.rangeString())
		return
	}

	skel, err := node.tree.adoptPulledNode(task.Data, ghost)
	if nil != err {
		if blunder.IsNot(err, blunder.DataFormatError) {
			err = blunder.AddError(err, blunder.TaskAbortError)
		}
		err = blunder.AddRangeContext(err, ghost.rangeString())
		return
	}

	node.nodes[index] = skel
	node.ghosts--

	if auto {
		err = skel.inflateSubtree()
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// InflateKey lets a node service the generic inflate-and-retry protocol:
// inflate the child slot to the right of the key, without recursing.
func (node *skeletonNodeStruct) InflateKey(key Key) (err error) {
	err = node.inflateChild(key, false)
	return
}

// adoptPulledNode validates an object returned by the archiver against the
// ghost it replaces and claims it for this tree.
func (tree *SkeletonBTreeMap) adoptPulledNode(data interface{}, ghost *ghostNodeStruct) (skel *skeletonNodeStruct, err error) {
	var (
		result int
	)

	skel, ok := data.(*skeletonNodeStruct)
	if !ok {
		err = blunder.NewError(blunder.DataFormatError, "archiver returned %T, not a node", data)
		return
	}

	result, err = tree.compareLeft(ghost.lkey, skel.lkey)
	if nil != err {
		return
	}
	if 0 != result {
		err = blunder.NewError(blunder.DataFormatError, "node lkey does not match: ghost %s, node %s", ghost.rangeString(), skel.rangeString())
		return
	}
	result, err = tree.compareRight(ghost.rkey, skel.rkey)
	if nil != err {
		return
	}
	if 0 != result {
		err = blunder.NewError(blunder.DataFormatError, "node rkey does not match: ghost %s, node %s", ghost.rangeString(), skel.rangeString())
		return
	}

	skel.claim(tree)

	err = nil
	return
}

// claim points a pulled subtree (its nodes and ghost back-references) at
// this tree.
func (node *skeletonNodeStruct) claim(tree *SkeletonBTreeMap) {
	node.tree = tree
	node.entries.compare = tree.compare
	if !node.leaf {
		for _, child := range node.nodes {
			if child.isGhost() {
				child.(*ghostNodeStruct).parent = node
			} else {
				child.(*skeletonNodeStruct).claim(tree)
			}
		}
	}
}

// deflateSubtree deflates this node depth-first: each live child is
// recursively made bare, the bare children are pushed as one batch, and
// each successfully pushed child is swapped for its ghost. Finally the
// local entries map is deflated. Postcondition: the node is bare.
//
// A failed push aborts the subtree's deflate with context; the subtree is
// left partially deflated but consistent.
func (node *skeletonNodeStruct) deflateSubtree() (err error) {
	if !node.leaf {
		var (
			children []*skeletonNodeStruct
			tasks    []*serial.PushTask
		)

		for _, child := range node.nodes {
			if child.isGhost() {
				continue
			}
			skel := child.(*skeletonNodeStruct)
			if !skel.isBare() {
				err = skel.deflateSubtree()
				if nil != err {
					return
				}
			}
			children = append(children, skel)
			tasks = append(tasks, serial.NewPushTask(skel))
		}

		if 0 != len(tasks) {
			err = node.tree.nsrl.PushList(tasks)
			if nil != err {
				err = blunder.AddError(err, blunder.TaskAbortError)
				err = blunder.AddRangeContext(err, node.rangeString())
				return
			}
			for i, task := range tasks {
				if (nil != task.Err) && blunder.IsNot(task.Err, blunder.TaskCompleteError) {
					err = blunder.AddError(task.Err, blunder.TaskAbortError)
					err = blunder.AddRangeContext(err, children[i].rangeString())
					return
				}
				err = node.attachGhost(children[i].makeGhost(task.Meta))
				if nil != err {
					err = blunder.AddError(err, blunder.TaskAbortError)
					err = blunder.AddRangeContext(err, children[i].rangeString())
					return
				}
			}
			logger.Tracef("deflated %d children of %s", len(tasks), node.rangeString())
		}
	}

	node.entries.Deflate()

	if !node.isBare() {
		err = blunder.NewError(blunder.IllegalStateError, "deflate postcondition violated: %s not bare", node.rangeString())
		return
	}

	err = nil
	return
}

// inflateSubtree materializes this node's whole subtree by straight
// recursive descent: local entries first, then each child in order.
// Postcondition: the subtree is live.
func (node *skeletonNodeStruct) inflateSubtree() (err error) {
	node.entries.Inflate()
	if !node.leaf {
		// collect the key pairs first: inflateChild replaces slots in place
		var lkeys []Key
		for _, child := range node.nodes {
			lkeys = append(lkeys, child.leftKey())
		}
		for _, lkey := range lkeys {
			var child treeNode
			_, child, err = node.childSlotByLeftKey(lkey)
			if nil != err {
				return
			}
			if child.isGhost() {
				err = node.inflateChild(lkey, true)
				if nil != err {
					return
				}
			} else if !child.(*skeletonNodeStruct).isLive() {
				err = child.(*skeletonNodeStruct).inflateSubtree()
				if nil != err {
					return
				}
			}
		}
	}

	if !node.isLive() {
		err = blunder.NewError(blunder.IllegalStateError, "inflate postcondition violated: %s not live", node.rangeString())
		return
	}

	err = nil
	return
}
