package skeleton

import (
	"github.com/redwerk/plugin-Library/blunder"
)

// Comparators. Entry keys are always non-nil; nil appears only as the range
// sentinel, meaning negative infinity at a left boundary and positive
// infinity at a right boundary. The helpers below resolve nil by the
// position the operands came from.

// compareKeys compares two entry keys. Neither may be nil.
func (tree *SkeletonBTreeMap) compareKeys(key1 Key, key2 Key) (result int, err error) {
	if (nil == key1) || (nil == key2) {
		err = blunder.NewError(blunder.InvalidArgError, "nil is reserved as the range sentinel")
		return
	}
	result, err = tree.compare(key1, key2)
	return
}

// compareLeft compares two left boundaries; nil means negative infinity.
func (tree *SkeletonBTreeMap) compareLeft(key1 Key, key2 Key) (result int, err error) {
	if nil == key1 {
		if nil == key2 {
			result = 0
		} else {
			result = -1
		}
		err = nil
		return
	}
	if nil == key2 {
		result = 1
		err = nil
		return
	}
	result, err = tree.compare(key1, key2)
	return
}

// compareRight compares two right boundaries; nil means positive infinity.
func (tree *SkeletonBTreeMap) compareRight(key1 Key, key2 Key) (result int, err error) {
	if nil == key1 {
		if nil == key2 {
			result = 0
		} else {
			result = 1
		}
		err = nil
		return
	}
	if nil == key2 {
		result = -1
		err = nil
		return
	}
	result, err = tree.compare(key1, key2)
	return
}

// selectChildSlot returns the index of the child whose range covers key,
// assuming key is not one of this node's entries.
func (node *skeletonNodeStruct) selectChildSlot(key Key) (index int, err error) {
	index, _, err = node.entries.bisectLeftInternal(key)
	if nil != err {
		return
	}
	index++
	return
}

// Get returns the value stored for key. A ghost or bare entries map on the
// lookup path fails with not-loaded carrying the retry context.
func (tree *SkeletonBTreeMap) Get(key Key) (value Value, ok bool, err error) {
	var index int

	if nil == key {
		err = blunder.NewError(blunder.InvalidArgError, "nil is reserved as the range sentinel")
		return
	}

	node := tree.root
	for {
		if node.entries.IsBare() {
			err = node.entries.notLoaded(key)
			return
		}
		value, ok, err = node.entries.Get(key)
		if nil != err {
			return
		}
		if ok {
			return
		}
		if node.leaf {
			ok = false
			err = nil
			return
		}
		index, err = node.selectChildSlot(key)
		if nil != err {
			return
		}
		child := node.nodes[index]
		if child.isGhost() {
			err = child.(*ghostNodeStruct).notLoaded()
			return
		}
		node = child.(*skeletonNodeStruct)
	}
}

// Put inserts or replaces the value for key. ok reports whether a new entry
// was inserted (false: an existing entry was replaced).
//
// Overflow splits run bottom-up on the unwind: a node that grows to
// 2*nodeMin+1 entries splits symmetrically into two nodeMin-entry halves
// around its median, which is what keeps both halves at the fan-out
// minimum.
func (tree *SkeletonBTreeMap) Put(key Key, value Value) (ok bool, err error) {
	if nil == key {
		err = blunder.NewError(blunder.InvalidArgError, "nil is reserved as the range sentinel")
		return
	}

	ok, err = tree.root.putDescend(key, value)
	if nil != err {
		return
	}
	if ok {
		tree.size++
	}

	// the root has no parent to split into; grow the tree upward
	if tree.root.entries.Len() > 2*tree.nodeMin {
		oldRoot := tree.root
		newRoot := tree.newNode(nil, nil, false)
		newRoot.nodes = append(newRoot.nodes, oldRoot)
		newRoot.size = oldRoot.size
		tree.root = newRoot
		err = newRoot.splitChild(0)
		if nil != err {
			return
		}
	}

	return
}

func (node *skeletonNodeStruct) putDescend(key Key, value Value) (inserted bool, err error) {
	var (
		found bool
		index int
		ok    bool
	)

	if node.entries.IsBare() {
		err = node.entries.notLoaded(key)
		return
	}

	index, found, err = node.entries.bisectLeftInternal(key)
	if nil != err {
		return
	}
	if found {
		ok, err = node.entries.Patch(key, value)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "existing entry %v vanished during replace", key)
			return
		}
		inserted = false
		return
	}

	if node.leaf {
		ok, err = node.entries.Put(key, value)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "new entry %v already present", key)
			return
		}
		node.size++
		inserted = true
		return
	}

	index++
	child := node.nodes[index]
	if child.isGhost() {
		err = child.(*ghostNodeStruct).notLoaded()
		return
	}
	skel := child.(*skeletonNodeStruct)

	inserted, err = skel.putDescend(key, value)
	if nil != err {
		return
	}
	if inserted {
		node.size++
	}

	if skel.entries.Len() > 2*node.tree.nodeMin {
		err = node.splitChild(index)
		if nil != err {
			return
		}
	}
	return
}

// splitChild splits the overfull live child at the given slot around its
// median entry, which moves up into this node. The child keeps the lower
// half; a new right sibling takes the upper half, along with any ghost
// children in it (their parent back-references move with them).
func (node *skeletonNodeStruct) splitChild(index int) (err error) {
	var (
		separatorKey   Key
		separatorValue Value
		upper          *skeletonTreeMapStruct
	)

	tree := node.tree
	child := node.nodes[index].(*skeletonNodeStruct)

	separatorKey, separatorValue, upper, err = child.entries.splitAtRank(tree.nodeMin)
	if nil != err {
		return
	}

	sibling := tree.newNode(separatorKey, child.rkey, child.leaf)
	sibling.entries = upper
	child.rkey = separatorKey

	movedSize := upper.Len()
	if !child.leaf {
		moved := child.nodes[tree.nodeMin+1:]
		sibling.nodes = append(sibling.nodes, moved...)
		child.nodes = child.nodes[:tree.nodeMin+1]
		for _, grandchild := range moved {
			movedSize += grandchild.totalSize()
			if grandchild.isGhost() {
				grandchild.(*ghostNodeStruct).parent = sibling
				sibling.ghosts++
				child.ghosts--
			}
		}
	}
	sibling.size = movedSize
	child.size = child.size - movedSize - 1

	_, err = node.entries.putInternal(separatorKey, separatorValue)
	if nil != err {
		return
	}
	node.nodes = append(node.nodes, nil)
	copy(node.nodes[index+2:], node.nodes[index+1:])
	node.nodes[index+1] = sibling

	err = nil
	return
}

// Remove deletes the entry for key. ok reports whether it was present.
//
// Removal restructures: every node whose boundaries or entries it must
// touch (the descent path, siblings used for rebalancing, and the spine
// below a removed interior key) has to be live, and a ghost anywhere in
// that set fails with not-loaded. If the not-loaded surfaces after the
// entry itself was already deleted, a node may be left below the fan-out
// minimum; the tree remains navigable and the next restructuring of that
// region restores the bound.
func (tree *SkeletonBTreeMap) Remove(key Key) (ok bool, err error) {
	if nil == key {
		err = blunder.NewError(blunder.InvalidArgError, "nil is reserved as the range sentinel")
		return
	}

	ok, err = tree.root.removeDescend(key)
	if nil != err {
		return
	}
	if ok {
		tree.size--
	}

	// shrink the root when it has emptied into its sole child
	if !tree.root.leaf && (0 == tree.root.entries.Len()) && (1 == len(tree.root.nodes)) {
		child := tree.root.nodes[0]
		if !child.isGhost() {
			tree.root = child.(*skeletonNodeStruct)
		}
	}

	err = nil
	return
}

func (node *skeletonNodeStruct) removeDescend(key Key) (removed bool, err error) {
	var (
		found bool
		index int
		ok    bool
	)

	if node.entries.IsBare() {
		err = node.entries.notLoaded(key)
		return
	}

	index, found, err = node.entries.bisectLeftInternal(key)
	if nil != err {
		return
	}

	if node.leaf {
		if !found {
			removed = false
			err = nil
			return
		}
		ok, err = node.entries.Delete(key)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "entry %v vanished during remove", key)
			return
		}
		node.size--
		removed = true
		return
	}

	if found {
		removed, err = node.removeInterior(index, key)
		return
	}

	index++
	child := node.nodes[index]
	if child.isGhost() {
		err = child.(*ghostNodeStruct).notLoaded()
		return
	}

	removed, err = child.(*skeletonNodeStruct).removeDescend(key)
	if nil != err {
		return
	}
	if removed {
		node.size--
		err = node.fixChildUnderflow(index)
		if nil != err {
			return
		}
	}
	return
}

// removeInterior deletes the entry at the given rank of this node, whose key
// separates children index and index+1. The separator is replaced by the
// left subtree's maximum entry, which also becomes the new boundary between
// the subtrees.
func (node *skeletonNodeStruct) removeInterior(index int, key Key) (removed bool, err error) {
	var (
		maxKey   Key
		maxValue Value
		ok       bool
	)

	left := node.nodes[index]
	right := node.nodes[index+1]
	if left.isGhost() {
		err = left.(*ghostNodeStruct).notLoaded()
		return
	}
	if right.isGhost() {
		err = right.(*ghostNodeStruct).notLoaded()
		return
	}
	leftSkel := left.(*skeletonNodeStruct)
	rightSkel := right.(*skeletonNodeStruct)

	// the left subtree's maximum replaces the separator; check the right
	// subtree's leftmost spine is live before anything mutates, because its
	// boundary has to follow
	err = rightSkel.checkLeftSpineLive()
	if nil != err {
		return
	}

	maxKey, maxValue, err = leftSkel.removeMax()
	if nil != err {
		return
	}
	node.size--

	ok, err = node.entries.Delete(key)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v vanished during remove", key)
		return
	}
	_, err = node.entries.putInternal(maxKey, maxValue)
	if nil != err {
		return
	}

	rightSkel.setLeftBoundary(maxKey)

	err = node.fixChildUnderflow(index)
	if nil != err {
		return
	}

	removed = true
	err = nil
	return
}

// removeMax removes and returns the greatest entry of this subtree. Each
// node on the rightmost spine adopts the removed key as its new right
// boundary, so the caller can reuse it as a separator.
func (node *skeletonNodeStruct) removeMax() (maxKey Key, maxValue Value, err error) {
	var ok bool

	if node.entries.IsBare() {
		err = node.entries.notLoaded(node.rkey)
		return
	}

	if node.leaf {
		count := node.entries.Len()
		maxKey, maxValue, ok, err = node.entries.getByIndexInternal(count - 1)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "removeMax on empty leaf %s", node.rangeString())
			return
		}
		_, err = node.entries.deleteByIndexInternal(count - 1)
		if nil != err {
			return
		}
		node.size--
		node.rkey = maxKey
		return
	}

	last := len(node.nodes) - 1
	child := node.nodes[last]
	if child.isGhost() {
		err = child.(*ghostNodeStruct).notLoaded()
		return
	}

	maxKey, maxValue, err = child.(*skeletonNodeStruct).removeMax()
	if nil != err {
		return
	}
	node.size--
	node.rkey = maxKey

	err = node.fixChildUnderflow(last)
	return
}

// checkLeftSpineLive verifies no ghost sits on this subtree's leftmost
// spine, so setLeftBoundary cannot fail halfway.
func (node *skeletonNodeStruct) checkLeftSpineLive() (err error) {
	current := node
	for !current.leaf {
		child := current.nodes[0]
		if child.isGhost() {
			err = child.(*ghostNodeStruct).notLoaded()
			return
		}
		current = child.(*skeletonNodeStruct)
	}
	err = nil
	return
}

// setLeftBoundary rewrites the left boundary of this subtree's leftmost
// spine. The caller has verified the spine is live.
func (node *skeletonNodeStruct) setLeftBoundary(newLkey Key) {
	current := node
	for {
		current.lkey = newLkey
		if current.leaf {
			return
		}
		current = current.nodes[0].(*skeletonNodeStruct)
	}
}

// fixChildUnderflow restores the fan-out minimum of the child at the given
// slot, if it dropped below, by stealing from a sibling with spare entries
// or merging with an adjacent sibling.
func (node *skeletonNodeStruct) fixChildUnderflow(index int) (err error) {
	child := node.nodes[index]
	if child.isGhost() {
		// a ghost holds no fewer entries than it was archived with
		err = nil
		return
	}
	if child.(*skeletonNodeStruct).entries.Len() >= node.tree.nodeMin {
		err = nil
		return
	}

	// steal from a live sibling with spare entries
	if index > 0 {
		left := node.nodes[index-1]
		if !left.isGhost() && left.(*skeletonNodeStruct).entries.IsLive() && (left.(*skeletonNodeStruct).entries.Len() > node.tree.nodeMin) {
			err = node.stealFromLeft(index)
			return
		}
	}
	if index < len(node.nodes)-1 {
		right := node.nodes[index+1]
		if !right.isGhost() && right.(*skeletonNodeStruct).entries.IsLive() && (right.(*skeletonNodeStruct).entries.Len() > node.tree.nodeMin) {
			err = node.stealFromRight(index)
			return
		}
	}

	// merge with a live sibling
	if index > 0 {
		left := node.nodes[index-1]
		if !left.isGhost() && left.(*skeletonNodeStruct).entries.IsLive() {
			err = node.mergeChildren(index - 1)
			return
		}
	}
	if index < len(node.nodes)-1 {
		right := node.nodes[index+1]
		if !right.isGhost() && right.(*skeletonNodeStruct).entries.IsLive() {
			err = node.mergeChildren(index)
			return
		}
	}

	// every usable sibling is ghosted; report one so the caller can inflate
	if index > 0 {
		err = node.nodes[index-1].(*ghostNodeStruct).notLoaded()
	} else {
		err = node.nodes[index+1].(*ghostNodeStruct).notLoaded()
	}
	return
}

// stealFromLeft rotates the left sibling's greatest entry up into this node
// and the separator down into the child at the given slot. The sibling's
// last child slot moves across with its subtree.
func (node *skeletonNodeStruct) stealFromLeft(index int) (err error) {
	var (
		movedSize      int
		maxKey         Key
		maxValue       Value
		ok             bool
		separatorKey   Key
		separatorValue Value
	)

	left := node.nodes[index-1].(*skeletonNodeStruct)
	child := node.nodes[index].(*skeletonNodeStruct)

	separatorKey = child.lkey
	separatorValue, ok, err = node.entries.Get(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v missing above %s", separatorKey, child.rangeString())
		return
	}

	count := left.entries.Len()
	maxKey, maxValue, ok, err = left.entries.getByIndexInternal(count - 1)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "stealFromLeft on empty sibling %s", left.rangeString())
		return
	}
	_, err = left.entries.deleteByIndexInternal(count - 1)
	if nil != err {
		return
	}

	ok, err = node.entries.Delete(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v vanished during steal", separatorKey)
		return
	}
	_, err = node.entries.putInternal(maxKey, maxValue)
	if nil != err {
		return
	}
	_, err = child.entries.putInternal(separatorKey, separatorValue)
	if nil != err {
		return
	}

	left.rkey = maxKey
	child.lkey = maxKey

	movedSize = 1
	if !child.leaf {
		moved := left.nodes[len(left.nodes)-1]
		left.nodes = left.nodes[:len(left.nodes)-1]
		child.nodes = append(child.nodes, nil)
		copy(child.nodes[1:], child.nodes)
		child.nodes[0] = moved
		movedSize += moved.totalSize()
		if moved.isGhost() {
			moved.(*ghostNodeStruct).parent = child
			left.ghosts--
			child.ghosts++
		}
	}

	left.size -= movedSize
	child.size += movedSize

	err = nil
	return
}

// stealFromRight mirrors stealFromLeft.
func (node *skeletonNodeStruct) stealFromRight(index int) (err error) {
	var (
		movedSize      int
		minKey         Key
		minValue       Value
		ok             bool
		separatorKey   Key
		separatorValue Value
	)

	child := node.nodes[index].(*skeletonNodeStruct)
	right := node.nodes[index+1].(*skeletonNodeStruct)

	separatorKey = right.lkey
	separatorValue, ok, err = node.entries.Get(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v missing above %s", separatorKey, child.rangeString())
		return
	}

	minKey, minValue, ok, err = right.entries.getByIndexInternal(0)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "stealFromRight on empty sibling %s", right.rangeString())
		return
	}
	_, err = right.entries.deleteByIndexInternal(0)
	if nil != err {
		return
	}

	ok, err = node.entries.Delete(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v vanished during steal", separatorKey)
		return
	}
	_, err = node.entries.putInternal(minKey, minValue)
	if nil != err {
		return
	}
	_, err = child.entries.putInternal(separatorKey, separatorValue)
	if nil != err {
		return
	}

	child.rkey = minKey
	right.lkey = minKey

	movedSize = 1
	if !child.leaf {
		moved := right.nodes[0]
		right.nodes = right.nodes[1:]
		child.nodes = append(child.nodes, moved)
		movedSize += moved.totalSize()
		if moved.isGhost() {
			moved.(*ghostNodeStruct).parent = child
			right.ghosts--
			child.ghosts++
		}
	}

	right.size -= movedSize
	child.size += movedSize

	err = nil
	return
}

// mergeChildren folds the child at index+1 and the separator between them
// into the child at index. Both children must be live with live entries.
func (node *skeletonNodeStruct) mergeChildren(index int) (err error) {
	var (
		ok             bool
		separatorKey   Key
		separatorValue Value
	)

	left := node.nodes[index].(*skeletonNodeStruct)
	right := node.nodes[index+1].(*skeletonNodeStruct)

	if left.entries.IsBare() {
		err = left.entries.notLoaded(left.rkey)
		return
	}
	if right.entries.IsBare() {
		err = right.entries.notLoaded(right.lkey)
		return
	}

	separatorKey = right.lkey
	separatorValue, ok, err = node.entries.Get(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v missing above %s", separatorKey, right.rangeString())
		return
	}

	_, err = left.entries.putInternal(separatorKey, separatorValue)
	if nil != err {
		return
	}
	err = left.entries.absorb(right.entries)
	if nil != err {
		return
	}

	if !left.leaf {
		for _, moved := range right.nodes {
			left.nodes = append(left.nodes, moved)
			if moved.isGhost() {
				moved.(*ghostNodeStruct).parent = left
				left.ghosts++
			}
		}
	}

	left.rkey = right.rkey
	left.size += right.size + 1

	ok, err = node.entries.Delete(separatorKey)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "separator %v vanished during merge", separatorKey)
		return
	}
	copy(node.nodes[index+1:], node.nodes[index+2:])
	node.nodes = node.nodes[:len(node.nodes)-1]

	err = nil
	return
}

// Each walks the entries in key order. Iteration stops when the callback
// returns false. A ghost or bare entries map anywhere in the tree fails
// with not-loaded.
func (tree *SkeletonBTreeMap) Each(callback func(key Key, value Value) (keepGoing bool)) (err error) {
	_, err = tree.root.each(callback)
	return
}

func (node *skeletonNodeStruct) each(callback func(key Key, value Value) (keepGoing bool)) (keepGoing bool, err error) {
	var (
		key   Key
		ok    bool
		value Value
	)

	if node.entries.IsBare() {
		err = node.entries.notLoaded(node.lkey)
		return
	}

	count := node.entries.Len()
	if node.leaf {
		for index := 0; index < count; index++ {
			key, value, ok, err = node.entries.getByIndexInternal(index)
			if nil != err {
				return
			}
			if !ok {
				err = blunder.NewError(blunder.IllegalStateError, "entry rank %d missing in %s", index, node.rangeString())
				return
			}
			if !callback(key, value) {
				keepGoing = false
				err = nil
				return
			}
		}
		keepGoing = true
		err = nil
		return
	}

	for index := 0; index <= count; index++ {
		child := node.nodes[index]
		if child.isGhost() {
			err = child.(*ghostNodeStruct).notLoaded()
			return
		}
		keepGoing, err = child.(*skeletonNodeStruct).each(callback)
		if nil != err {
			return
		}
		if !keepGoing {
			return
		}
		if index < count {
			key, value, ok, err = node.entries.getByIndexInternal(index)
			if nil != err {
				return
			}
			if !ok {
				err = blunder.NewError(blunder.IllegalStateError, "entry rank %d missing in %s", index, node.rangeString())
				return
			}
			if !callback(key, value) {
				keepGoing = false
				err = nil
				return
			}
		}
	}
	keepGoing = true
	err = nil
	return
}

// verifyNodeIntegrity checks the structural invariants of a single node:
// fan-out bounds, entry order within the key range, child range contiguity,
// and size consistency. Ghost children are checked by their cached fields.
func (tree *SkeletonBTreeMap) verifyNodeIntegrity(node *skeletonNodeStruct, isRoot bool) (err error) {
	var (
		result int
	)

	count := node.entries.Len()

	if count > 2*tree.nodeMin {
		err = blunder.NewError(blunder.DataFormatError, "node %s has %d entries, above maximum %d", node.rangeString(), count, 2*tree.nodeMin)
		return
	}
	if !isRoot && (count < tree.nodeMin) {
		err = blunder.NewError(blunder.DataFormatError, "node %s has %d entries, below minimum %d", node.rangeString(), count, tree.nodeMin)
		return
	}

	if (nil != node.lkey) && (nil != node.rkey) {
		result, err = tree.compareKeys(node.lkey, node.rkey)
		if nil != err {
			return
		}
		if result >= 0 {
			err = blunder.NewError(blunder.DataFormatError, "node has inverted range %s", node.rangeString())
			return
		}
	}

	// boundary keys never appear as entries: every entry must fall strictly
	// between the node's boundaries
	inRange := 0
	err = node.entries.eachStrictlyBetweenInternal(node.lkey, node.rkey, func(key Key, value Value) (keepGoing bool, cbErr error) {
		inRange++
		keepGoing = true
		return
	})
	if nil != err {
		return
	}
	if inRange != count {
		err = blunder.NewError(blunder.DataFormatError, "node %s holds %d entries outside its range", node.rangeString(), count-inRange)
		return
	}

	if node.leaf {
		if 0 != len(node.nodes) {
			err = blunder.NewError(blunder.DataFormatError, "leaf %s has children", node.rangeString())
			return
		}
		if node.size != count {
			err = blunder.NewError(blunder.DataFormatError, "leaf %s size %d != entry count %d", node.rangeString(), node.size, count)
			return
		}
		err = nil
		return
	}

	if len(node.nodes) != count+1 {
		err = blunder.NewError(blunder.DataFormatError, "node %s has %d entries but %d children", node.rangeString(), count, len(node.nodes))
		return
	}

	lkeys, rkeys, err := node.keyPairs()
	if nil != err {
		return
	}

	ghosts := 0
	childrenSize := 0
	for index, child := range node.nodes {
		if child.isGhost() {
			ghosts++
		}
		childrenSize += child.totalSize()

		result, err = tree.compareLeft(child.leftKey(), lkeys[index])
		if nil != err {
			return
		}
		if 0 != result {
			err = blunder.NewError(blunder.DataFormatError, "child %d of %s has lkey %v, expected %v", index, node.rangeString(), child.leftKey(), lkeys[index])
			return
		}
		result, err = tree.compareRight(child.rightKey(), rkeys[index])
		if nil != err {
			return
		}
		if 0 != result {
			err = blunder.NewError(blunder.DataFormatError, "child %d of %s has rkey %v, expected %v", index, node.rangeString(), child.rightKey(), rkeys[index])
			return
		}
	}

	if ghosts != node.ghosts {
		err = blunder.NewError(blunder.DataFormatError, "node %s ghost count %d != actual %d", node.rangeString(), node.ghosts, ghosts)
		return
	}
	if node.size != childrenSize+count {
		err = blunder.NewError(blunder.DataFormatError, "node %s size %d != children %d + entries %d", node.rangeString(), node.size, childrenSize, count)
		return
	}

	err = nil
	return
}

// Validate checks the structural invariants of every materialized node in
// the tree. Ghost subtrees are checked by their cached boundary and size
// fields only.
func (tree *SkeletonBTreeMap) Validate() (err error) {
	err = tree.validateSubtree(tree.root, true)
	if nil != err {
		return
	}
	if tree.size != tree.root.size {
		err = blunder.NewError(blunder.DataFormatError, "tree size %d != root subtree size %d", tree.size, tree.root.size)
		return
	}
	err = nil
	return
}

func (tree *SkeletonBTreeMap) validateSubtree(node *skeletonNodeStruct, isRoot bool) (err error) {
	err = tree.verifyNodeIntegrity(node, isRoot)
	if nil != err {
		return
	}
	if !node.leaf {
		for _, child := range node.nodes {
			if !child.isGhost() {
				err = tree.validateSubtree(child.(*skeletonNodeStruct), false)
				if nil != err {
					return
				}
			}
		}
	}
	err = nil
	return
}
