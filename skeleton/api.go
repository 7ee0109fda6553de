// Package skeleton provides an ordered map implemented as a B-tree whose
// nodes can individually reside either in memory ("live") or as lightweight
// placeholders ("ghosts") backed by an external, possibly high-latency,
// content-addressed archive.
//
// The container transparently reports which subtrees are missing, fetches
// them on demand (one at a time, or in bulk through a pool of asynchronous
// pull tasks), and persists dirty subtrees back out, swapping each for a
// ghost carrying only its key range, subtree size, and storage handle.
//
// Only live nodes participate in navigation. Any structural query that hits
// a ghost fails with a not-loaded error carrying enough context (parent,
// key, ghost) for the caller to request an inflate and retry; InflateKey
// packages that retry loop.
//
// The container supports a single writer. Concurrent readers are permitted
// only during a bulk Inflate, and then only because the driver is the sole
// goroutine mutating tree structure.
package skeleton

import (
	"fmt"
	"strings"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/serial"
)

type Key interface{}
type Value interface{}

// Compare returns <0 if key1 < key2, 0 if key1 == key2, >0 if key1 > key2.
// It is never called with nil keys; the container handles the range
// sentinels itself.
type Compare func(key1 Key, key2 Key) (result int, err error)

func CompareInt(key1 Key, key2 Key) (result int, err error) {
	key1Int, ok := key1.(int)
	if !ok {
		err = fmt.Errorf("CompareInt(non-int,) not supported")
		return
	}
	key2Int, ok := key2.(int)
	if !ok {
		err = fmt.Errorf("CompareInt(int, non-int) not supported")
		return
	}

	if key1Int < key2Int {
		result = -1
	} else if key1Int == key2Int {
		result = 0
	} else { // key1Int > key2Int
		result = 1
	}

	err = nil

	return
}

func CompareString(key1 Key, key2 Key) (result int, err error) {
	key1String, ok := key1.(string)
	if !ok {
		err = fmt.Errorf("CompareString(non-string,) not supported")
		return
	}
	key2String, ok := key2.(string)
	if !ok {
		err = fmt.Errorf("CompareString(string, non-string) not supported")
		return
	}

	result = strings.Compare(key1String, key2String)
	err = nil

	return
}

func CompareUint64(key1 Key, key2 Key) (result int, err error) {
	key1Uint64, ok := key1.(uint64)
	if !ok {
		err = fmt.Errorf("CompareUint64(non-uint64,) not supported")
		return
	}
	key2Uint64, ok := key2.(uint64)
	if !ok {
		err = fmt.Errorf("CompareUint64(uint64, non-uint64) not supported")
		return
	}

	if key1Uint64 < key2Uint64 {
		result = -1
	} else if key1Uint64 == key2Uint64 {
		result = 0
	} else { // key1Uint64 > key2Uint64
		result = 1
	}

	err = nil

	return
}

// KeyInflater is anything able to service an inflate request for a missing
// part identified by a key: a node (inflating the child slot to the right of
// the key) or an entries map (inflating itself). Not-loaded errors carry the
// responsible KeyInflater so InflateKey can retry generically.
type KeyInflater interface {
	InflateKey(key Key) (err error)
}

// SkeletonBTreeMap is the ordered container. Nodes hold between nodeMin and
// 2*nodeMin entries (the root may hold fewer) and the key range of every
// node is half-open: boundary keys never appear as entries. nil is reserved
// as the range sentinel for the leftmost and rightmost boundaries.
type SkeletonBTreeMap struct {
	compare Compare
	nodeMin int
	root    *skeletonNodeStruct // always live; a ghost root is never permitted
	size    int                 // total entries in the tree
	nsrl    serial.IterableSerialiser
}

// NewSkeletonBTreeMap creates an empty tree. nodeMin must be at least 1.
func NewSkeletonBTreeMap(compare Compare, nodeMin int) (tree *SkeletonBTreeMap, err error) {
	if nil == compare {
		err = blunder.NewError(blunder.InvalidArgError, "NewSkeletonBTreeMap() requires a compare function")
		return
	}
	if nodeMin < 1 {
		err = blunder.NewError(blunder.InvalidArgError, "NewSkeletonBTreeMap() nodeMin (%v) invalid - must be at least 1", nodeMin)
		return
	}

	tree = &SkeletonBTreeMap{
		compare: compare,
		nodeMin: nodeMin,
	}
	tree.root = tree.newNode(nil, nil, true)

	err = nil
	return
}

// NodeMin returns the minimum fan-out parameter.
func (tree *SkeletonBTreeMap) NodeMin() (nodeMin int) {
	nodeMin = tree.nodeMin
	return
}

// Len returns the total number of entries in the tree, including entries in
// ghosted subtrees.
func (tree *SkeletonBTreeMap) Len() (numberOfItems int) {
	numberOfItems = tree.size
	return
}

// SetSerialiser assigns the archiver used to push and pull nodes. Replacing
// a previously assigned archiver is only legal while the whole structure is
// live; a partially-loaded tree still owes ghosts to the old archiver.
func (tree *SkeletonBTreeMap) SetSerialiser(nsrl serial.IterableSerialiser) (err error) {
	if (nil != tree.nsrl) && !tree.IsLive() {
		err = blunder.NewError(blunder.IllegalStateError, "cannot change the serialiser when the structure is not live")
		return
	}
	tree.nsrl = nsrl
	err = nil
	return
}

// IsLive reports whether every node in the tree is materialized and every
// entries map inflated.
func (tree *SkeletonBTreeMap) IsLive() (live bool) {
	live = tree.root.isLive()
	return
}

// IsBare reports whether the tree has been deflated down to its root: the
// root's entries map is bare and all of the root's children are ghosts.
func (tree *SkeletonBTreeMap) IsBare() (bare bool) {
	bare = tree.root.isBare()
	return
}

// Deflate persists every live subtree through the archiver, depth-first,
// replacing each with a ghost. On return the tree is bare. A failed push
// aborts with range context, leaving the tree partially deflated but
// consistent.
func (tree *SkeletonBTreeMap) Deflate() (err error) {
	if nil == tree.nsrl {
		err = blunder.NewError(blunder.IllegalStateError, "no serialiser assigned")
		return
	}
	err = tree.root.deflateSubtree()
	return
}

// Inflate materializes the entire tree. If the archiver supports scheduled
// pulls the fetches run in parallel; otherwise the tree is inflated by
// straight recursive descent.
func (tree *SkeletonBTreeMap) Inflate() (err error) {
	if nil == tree.nsrl {
		err = blunder.NewError(blunder.IllegalStateError, "no serialiser assigned")
		return
	}
	ssrl, scheduled := tree.nsrl.(serial.ScheduledSerialiser)
	if scheduled {
		err = tree.inflateScheduled(ssrl)
	} else {
		err = tree.root.inflateSubtree()
	}
	return
}

// InflateKey materializes just enough of the tree to resolve the given key,
// by retrying Get and servicing each not-loaded error it reports.
func (tree *SkeletonBTreeMap) InflateKey(key Key) (err error) {
	for {
		_, _, err = tree.Get(key)
		if nil == err {
			return
		}
		if blunder.IsNot(err, blunder.NotLoadedError) {
			return
		}
		inflater, ok := blunder.ParentValue(err).(KeyInflater)
		if !ok {
			err = blunder.NewError(blunder.DataFormatError, "not-loaded error carries no usable parent: %v", err)
			return
		}
		err = inflater.InflateKey(blunder.KeyValue(err))
		if nil != err {
			return
		}
	}
}

// DeflateKey would deflate the subtree immediately to the right of the given
// key. The node-level targeted deflate (deflateChild) exists; Deflate does
// not use it, and the map-level entry point remains unsupported.
func (tree *SkeletonBTreeMap) DeflateKey(key Key) (err error) {
	err = blunder.NewError(blunder.NotImplementedError, "DeflateKey not implemented")
	return
}
