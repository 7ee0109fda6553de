package skeleton

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/redwerk/plugin-Library/blunder"
)

// skeletonTreeMapStruct is the ordered key→value map local to one node.
//
// The map itself can be bare or live: Deflate marks it bare and Inflate
// marks it live again. The entry data always travels with the node in its
// serialized form, so deflation drops no state locally; what the flag buys
// is a uniform bare/live protocol with the node layer, so that a node whose
// children are all ghosts and whose entries map is bare is exactly the unit
// the archiver stores. Reads and writes on a bare map fail with not-loaded.
//
// Backed by an LLRB tree, whose rank operations (bisect, get/delete by
// index) supply the split-at-rank and range primitives the B-tree needs.
type skeletonTreeMapStruct struct {
	compare  Compare
	llrb     sortedmap.LLRBTree
	deflated bool
}

func newSkeletonTreeMap(compare Compare) (entries *skeletonTreeMapStruct) {
	entries = &skeletonTreeMapStruct{compare: compare}
	entries.llrb = sortedmap.NewLLRBTree(
		func(key1 sortedmap.Key, key2 sortedmap.Key) (result int, err error) {
			result, err = compare(key1, key2)
			return
		},
		entries)
	return
}

// DumpKey implements sortedmap.DumpCallbacks.
func (entries *skeletonTreeMapStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = fmt.Sprintf("%v", key)
	err = nil
	return
}

// DumpValue implements sortedmap.DumpCallbacks.
func (entries *skeletonTreeMapStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = fmt.Sprintf("%v", value)
	err = nil
	return
}

func (entries *skeletonTreeMapStruct) IsLive() (live bool) {
	live = !entries.deflated
	return
}

func (entries *skeletonTreeMapStruct) IsBare() (bare bool) {
	bare = entries.deflated
	return
}

// Deflate marks the map bare. Idempotent.
func (entries *skeletonTreeMapStruct) Deflate() {
	entries.deflated = true
}

// Inflate marks the map live. Idempotent.
func (entries *skeletonTreeMapStruct) Inflate() {
	entries.deflated = false
}

// InflateKey lets a bare entries map service the generic inflate-and-retry
// protocol; the whole map inflates regardless of the key.
func (entries *skeletonTreeMapStruct) InflateKey(key Key) (err error) {
	entries.Inflate()
	err = nil
	return
}

// notLoaded builds the error reads and writes return while the map is bare.
func (entries *skeletonTreeMapStruct) notLoaded(key Key) (err error) {
	err = blunder.NewError(blunder.NotLoadedError, "entries map not loaded")
	err = blunder.AddNotLoadedContext(err, entries, key, nil)
	return
}

// Len is available regardless of bare state; the entry count is structural
// metadata the node layer depends on.
func (entries *skeletonTreeMapStruct) Len() (numberOfItems int) {
	var err error
	numberOfItems, err = entries.llrb.Len()
	if nil != err {
		panic(err)
	}
	return
}

func (entries *skeletonTreeMapStruct) Get(key Key) (value Value, ok bool, err error) {
	if entries.deflated {
		err = entries.notLoaded(key)
		return
	}
	value, ok, err = entries.llrb.GetByKey(key)
	return
}

func (entries *skeletonTreeMapStruct) Put(key Key, value Value) (ok bool, err error) {
	if entries.deflated {
		err = entries.notLoaded(key)
		return
	}
	ok, err = entries.llrb.Put(key, value)
	return
}

// Patch replaces the value for an existing key.
func (entries *skeletonTreeMapStruct) Patch(key Key, value Value) (ok bool, err error) {
	if entries.deflated {
		err = entries.notLoaded(key)
		return
	}
	ok, err = entries.llrb.PatchByKey(key, value)
	return
}

func (entries *skeletonTreeMapStruct) Delete(key Key) (ok bool, err error) {
	if entries.deflated {
		err = entries.notLoaded(key)
		return
	}
	ok, err = entries.llrb.DeleteByKey(key)
	return
}

// The *Internal accessors below bypass the bare check. They are for the node
// layer and the translators, which must be able to restructure and serialize
// entry data even while the map is bare.

func (entries *skeletonTreeMapStruct) getByIndexInternal(index int) (key Key, value Value, ok bool, err error) {
	key, value, ok, err = entries.llrb.GetByIndex(index)
	return
}

func (entries *skeletonTreeMapStruct) deleteByIndexInternal(index int) (ok bool, err error) {
	ok, err = entries.llrb.DeleteByIndex(index)
	return
}

func (entries *skeletonTreeMapStruct) putInternal(key Key, value Value) (ok bool, err error) {
	ok, err = entries.llrb.Put(key, value)
	return
}

func (entries *skeletonTreeMapStruct) bisectLeftInternal(key Key) (index int, found bool, err error) {
	index, found, err = entries.llrb.BisectLeft(key)
	return
}

// splitAtRank removes the entries at ranks > rank into a fresh map and
// returns it together with the separator entry at the given rank, which is
// removed from both halves.
func (entries *skeletonTreeMapStruct) splitAtRank(rank int) (separatorKey Key, separatorValue Value, upper *skeletonTreeMapStruct, err error) {
	var (
		key   Key
		ok    bool
		value Value
	)

	upper = newSkeletonTreeMap(entries.compare)
	upper.deflated = entries.deflated

	total := entries.Len()
	for index := rank + 1; index < total; index++ {
		key, value, ok, err = entries.llrb.GetByIndex(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "splitAtRank: rank %d missing", index)
			return
		}
		_, err = upper.llrb.Put(key, value)
		if nil != err {
			return
		}
	}

	separatorKey, separatorValue, ok, err = entries.llrb.GetByIndex(rank)
	if nil != err {
		return
	}
	if !ok {
		err = blunder.NewError(blunder.IllegalStateError, "splitAtRank: separator rank %d missing", rank)
		return
	}

	// trim the lower half down to [0, rank)
	for index := total - 1; index >= rank; index-- {
		ok, err = entries.llrb.DeleteByIndex(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "splitAtRank: rank %d vanished", index)
			return
		}
	}

	err = nil
	return
}

// absorb merges all entries of other into this map. The key ranges must be
// disjoint; the caller guarantees it.
func (entries *skeletonTreeMapStruct) absorb(other *skeletonTreeMapStruct) (err error) {
	var (
		key   Key
		ok    bool
		value Value
	)

	total := other.Len()
	for index := 0; index < total; index++ {
		key, value, ok, err = other.llrb.GetByIndex(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "absorb: rank %d missing", index)
			return
		}
		_, err = entries.llrb.Put(key, value)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// EachStrictlyBetween walks, in order, the entries whose keys lie strictly
// between the two bounds; a nil bound is unbounded on that side.
func (entries *skeletonTreeMapStruct) EachStrictlyBetween(lkey Key, rkey Key, callback func(key Key, value Value) (keepGoing bool, err error)) (err error) {
	if entries.deflated {
		err = entries.notLoaded(lkey)
		return
	}
	err = entries.eachStrictlyBetweenInternal(lkey, rkey, callback)
	return
}

func (entries *skeletonTreeMapStruct) eachStrictlyBetweenInternal(lkey Key, rkey Key, callback func(key Key, value Value) (keepGoing bool, err error)) (err error) {
	var (
		found     bool
		keepGoing bool
		key       Key
		ok        bool
		start     int
		value     Value
	)

	if nil == lkey {
		start = 0
	} else {
		start, found, err = entries.llrb.BisectRight(lkey)
		if nil != err {
			return
		}
		if found {
			start++ // strictly between: skip the bound itself
		}
	}

	total := entries.Len()
	for index := start; index < total; index++ {
		key, value, ok, err = entries.llrb.GetByIndex(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "eachStrictlyBetween: rank %d missing", index)
			return
		}
		if nil != rkey {
			var result int
			result, err = entries.compare(key, rkey)
			if nil != err {
				return
			}
			if result >= 0 {
				break
			}
		}
		keepGoing, err = callback(key, value)
		if nil != err {
			return
		}
		if !keepGoing {
			return
		}
	}

	err = nil
	return
}

// eachInternal walks the entries in order, bypassing the bare check.
func (entries *skeletonTreeMapStruct) eachInternal(callback func(key Key, value Value) (keepGoing bool, err error)) (err error) {
	var (
		keepGoing bool
		key       Key
		ok        bool
		value     Value
	)

	total := entries.Len()
	for index := 0; index < total; index++ {
		key, value, ok, err = entries.llrb.GetByIndex(index)
		if nil != err {
			return
		}
		if !ok {
			err = blunder.NewError(blunder.IllegalStateError, "eachInternal: rank %d missing", index)
			return
		}
		keepGoing, err = callback(key, value)
		if nil != err {
			return
		}
		if !keepGoing {
			return
		}
	}

	err = nil
	return
}
