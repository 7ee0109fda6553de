package skeleton

import (
	"math/rand"
	"testing"

	"github.com/redwerk/plugin-Library/blunder"
)

func TestEmptyTree(t *testing.T) {
	tree, err := NewSkeletonBTreeMap(CompareInt, 2)
	if nil != err {
		t.Fatalf("NewSkeletonBTreeMap() failed: %v", err)
	}

	if 0 != tree.Len() {
		t.Fatalf("empty tree Len() == %d", tree.Len())
	}
	if !tree.IsLive() {
		t.Fatalf("empty tree not live")
	}

	_, ok, err := tree.Get(1)
	if nil != err {
		t.Fatalf("Get() on empty tree failed: %v", err)
	}
	if ok {
		t.Fatalf("Get() on empty tree found something")
	}

	ok, err = tree.Remove(1)
	if nil != err {
		t.Fatalf("Remove() on empty tree failed: %v", err)
	}
	if ok {
		t.Fatalf("Remove() on empty tree removed something")
	}
}

func TestConstructorRejections(t *testing.T) {
	_, err := NewSkeletonBTreeMap(nil, 2)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("nil compare returned %v, expected invalid-arg", err)
	}

	_, err = NewSkeletonBTreeMap(CompareInt, 0)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("nodeMin 0 returned %v, expected invalid-arg", err)
	}
}

func TestNilKeyReserved(t *testing.T) {
	tree, _ := NewSkeletonBTreeMap(CompareInt, 2)

	_, _, err := tree.Get(nil)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("Get(nil) returned %v, expected invalid-arg", err)
	}
	_, err = tree.Put(nil, "x")
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("Put(nil) returned %v, expected invalid-arg", err)
	}
	_, err = tree.Remove(nil)
	if blunder.IsNot(err, blunder.InvalidArgError) {
		t.Fatalf("Remove(nil) returned %v, expected invalid-arg", err)
	}
}

func TestPutGetReplace(t *testing.T) {
	tree, _ := NewSkeletonBTreeMap(CompareInt, 2)

	for key := 1; key <= 50; key++ {
		ok, err := tree.Put(key, testValue(key))
		if nil != err {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
		if !ok {
			t.Fatalf("Put(%d) reported replace on first insert", key)
		}
	}

	ok, err := tree.Put(25, "replaced")
	if nil != err {
		t.Fatalf("replacing Put(25) failed: %v", err)
	}
	if ok {
		t.Fatalf("replacing Put(25) reported a fresh insert")
	}
	if 50 != tree.Len() {
		t.Fatalf("Len() == %d after replace, expected 50", tree.Len())
	}

	value, ok, err := tree.Get(25)
	if nil != err {
		t.Fatalf("Get(25) failed: %v", err)
	}
	if !ok || (value.(string) != "replaced") {
		t.Fatalf("Get(25) == %v/%v after replace", value, ok)
	}

	err = tree.Validate()
	if nil != err {
		t.Fatalf("Validate() failed: %v", err)
	}
}

func TestOrderedIteration(t *testing.T) {
	tree, _ := NewSkeletonBTreeMap(CompareInt, 2)

	// insert in a scrambled order
	prng := rand.New(rand.NewSource(0x5EED))
	keys := prng.Perm(500)
	for _, key := range keys {
		_, err := tree.Put(key, testValue(key))
		if nil != err {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
	}

	collected := collectKeys(t, tree)
	if 500 != len(collected) {
		t.Fatalf("iteration returned %d keys, expected 500", len(collected))
	}
	for i, key := range collected {
		if key != i {
			t.Fatalf("collected[%d] == %d", i, key)
		}
	}

	// early stop
	var seen int
	err := tree.Each(func(key Key, value Value) bool {
		seen++
		return seen < 10
	})
	if nil != err {
		t.Fatalf("Each() failed: %v", err)
	}
	if 10 != seen {
		t.Fatalf("early-stopped iteration saw %d entries, expected 10", seen)
	}
}

func TestRemoveAll(t *testing.T) {
	tree, _ := NewSkeletonBTreeMap(CompareInt, 2)

	const count = 300
	for key := 0; key < count; key++ {
		_, err := tree.Put(key, testValue(key))
		if nil != err {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
	}

	for key := 0; key < count; key++ {
		ok, err := tree.Remove(key)
		if nil != err {
			t.Fatalf("Remove(%d) failed: %v", key, err)
		}
		if !ok {
			t.Fatalf("Remove(%d) found nothing", key)
		}
		if 0 == key%50 {
			err = tree.Validate()
			if nil != err {
				t.Fatalf("Validate() after Remove(%d) failed: %v", key, err)
			}
		}
	}

	if 0 != tree.Len() {
		t.Fatalf("Len() == %d after removing everything", tree.Len())
	}
	err := tree.Validate()
	if nil != err {
		t.Fatalf("Validate() on emptied tree failed: %v", err)
	}
}

// Insert a block of keys, randomly remove half, and hold the structural
// invariants (fan-out, range contiguity, size consistency) throughout.
func TestInvariantsUnderChurn(t *testing.T) {
	const count = 10000

	tree, err := NewSkeletonBTreeMap(CompareInt, 2)
	if nil != err {
		t.Fatalf("NewSkeletonBTreeMap() failed: %v", err)
	}

	for key := 0; key < count; key++ {
		_, err = tree.Put(key, testValue(key))
		if nil != err {
			t.Fatalf("Put(%d) failed: %v", key, err)
		}
		if 0 == key%500 {
			err = tree.Validate()
			if nil != err {
				t.Fatalf("Validate() after Put(%d) failed: %v", key, err)
			}
		}
	}

	prng := rand.New(rand.NewSource(0xB7EE))
	removed := make(map[int]bool)
	for _, key := range prng.Perm(count)[:count/2] {
		ok, removeErr := tree.Remove(key)
		if nil != removeErr {
			t.Fatalf("Remove(%d) failed: %v", key, removeErr)
		}
		if !ok {
			t.Fatalf("Remove(%d) found nothing", key)
		}
		removed[key] = true
		if 0 == len(removed)%500 {
			err = tree.Validate()
			if nil != err {
				t.Fatalf("Validate() during removal failed: %v", err)
			}
		}
	}

	if count/2 != tree.Len() {
		t.Fatalf("Len() == %d after churn, expected %d", tree.Len(), count/2)
	}
	err = tree.Validate()
	if nil != err {
		t.Fatalf("Validate() after churn failed: %v", err)
	}

	for key := 0; key < count; key++ {
		_, ok, getErr := tree.Get(key)
		if nil != getErr {
			t.Fatalf("Get(%d) failed: %v", key, getErr)
		}
		if ok == removed[key] {
			t.Fatalf("Get(%d) presence %v does not match removal record", key, ok)
		}
	}
}

func TestStringKeys(t *testing.T) {
	tree, _ := NewSkeletonBTreeMap(CompareString, 3)

	words := []string{"pear", "apple", "quince", "fig", "banana", "mango", "lime", "date", "cherry", "kiwi", "olive", "plum"}
	for i, word := range words {
		_, err := tree.Put(word, i)
		if nil != err {
			t.Fatalf("Put(%q) failed: %v", word, err)
		}
	}

	var collected []string
	err := tree.Each(func(key Key, value Value) bool {
		collected = append(collected, key.(string))
		return true
	})
	if nil != err {
		t.Fatalf("Each() failed: %v", err)
	}

	for i := 1; i < len(collected); i++ {
		if collected[i-1] >= collected[i] {
			t.Fatalf("iteration out of order: %q before %q", collected[i-1], collected[i])
		}
	}
	if len(collected) != len(words) {
		t.Fatalf("iteration returned %d keys, expected %d", len(collected), len(words))
	}
}
